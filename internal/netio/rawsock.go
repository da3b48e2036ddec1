package netio

import (
	"errors"
	"net/netip"
)

// -------------------------------------------------------------------------
// Transport Metadata
// -------------------------------------------------------------------------

// PacketMeta carries the transport-layer facts a demultiplexer needs to
// route a datagram: where it came from, where it landed, and on which
// interface. Unlike a GTSM-validated transport, SOME/IP has no TTL/hop
// limit contract to check here.
type PacketMeta struct {
	// SrcAddr is the peer address the datagram arrived from.
	SrcAddr netip.Addr

	// DstAddr is the local address the datagram was addressed to — needed
	// to tell a unicast offer response apart from a multicast SD packet
	// when both land on the same socket.
	DstAddr netip.Addr

	// IfIndex is the interface the datagram was received on.
	IfIndex int

	// IfName is the interface name, resolved from IfIndex when available.
	IfName string
}

// -------------------------------------------------------------------------
// PacketConn Interface
// -------------------------------------------------------------------------

// PacketConn abstracts datagram send/receive so that the SOME/IP and
// service-discovery engines never touch a raw socket directly. Keeping
// the surface this small lets tests substitute an in-memory conn without
// needing CAP_NET_RAW or a real interface.
type PacketConn interface {
	// ReadPacket reads a single datagram into buf. A datagram may contain
	// zero or more concatenated SOME/IP messages; demultiplexing them is
	// the caller's job, not the transport's.
	ReadPacket(buf []byte) (n int, meta PacketMeta, err error)

	// WritePacket sends buf to dst.
	WritePacket(buf []byte, dst netip.AddrPort) error

	// Close releases the underlying socket resources.
	Close() error

	// LocalAddr returns the local address and port the socket is bound to.
	LocalAddr() netip.AddrPort
}

// -------------------------------------------------------------------------
// Sentinel Errors
// -------------------------------------------------------------------------

var (
	// ErrPortExhausted indicates no ephemeral source ports remain in the
	// configured allocation range.
	ErrPortExhausted = errors.New("no source ports available")

	// ErrSocketClosed indicates an operation on a closed socket.
	ErrSocketClosed = errors.New("socket closed")

	// ErrPoolType indicates the buffer pool returned an unexpected type.
	ErrPoolType = errors.New("buffer pool returned unexpected type")

	// ErrUnexpectedConnType indicates net.ListenPacket/net.Dial returned a
	// connection type the caller did not ask for.
	ErrUnexpectedConnType = errors.New("unexpected connection type")
)
