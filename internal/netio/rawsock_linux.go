//go:build linux

package netio

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"
)

// -------------------------------------------------------------------------
// LinuxPacketConn — UDP unicast/multicast datagram socket
// -------------------------------------------------------------------------

// LinuxPacketConn implements PacketConn over a standard UDP socket. When
// configured with a multicast group it joins the group on the given
// interface so the service-discovery engine can receive cyclic offers
// without a dedicated listener per group.
type LinuxPacketConn struct {
	conn      *net.UDPConn
	localAddr netip.AddrPort
	ifName    string
	closed    bool
	mu        sync.Mutex
}

// ReadPacket reads a single datagram from the socket.
func (c *LinuxPacketConn) ReadPacket(buf []byte) (int, PacketMeta, error) {
	n, src, err := c.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		return 0, PacketMeta{}, fmt.Errorf("read datagram: %w", err)
	}

	meta := PacketMeta{SrcAddr: src.Addr(), IfName: c.ifName}
	return n, meta, nil
}

// WritePacket sends buf to dst.
func (c *LinuxPacketConn) WritePacket(buf []byte, dst netip.AddrPort) error {
	_, err := c.conn.WriteToUDPAddrPort(buf, dst)
	if err != nil {
		return fmt.Errorf("write datagram to %s: %w", dst, err)
	}
	return nil
}

// Close releases the underlying socket.
func (c *LinuxPacketConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close socket: %w", err)
	}
	return nil
}

// LocalAddr returns the local address and port the socket is bound to.
func (c *LinuxPacketConn) LocalAddr() netip.AddrPort {
	return c.localAddr
}

// -------------------------------------------------------------------------
// Constructor
// -------------------------------------------------------------------------

// NewUDPListener creates a PacketConn bound to cfg.Addr:cfg.Port. When
// cfg.Multicast is set, the socket additionally joins that group on
// cfg.IfName so cyclic SD offers/finds on the well-known group address
// are delivered to this socket alongside any unicast traffic.
func NewUDPListener(ctx context.Context, cfg ListenerConfig) (*LinuxPacketConn, error) {
	laddr := netip.AddrPortFrom(cfg.Addr, cfg.Port)
	isIPv6 := laddr.Addr().Is6() && !laddr.Addr().Is4In6()

	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return setListenerOpts(c, cfg.IfName)
		},
	}

	network := "udp4"
	if isIPv6 {
		network = "udp6"
	}

	pc, err := lc.ListenPacket(ctx, network, laddr.String())
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", laddr, err)
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		closeErr := pc.Close()
		return nil, fmt.Errorf("listen %s: %w: %w", laddr, ErrUnexpectedConnType, closeErr)
	}

	if cfg.Multicast.IsValid() {
		if err := joinMulticastGroup(conn, cfg.Multicast, cfg.IfName, isIPv6); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("join multicast group %s on %s: %w", cfg.Multicast, cfg.IfName, err)
		}
	}

	return &LinuxPacketConn{
		conn:      conn,
		localAddr: laddr,
		ifName:    cfg.IfName,
	}, nil
}

// setListenerOpts sets SO_REUSEADDR (several services may share the SD
// multicast socket) and, when an interface is named, SO_BINDTODEVICE.
func setListenerOpts(c syscall.RawConn, ifName string) error {
	var sockErr error

	err := c.Control(func(fd uintptr) {
		intFD := int(fd) //nolint:gosec // G115: kernel FDs are small positive integers.

		if sockErr = unix.SetsockoptInt(intFD, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); sockErr != nil {
			sockErr = fmt.Errorf("set SO_REUSEADDR: %w", sockErr)
			return
		}
		if sockErr = unix.SetsockoptInt(intFD, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); sockErr != nil {
			sockErr = fmt.Errorf("set SO_REUSEPORT: %w", sockErr)
			return
		}
		if ifName != "" {
			if sockErr = unix.SetsockoptString(intFD, unix.SOL_SOCKET, unix.SO_BINDTODEVICE, ifName); sockErr != nil {
				sockErr = fmt.Errorf("set SO_BINDTODEVICE(%s): %w", ifName, sockErr)
			}
		}
	})
	if err != nil {
		return fmt.Errorf("raw conn control: %w", err)
	}
	return sockErr
}

// joinMulticastGroup joins the SD multicast group on the named interface
// using golang.org/x/net/ipv4 or ipv6, whichever matches the group's
// address family.
func joinMulticastGroup(conn *net.UDPConn, group netip.Addr, ifName string, isIPv6 bool) error {
	iface, err := resolveInterface(ifName)
	if err != nil {
		return err
	}

	if isIPv6 {
		p := ipv6.NewPacketConn(conn)
		return p.JoinGroup(iface, &net.UDPAddr{IP: net.IP(group.AsSlice())})
	}

	p := ipv4.NewPacketConn(conn)
	return p.JoinGroup(iface, &net.UDPAddr{IP: net.IP(group.AsSlice())})
}

// resolveInterface looks up the named interface, or returns nil (meaning
// "let the kernel pick") when ifName is empty.
func resolveInterface(ifName string) (*net.Interface, error) {
	if ifName == "" {
		return nil, nil
	}
	iface, err := net.InterfaceByName(ifName)
	if err != nil {
		return nil, fmt.Errorf("lookup interface %s: %w", ifName, err)
	}
	return iface, nil
}
