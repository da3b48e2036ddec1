package netio

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/someip-go/routingd/internal/someip"
)

// ListenerConfig holds configuration for a UDP datagram listener.
type ListenerConfig struct {
	// Addr is the local IP address to bind to.
	Addr netip.Addr

	// IfName is the network interface name, used for SO_BINDTODEVICE and
	// multicast group membership when Multicast is set.
	IfName string

	// Port is the local UDP port (the service's configured port, or
	// someip.DefaultSDPort for the service-discovery socket).
	Port uint16

	// Multicast is the service-discovery group address to join, or the
	// zero value for a plain unicast listener.
	Multicast netip.Addr
}

// Listener wraps a PacketConn and provides a context-aware receive loop
// that demultiplexes each datagram into the zero or more SOME/IP messages
// it may carry, per the "each UDP datagram is independently reassembled"
// framing rule.
type Listener struct {
	conn PacketConn
}

// NewListener creates a Listener from the given configuration.
func NewListener(cfg ListenerConfig) (*Listener, error) {
	conn, err := createConn(cfg)
	if err != nil {
		return nil, err
	}
	return &Listener{conn: conn}, nil
}

// NewListenerFromConn creates a Listener from an existing PacketConn,
// primarily for tests driven by an in-memory transport.
func NewListenerFromConn(conn PacketConn) *Listener {
	return &Listener{conn: conn}
}

// Frame is one SOME/IP message demultiplexed from a datagram, paired with
// the transport metadata of the datagram it arrived in.
type Frame struct {
	Message *someip.Message
	Meta    PacketMeta
}

// Recv blocks until a datagram is received or ctx is cancelled, and
// returns every SOME/IP message found in it. A datagram that decodes to
// zero messages (empty read, or a malformed leading message) yields an
// empty, non-error slice so the caller's loop can simply continue.
func (l *Listener) Recv(ctx context.Context) ([]Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("listener recv: %w", err)
	}

	bufp, ok := BufferPool.Get().(*[]byte)
	if !ok {
		return nil, fmt.Errorf("listener recv: %w", ErrPoolType)
	}
	defer BufferPool.Put(bufp)

	n, meta, err := l.conn.ReadPacket(*bufp)
	if err != nil {
		return nil, fmt.Errorf("listener read: %w", err)
	}

	return demux((*bufp)[:n], meta), nil
}

// demux splits one datagram into its constituent SOME/IP messages. Each
// decoded message's payload is copied out of the shared read buffer
// before the buffer returns to the pool.
func demux(buf []byte, meta PacketMeta) []Frame {
	var frames []Frame
	for len(buf) > 0 {
		msg, n, err := someip.DecodeMessage(buf, false)
		if err != nil {
			break
		}
		payload := make([]byte, len(msg.Payload))
		copy(payload, msg.Payload)
		msg.Payload = payload
		frames = append(frames, Frame{Message: msg, Meta: meta})
		buf = buf[n:]
	}
	return frames
}

// Close closes the underlying PacketConn.
func (l *Listener) Close() error {
	if err := l.conn.Close(); err != nil {
		return fmt.Errorf("close listener: %w", err)
	}
	return nil
}

// createConn creates the appropriate PacketConn based on the config.
func createConn(cfg ListenerConfig) (PacketConn, error) {
	conn, err := NewUDPListener(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("create listener on %s:%d: %w", cfg.Addr, cfg.Port, err)
	}
	return conn, nil
}
