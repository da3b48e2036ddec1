//go:build linux

package netio

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// UDPSender sends framed SOME/IP datagrams over UDP. A single sender is
// reused across every remote peer reachable from a given local address,
// since the destination port travels with each SendPacket call.
type UDPSender struct {
	conn         *net.UDPConn
	logger       *slog.Logger
	mu           sync.Mutex
	closed       bool
	bindDevice   string
	multicastTTL int
}

// SenderOption configures optional UDPSender parameters.
type SenderOption func(*UDPSender)

// WithBindDevice binds the sender socket to a specific network interface
// via SO_BINDTODEVICE. Needed when more than one interface could route to
// the same multicast group.
func WithBindDevice(ifName string) SenderOption {
	return func(s *UDPSender) {
		s.bindDevice = ifName
	}
}

// WithMulticastTTL raises the outgoing multicast TTL so the service
// discovery group reaches hosts beyond the directly attached link.
// Defaults to 1 (link-local only) when unset.
func WithMulticastTTL(ttl int) SenderOption {
	return func(s *UDPSender) {
		s.multicastTTL = ttl
	}
}

func NewUDPSender(localAddr netip.Addr, srcPort uint16, logger *slog.Logger, opts ...SenderOption) (*UDPSender, error) {
	s := &UDPSender{
		logger: logger.With(
			slog.String("component", "netio.sender"),
			slog.String("local", localAddr.String()),
			slog.Uint64("src_port", uint64(srcPort)),
		),
	}
	for _, opt := range opts {
		opt(s)
	}

	isIPv6 := localAddr.Is6() && !localAddr.Is4In6()

	conn, err := dialSenderSocket(localAddr, srcPort, isIPv6, s.bindDevice, s.multicastTTL)
	if err != nil {
		return nil, fmt.Errorf("create UDP sender %s:%d: %w", localAddr, srcPort, err)
	}

	s.conn = conn
	return s, nil
}

func dialSenderSocket(localAddr netip.Addr, srcPort uint16, isIPv6 bool, bindDevice string, multicastTTL int) (*net.UDPConn, error) {
	laddr := netip.AddrPortFrom(localAddr, srcPort)

	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return setSenderOpts(c, bindDevice, isIPv6, multicastTTL)
		},
	}

	network := "udp4"
	if isIPv6 {
		network = "udp6"
	}

	pc, err := lc.ListenPacket(context.Background(), network, laddr.String())
	if err != nil {
		return nil, fmt.Errorf("listen UDP %s: %w", laddr, err)
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		closeErr := pc.Close()
		return nil, fmt.Errorf("listen UDP %s: %w: %w", laddr, ErrUnexpectedConnType, closeErr)
	}

	return conn, nil
}

func setSenderOpts(c syscall.RawConn, bindDevice string, isIPv6 bool, multicastTTL int) error {
	var sockErr error

	err := c.Control(func(fd uintptr) {
		intFD := int(fd) //nolint:gosec // G115: kernel FDs are small positive integers.

		if sockErr = unix.SetsockoptInt(intFD, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); sockErr != nil {
			sockErr = fmt.Errorf("set SO_REUSEADDR: %w", sockErr)
			return
		}
		if bindDevice != "" {
			if sockErr = unix.SetsockoptString(intFD, unix.SOL_SOCKET, unix.SO_BINDTODEVICE, bindDevice); sockErr != nil {
				sockErr = fmt.Errorf("set SO_BINDTODEVICE(%s): %w", bindDevice, sockErr)
				return
			}
		}
		if multicastTTL > 0 {
			if isIPv6 {
				sockErr = unix.SetsockoptInt(intFD, unix.IPPROTO_IPV6, unix.IPV6_MULTICAST_HOPS, multicastTTL)
			} else {
				sockErr = unix.SetsockoptInt(intFD, unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, multicastTTL)
			}
			if sockErr != nil {
				sockErr = fmt.Errorf("set multicast ttl: %w", sockErr)
			}
		}
	})
	if err != nil {
		return fmt.Errorf("raw conn control: %w", err)
	}
	return sockErr
}

// SendPacket sends buf to dst.
func (s *UDPSender) SendPacket(_ context.Context, buf []byte, dst netip.AddrPort) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("send to %s: %w", dst, ErrSocketClosed)
	}
	s.mu.Unlock()

	if _, err := s.conn.WriteToUDPAddrPort(buf, dst); err != nil {
		return fmt.Errorf("send datagram to %s: %w", dst, err)
	}
	return nil
}

// Close closes the underlying UDP connection.
func (s *UDPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("close sender socket: %w", err)
	}
	return nil
}
