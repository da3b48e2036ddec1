//go:build linux

package ipc

import (
	"fmt"
	"net"

	"github.com/someip-go/routingd/internal/netio"
)

// credConn wraps a *net.UnixConn so CommandReader's plain Read calls
// transparently pick up SCM_CREDENTIALS ancillary data, without the
// framing layer needing to know the transport is a Unix domain socket.
// The most recently observed credentials are cached, since a peer only
// attaches SCM_CREDENTIALS to the first sendmsg of a burst on most
// kernels.
type credConn struct {
	*net.UnixConn
	last netio.Credentials
	seen bool
}

func newCredConn(uc *net.UnixConn) (*credConn, error) {
	if err := netio.EnablePeerCredentials(uc); err != nil {
		return nil, err
	}
	return &credConn{UnixConn: uc}, nil
}

func (c *credConn) Read(buf []byte) (int, error) {
	n, cred, err := netio.ReadWithCredentials(c.UnixConn, buf)
	switch {
	case err == nil:
		c.last = cred
		c.seen = true
		return n, nil
	case n > 0:
		// The segment was read; only the SCM_CREDENTIALS ancillary data
		// was missing (most kernels only attach it to the first sendmsg
		// of a burst). Keep the data, keep the previously seen identity.
		return n, nil
	default:
		return n, err
	}
}

func (c *credConn) credentials() (netio.Credentials, bool) {
	return c.last, c.seen
}

// wrapConn sets up raw for command framing, enabling SCM_CREDENTIALS
// extraction when raw is a Unix domain socket (the default local-IPC
// transport). A TCP fallback connection carries no kernel-verified
// identity; its guest then keeps uid 0 and gid 0 for policy checks.
func (s *Server) wrapConn(raw net.Conn) (*conn, *credConn, error) {
	maxPayload := s.maxPayload

	uc, ok := raw.(*net.UnixConn)
	if !ok {
		return newConn(raw, maxPayload), nil, nil
	}

	cc, err := newCredConn(uc)
	if err != nil {
		return nil, nil, fmt.Errorf("enable peer credentials: %w", err)
	}
	return newConn(cc, maxPayload), cc, nil
}
