//go:build linux

package netio

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Credentials holds the kernel-verified identity of a local-IPC peer,
// delivered out-of-band via SCM_CREDENTIALS on a Unix domain socket.
type Credentials struct {
	PID int32
	UID uint32
	GID uint32
}

// ErrNoCredentials indicates a read on a SO_PASSCRED socket did not carry
// an SCM_CREDENTIALS control message.
var ErrNoCredentials = errors.New("netio: no SCM_CREDENTIALS in control message")

// NewUDSListener creates a Unix-domain stream listener at path. It does
// not set SO_PASSCRED; call EnablePeerCredentials on an accepted
// connection before asking for its peer's (pid, uid, gid) via
// ReadWithCredentials.
func NewUDSListener(path string) (*net.UnixListener, error) {
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, fmt.Errorf("resolve unix addr %s: %w", path, err)
	}

	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("listen unix %s: %w", path, err)
	}
	return ln, nil
}

// EnablePeerCredentials turns on SO_PASSCRED on conn so subsequent reads
// carry the sender's credentials as ancillary data.
func EnablePeerCredentials(conn *net.UnixConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("syscall conn: %w", err)
	}

	var sockErr error
	err = raw.Control(func(fd uintptr) {
		intFD := int(fd) //nolint:gosec // G115: kernel FDs are small positive integers.
		sockErr = unix.SetsockoptInt(intFD, unix.SOL_SOCKET, unix.SO_PASSCRED, 1)
	})
	if err != nil {
		return fmt.Errorf("raw conn control: %w", err)
	}
	if sockErr != nil {
		return fmt.Errorf("set SO_PASSCRED: %w", sockErr)
	}
	return nil
}

// ReadWithCredentials reads one segment from conn along with the kernel
// -verified credentials of the writer, carried as SCM_CREDENTIALS
// ancillary data. EnablePeerCredentials must have been called on conn
// first.
func ReadWithCredentials(conn *net.UnixConn, buf []byte) (int, Credentials, error) {
	oob := make([]byte, unix.CmsgSpace(unix.SizeofUcred))

	n, oobn, _, _, err := conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return 0, Credentials{}, fmt.Errorf("read with credentials: %w", err)
	}

	cred, err := parseCredentials(oob[:oobn])
	if err != nil {
		return n, Credentials{}, err
	}
	return n, cred, nil
}

func parseCredentials(oob []byte) (Credentials, error) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return Credentials{}, fmt.Errorf("parse control message: %w", err)
	}

	for i := range msgs {
		if msgs[i].Header.Level != unix.SOL_SOCKET || msgs[i].Header.Type != unix.SCM_CREDENTIALS {
			continue
		}
		ucred, err := unix.ParseUnixCredentials(&msgs[i])
		if err != nil {
			return Credentials{}, fmt.Errorf("parse credentials: %w", err)
		}
		return Credentials{PID: ucred.Pid, UID: ucred.Uid, GID: ucred.Gid}, nil
	}

	return Credentials{}, ErrNoCredentials
}
