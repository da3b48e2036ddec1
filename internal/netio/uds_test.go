//go:build linux

package netio_test

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/someip-go/routingd/internal/netio"
)

func TestUDSReadWithCredentials(t *testing.T) {
	t.Parallel()

	sockPath := filepath.Join(t.TempDir(), "routingd.sock")

	ln, err := netio.NewUDSListener(sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	acceptErrCh := make(chan error, 1)
	serverConnCh := make(chan *net.UnixConn, 1)
	go func() {
		conn, err := ln.AcceptUnix()
		if err != nil {
			acceptErrCh <- err
			return
		}
		serverConnCh <- conn
		acceptErrCh <- nil
	}()

	clientConn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: sockPath, Net: "unix"})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer clientConn.Close()

	if err := <-acceptErrCh; err != nil {
		t.Fatalf("accept: %v", err)
	}
	serverConn := <-serverConnCh
	defer serverConn.Close()

	if err := netio.EnablePeerCredentials(serverConn); err != nil {
		t.Fatalf("enable peer credentials: %v", err)
	}

	payload := []byte("hello")
	if _, err := clientConn.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf := make([]byte, 64)
	n, cred, err := netio.ReadWithCredentials(serverConn, buf)
	if err != nil {
		t.Fatalf("read with credentials: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("payload = %q, want hello", buf[:n])
	}
	if cred.UID != uint32(os.Getuid()) {
		t.Errorf("uid = %d, want %d", cred.UID, os.Getuid())
	}
	if cred.GID != uint32(os.Getgid()) {
		t.Errorf("gid = %d, want %d", cred.GID, os.Getgid())
	}
}
