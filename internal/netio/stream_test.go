package netio_test

import (
	"net"
	"testing"
	"time"

	"github.com/someip-go/routingd/internal/netio"
	"github.com/someip-go/routingd/internal/someip"
)

func TestStreamWriterReaderRoundTrip(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	w := netio.NewStreamWriter(client)
	r := netio.NewStreamReader(server)

	msg := &someip.Message{
		Service:          0x1234,
		Method:           0x5678,
		Client:           0x0001,
		Session:          0x0001,
		ProtocolVersion:  someip.ProtocolVersion,
		InterfaceVersion: 1,
		Type:             someip.MessageTypeRequest,
		ReturnCode:       someip.ReturnCodeOK,
		Payload:          []byte("hello"),
	}

	errCh := make(chan error, 1)
	go func() { errCh <- w.Send(msg, true) }()

	got, err := r.Next(t.Context())
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("send: %v", err)
	}

	if got.Service != msg.Service || got.Method != msg.Method {
		t.Errorf("got %+v, want service/method %#x/%#x", got, msg.Service, msg.Method)
	}
	if string(got.Payload) != "hello" {
		t.Errorf("payload = %q, want hello", got.Payload)
	}
}

// TestStreamWriterCoalescesBeforeFlush verifies that two Send calls
// without flush=true are not written until the flush timer fires.
func TestStreamWriterCoalescesBeforeFlush(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	w := netio.NewStreamWriter(client, netio.WithStreamFlushInterval(20*time.Millisecond))
	r := netio.NewStreamReader(server)

	msg := &someip.Message{
		Service: 0x1111, Method: 0x0001, ProtocolVersion: someip.ProtocolVersion,
		InterfaceVersion: 1, Type: someip.MessageTypeNotification, ReturnCode: someip.ReturnCodeOK,
	}

	done := make(chan struct{})
	go func() {
		_ = w.Send(msg, false)
		close(done)
	}()
	<-done

	recvCh := make(chan *someip.Message, 1)
	go func() {
		got, err := r.Next(t.Context())
		if err == nil {
			recvCh <- got
		}
	}()

	select {
	case <-recvCh:
		t.Fatal("message delivered before flush interval elapsed")
	case <-time.After(5 * time.Millisecond):
	}

	select {
	case got := <-recvCh:
		if got.Service != msg.Service {
			t.Errorf("service = %#x, want %#x", got.Service, msg.Service)
		}
	case <-time.After(time.Second):
		t.Fatal("message never delivered after flush interval")
	}
}

// TestStreamReaderResyncsOnMagicCookie verifies that garbage bytes ahead
// of a magic cookie are discarded and the reader picks back up at the
// cookie frame.
func TestStreamReaderResyncsOnMagicCookie(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cookie := someip.CookieBytes(someip.DirectionServiceToClient)
	// A 16-byte header whose length field (bytes 4-7) is zero decodes as
	// ErrMalformed immediately, forcing a resync on the very next read.
	garbage := make([]byte, someip.HeaderSize)

	go func() {
		_, _ = client.Write(garbage)
		_, _ = client.Write(cookie[:])
	}()

	r := netio.NewStreamReader(server)
	msg, err := r.Next(t.Context())
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	dir, ok := someip.IsMagicCookie(msg)
	if !ok || dir != someip.DirectionServiceToClient {
		t.Fatalf("resync did not land on a service cookie: dir=%v ok=%v", dir, ok)
	}
}
