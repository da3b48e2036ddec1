package ipc_test

import (
	"net"
	"testing"
	"time"

	"github.com/someip-go/routingd/internal/ipc"
)

func TestCommandWriterReaderRoundTrip(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	w := ipc.NewCommandWriter(client)
	r := ipc.NewCommandReader(server, 0)

	payload := []byte("hello guest")
	errCh := make(chan error, 1)
	go func() { errCh <- w.Send(ipc.CommandSendMessage, 0x0042, payload, true) }()

	got, err := r.Next(t.Context())
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("send: %v", err)
	}

	if got.Header.ID != ipc.CommandSendMessage || got.Header.Sender != 0x0042 {
		t.Errorf("got header %+v", got.Header)
	}
	if string(got.Payload) != "hello guest" {
		t.Errorf("payload = %q, want %q", got.Payload, "hello guest")
	}
}

// TestCommandWriterCoalescesBeforeFlush verifies that a Send without
// flush=true is not written until the flush timer fires.
func TestCommandWriterCoalescesBeforeFlush(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	w := ipc.NewCommandWriter(client, ipc.WithCommandFlushInterval(20*time.Millisecond))
	r := ipc.NewCommandReader(server, 0)

	done := make(chan struct{})
	go func() {
		_ = w.Send(ipc.CommandPing, 0, nil, false)
		close(done)
	}()
	<-done

	recvCh := make(chan ipc.Command, 1)
	go func() {
		got, err := r.Next(t.Context())
		if err == nil {
			recvCh <- got
		}
	}()

	select {
	case <-recvCh:
		t.Fatal("command arrived before the flush timer fired")
	case <-time.After(5 * time.Millisecond):
	}

	select {
	case got := <-recvCh:
		if got.Header.ID != ipc.CommandPing {
			t.Errorf("got %+v, want PING", got.Header)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command never arrived after the flush timer should have fired")
	}
}

func TestCommandWriterClosedRejectsSend(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	defer server.Close()

	w := ipc.NewCommandWriter(client)
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := w.Send(ipc.CommandPing, 0, nil, true); err == nil {
		t.Error("Send on a closed writer should fail")
	}
}

func TestCommandReaderRejectsOversizedPayload(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	w := ipc.NewCommandWriter(client)
	r := ipc.NewCommandReader(server, 4)

	go func() { _ = w.Send(ipc.CommandSendMessage, 0, []byte("too long"), true) }()

	if _, err := r.Next(t.Context()); err == nil {
		t.Error("Next should reject a payload larger than maxPayload")
	}
}

func TestCommandReaderReassemblesMultipleCommands(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	w := ipc.NewCommandWriter(client)
	r := ipc.NewCommandReader(server, 0)

	go func() {
		_ = w.Send(ipc.CommandOfferService, 1, []byte("a"), false)
		_ = w.Send(ipc.CommandRequestService, 2, []byte("bb"), true)
	}()

	first, err := r.Next(t.Context())
	if err != nil {
		t.Fatalf("next(1): %v", err)
	}
	second, err := r.Next(t.Context())
	if err != nil {
		t.Fatalf("next(2): %v", err)
	}

	if first.Header.ID != ipc.CommandOfferService || string(first.Payload) != "a" {
		t.Errorf("first = %+v", first)
	}
	if second.Header.ID != ipc.CommandRequestService || string(second.Payload) != "bb" {
		t.Errorf("second = %+v", second)
	}
}
