package ipc_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/someip-go/routingd/internal/ipc"
	"github.com/someip-go/routingd/internal/routing"
	"github.com/someip-go/routingd/internal/someip"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// pipeListener adapts a single net.Pipe pair into a net.Listener that
// yields exactly one connection, enough to drive Server.Serve against
// an in-process guest without a real socket.
type pipeListener struct {
	conns  chan net.Conn
	closed chan struct{}
}

func newPipeListener() (*pipeListener, net.Conn) {
	client, server := net.Pipe()
	l := &pipeListener{conns: make(chan net.Conn, 1), closed: make(chan struct{})}
	l.conns <- server
	return l, client
}

func (l *pipeListener) Accept() (net.Conn, error) {
	select {
	case c, ok := <-l.conns:
		if !ok {
			return nil, io.EOF
		}
		return c, nil
	case <-l.closed:
		return nil, io.EOF
	}
}

func (l *pipeListener) Close() error {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
	return nil
}

func (l *pipeListener) Addr() net.Addr { return pipeAddr{} }

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "pipe" }

func sendCommand(t *testing.T, w *ipc.CommandWriter, id ipc.CommandID, sender uint16, payload []byte) {
	t.Helper()
	if err := w.Send(id, sender, payload, true); err != nil {
		t.Fatalf("send %s: %v", id, err)
	}
}

func expectCommand(t *testing.T, r *ipc.CommandReader, want ipc.CommandID) ipc.Command {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	cmd, err := r.Next(ctx)
	if err != nil {
		t.Fatalf("waiting for %s: %v", want, err)
	}
	if cmd.Header.ID != want {
		t.Fatalf("got command %s, want %s", cmd.Header.ID, want)
	}
	return cmd
}

// TestServerAssignOfferRequestSendMessage drives a full guest
// conversation through a Server backed by a real routing.Hub: a
// provider assigns a client ID, offers a service, a consumer requests
// it, and the provider's SEND_MESSAGE response is relayed to the
// consumer.
func TestServerAssignOfferRequestSendMessage(t *testing.T) {
	t.Parallel()

	hub := routing.NewHub(testLogger(), time.Minute)
	srv := ipc.NewServer(hub, testLogger(), ipc.WithWatchdog(time.Hour, time.Hour))

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	providerListener, providerConn := newPipeListener()
	consumerListener, consumerConn := newPipeListener()
	defer providerConn.Close()
	defer consumerConn.Close()

	go func() { _ = srv.Serve(ctx, providerListener) }()
	go func() { _ = srv.Serve(ctx, consumerListener) }()

	providerW := ipc.NewCommandWriter(providerConn)
	providerR := ipc.NewCommandReader(providerConn, 0)
	consumerW := ipc.NewCommandWriter(consumerConn)
	consumerR := ipc.NewCommandReader(consumerConn, 0)

	sendCommand(t, providerW, ipc.CommandAssignClient,
		uint16(someip.IllegalClient),
		ipc.EncodeAssignClientRequest(ipc.AssignClientRequest{Hint: someip.IllegalClient, Name: "provider"}))
	ack := expectCommand(t, providerR, ipc.CommandAssignClientAck)
	providerClient, err := ipc.DecodeAssignClientAck(ack.Payload)
	if err != nil {
		t.Fatalf("decode provider ack: %v", err)
	}
	// Initial ROUTING_INFO broadcast on registration, with no offers yet.
	expectCommand(t, providerR, ipc.CommandRoutingInfo)

	sendCommand(t, consumerW, ipc.CommandAssignClient,
		uint16(someip.IllegalClient),
		ipc.EncodeAssignClientRequest(ipc.AssignClientRequest{Hint: someip.IllegalClient, Name: "consumer"}))
	consAck := expectCommand(t, consumerR, ipc.CommandAssignClientAck)
	consumerClient, err := ipc.DecodeAssignClientAck(consAck.Payload)
	if err != nil {
		t.Fatalf("decode consumer ack: %v", err)
	}
	expectCommand(t, consumerR, ipc.CommandRoutingInfo)
	// The consumer's registration rebroadcasts to every already-connected
	// guest, including the provider.
	expectCommand(t, providerR, ipc.CommandRoutingInfo)

	si := ipc.ServiceInstance{Service: 0x1234, Instance: 0x0001, Major: 1, Minor: 0}
	sendCommand(t, providerW, ipc.CommandOfferService, uint16(providerClient), ipc.EncodeServiceInstance(si))

	offerAck := expectCommand(t, providerR, ipc.CommandOfferServiceAck)
	status, err := ipc.DecodeAck(offerAck.Payload)
	if err != nil || status != ipc.AckOK {
		t.Fatalf("offer ack status = %v, err = %v", status, err)
	}
	// Offering changes the offer set, so a fresh broadcast goes to both
	// already-registered guests.
	expectCommand(t, providerR, ipc.CommandRoutingInfo)
	routingInfo := expectCommand(t, consumerR, ipc.CommandRoutingInfo)
	entries, err := ipc.DecodeRoutingInfo(routingInfo.Payload)
	if err != nil {
		t.Fatalf("decode routing info: %v", err)
	}
	if len(entries) != 1 || entries[0].Service != si.Service || entries[0].Client != providerClient {
		t.Fatalf("routing info entries = %+v", entries)
	}

	sendCommand(t, consumerW, ipc.CommandRequestService, uint16(consumerClient), ipc.EncodeServiceInstance(si))
	reqAck := expectCommand(t, consumerR, ipc.CommandRequestServiceAck)
	status, err = ipc.DecodeAck(reqAck.Payload)
	if err != nil || status != ipc.AckOK {
		t.Fatalf("request ack status = %v, err = %v", status, err)
	}
	// The service was already available, so requesting it triggers one
	// more broadcast to every connected guest.
	expectCommand(t, consumerR, ipc.CommandRoutingInfo)
	expectCommand(t, providerR, ipc.CommandRoutingInfo)

	req := &someip.Message{
		Service: si.Service, Method: 0x0001,
		Client: consumerClient, Session: 1,
		ProtocolVersion: someip.ProtocolVersion, InterfaceVersion: uint8(si.Major),
		Type: someip.MessageTypeRequest, ReturnCode: someip.ReturnCodeOK,
		Payload: []byte("ping"),
	}
	frame, err := someip.EncodeMessage(req, int(someip.HeaderSize)+len(req.Payload))
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}
	sendCommand(t, consumerW, ipc.CommandSendMessage, uint16(consumerClient), ipc.EncodeSendMessage(frame, 0, 0, false))

	delivered := expectCommand(t, providerR, ipc.CommandSendMessage)
	gotReq, _, err := someip.DecodeMessage(delivered.Payload, true)
	if err != nil {
		t.Fatalf("decode relayed request: %v", err)
	}
	if string(gotReq.Payload) != "ping" {
		t.Fatalf("relayed request payload = %q", gotReq.Payload)
	}

	resp := &someip.Message{
		Service: si.Service, Method: gotReq.Method,
		Client: gotReq.Client, Session: gotReq.Session,
		ProtocolVersion: someip.ProtocolVersion, InterfaceVersion: uint8(si.Major),
		Type: someip.MessageTypeResponse, ReturnCode: someip.ReturnCodeOK,
		Payload: []byte("pong"),
	}
	respFrame, err := someip.EncodeMessage(resp, int(someip.HeaderSize)+len(resp.Payload))
	if err != nil {
		t.Fatalf("encode response: %v", err)
	}
	sendCommand(t, providerW, ipc.CommandSendMessage, uint16(providerClient), ipc.EncodeSendMessage(respFrame, 0, 0, false))

	relayed := expectCommand(t, consumerR, ipc.CommandSendMessage)
	gotResp, _, err := someip.DecodeMessage(relayed.Payload, true)
	if err != nil {
		t.Fatalf("decode relayed response: %v", err)
	}
	if string(gotResp.Payload) != "pong" {
		t.Fatalf("relayed response payload = %q", gotResp.Payload)
	}
}

// TestServerWatchdogTearsDownUnresponsiveGuest verifies that a guest
// which never answers PING is disconnected once watchdog_timeout
// elapses.
func TestServerWatchdogTearsDownUnresponsiveGuest(t *testing.T) {
	t.Parallel()

	hub := routing.NewHub(testLogger(), time.Minute)
	srv := ipc.NewServer(hub, testLogger(), ipc.WithWatchdog(10*time.Millisecond, 20*time.Millisecond))

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	listener, conn := newPipeListener()
	defer conn.Close()
	go func() { _ = srv.Serve(ctx, listener) }()

	w := ipc.NewCommandWriter(conn)
	r := ipc.NewCommandReader(conn, 0)

	sendCommand(t, w, ipc.CommandAssignClient, uint16(someip.IllegalClient),
		ipc.EncodeAssignClientRequest(ipc.AssignClientRequest{Hint: someip.IllegalClient, Name: "silent-guest"}))
	expectCommand(t, r, ipc.CommandAssignClientAck)
	expectCommand(t, r, ipc.CommandRoutingInfo)
	expectCommand(t, r, ipc.CommandPing) // never answered with PONG.

	ctxRead, cancelRead := context.WithTimeout(t.Context(), time.Second)
	defer cancelRead()
	if _, err := r.Next(ctxRead); err == nil {
		t.Fatal("expected the connection to be torn down after the watchdog timeout")
	}
}
