package ipc_test

import (
	"reflect"
	"testing"

	"github.com/someip-go/routingd/internal/ipc"
	"github.com/someip-go/routingd/internal/someip"
)

func TestAssignClientRequestRoundTrip(t *testing.T) {
	t.Parallel()

	want := ipc.AssignClientRequest{Hint: someip.IllegalClient, Name: "cluster-display"}
	got, err := ipc.DecodeAssignClientRequest(ipc.EncodeAssignClientRequest(want))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}

	if _, err := ipc.DecodeAssignClientRequest(nil); err == nil {
		t.Error("decode of empty payload should fail")
	}
}

func TestAssignClientAckRoundTrip(t *testing.T) {
	t.Parallel()

	want := someip.ClientID(0x4242)
	got, err := ipc.DecodeAssignClientAck(ipc.EncodeAssignClientAck(want))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Errorf("got %#x, want %#x", got, want)
	}
}

func TestServiceInstanceRoundTrip(t *testing.T) {
	t.Parallel()

	want := ipc.ServiceInstance{
		Service:  0x1234,
		Instance: 0x0001,
		Major:    1,
		Minor:    0xffffffff,
	}
	got, err := ipc.DecodeServiceInstance(ipc.EncodeServiceInstance(want))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}

	if _, err := ipc.DecodeServiceInstance(make([]byte, 3)); err == nil {
		t.Error("decode of short payload should fail")
	}
}

func TestAckRoundTrip(t *testing.T) {
	t.Parallel()

	for _, want := range []ipc.AckStatus{ipc.AckOK, ipc.AckDenied, ipc.AckConflict, ipc.AckUnknownService} {
		got, err := ipc.DecodeAck(ipc.EncodeAck(want))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}

func TestSubscribeRequestRoundTrip(t *testing.T) {
	t.Parallel()

	want := ipc.SubscribeRequest{
		Service:    0x1111,
		Instance:   0x0002,
		Eventgroup: 0x0003,
		Major:      1,
		TTL:        0x00abcdef,
	}
	got, err := ipc.DecodeSubscribeRequest(ipc.EncodeSubscribeRequest(want))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestSubscribeRequestUnsubscribeCarriesWithdrawTTL(t *testing.T) {
	t.Parallel()

	want := ipc.SubscribeRequest{Service: 0x1111, Instance: 2, Eventgroup: 3, TTL: someip.TTLWithdraw}
	got, err := ipc.DecodeSubscribeRequest(ipc.EncodeSubscribeRequest(want))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.TTL != someip.TTLWithdraw {
		t.Errorf("TTL = %v, want TTLWithdraw", got.TTL)
	}
}

func TestSubscribeAckRoundTrip(t *testing.T) {
	t.Parallel()

	want := ipc.SubscribeAckPayload{Service: 0x1111, Instance: 2, Eventgroup: 3}
	got, err := ipc.DecodeSubscribeAck(ipc.EncodeSubscribeAck(want))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestSendMessageRoundTripWithoutCredentials(t *testing.T) {
	t.Parallel()

	frame := []byte{0x12, 0x34, 0x56, 0x78}
	payload := ipc.EncodeSendMessage(frame, 0, 0, false)
	if !reflect.DeepEqual(payload, frame) {
		t.Fatalf("no-credentials encoding should pass the frame through unchanged, got %x", payload)
	}

	gotFrame, uid, gid, err := ipc.DecodeSendMessage(payload, false)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(gotFrame, frame) || uid != 0 || gid != 0 {
		t.Errorf("got frame=%x uid=%d gid=%d", gotFrame, uid, gid)
	}
}

func TestSendMessageRoundTripWithCredentials(t *testing.T) {
	t.Parallel()

	frame := []byte{0xde, 0xad, 0xbe, 0xef}
	payload := ipc.EncodeSendMessage(frame, 1000, 1000, true)

	gotFrame, uid, gid, err := ipc.DecodeSendMessage(payload, true)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(gotFrame, frame) {
		t.Errorf("frame = %x, want %x", gotFrame, frame)
	}
	if uid != 1000 || gid != 1000 {
		t.Errorf("uid/gid = %d/%d, want 1000/1000", uid, gid)
	}

	if _, _, _, err := ipc.DecodeSendMessage(make([]byte, 4), true); err == nil {
		t.Error("decode of a too-short credentialed payload should fail")
	}
}

func TestRoutingInfoRoundTrip(t *testing.T) {
	t.Parallel()

	want := []ipc.RoutingInfoEntry{
		{Service: 0x1111, Instance: 1, Major: 1, Minor: 0, Local: true, Client: 0x0042},
		{Service: 0x2222, Instance: 2, Major: 2, Minor: 5, Local: false, Client: someip.IllegalClient},
	}
	got, err := ipc.DecodeRoutingInfo(ipc.EncodeRoutingInfo(want))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestRoutingInfoEmpty(t *testing.T) {
	t.Parallel()

	got, err := ipc.DecodeRoutingInfo(ipc.EncodeRoutingInfo(nil))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %+v, want empty", got)
	}
}

func TestRoutingInfoTruncatedEntryFails(t *testing.T) {
	t.Parallel()

	buf := ipc.EncodeRoutingInfo([]ipc.RoutingInfoEntry{{Service: 1, Instance: 1}})
	if _, err := ipc.DecodeRoutingInfo(buf[:len(buf)-1]); err == nil {
		t.Error("decode of a truncated entry should fail")
	}
}
