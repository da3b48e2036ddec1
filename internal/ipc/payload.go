package ipc

import (
	"encoding/binary"
	"fmt"

	"github.com/someip-go/routingd/internal/someip"
)

// AssignClientRequest is the ASSIGN_CLIENT payload: the guest's
// requested client-ID hint (someip.IllegalClient for "assign me any
// free ID") and its application name, used for deterministic hint
// derivation when no static ID is configured.
type AssignClientRequest struct {
	Hint someip.ClientID
	Name string
}

// EncodeAssignClientRequest serializes r: hint(2, LE) + name(rest, UTF-8).
func EncodeAssignClientRequest(r AssignClientRequest) []byte {
	buf := make([]byte, 2+len(r.Name))
	binary.LittleEndian.PutUint16(buf, uint16(r.Hint))
	copy(buf[2:], r.Name)
	return buf
}

// DecodeAssignClientRequest parses an ASSIGN_CLIENT payload.
func DecodeAssignClientRequest(buf []byte) (AssignClientRequest, error) {
	if len(buf) < 2 {
		return AssignClientRequest{}, fmt.Errorf("decode ASSIGN_CLIENT: %w", ErrShortPayload)
	}
	return AssignClientRequest{
		Hint: someip.ClientID(binary.LittleEndian.Uint16(buf)),
		Name: string(buf[2:]),
	}, nil
}

// EncodeAssignClientAck serializes the ASSIGN_CLIENT_ACK payload: the
// assigned client_t.
func EncodeAssignClientAck(client someip.ClientID) []byte {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, uint16(client))
	return buf
}

// DecodeAssignClientAck parses an ASSIGN_CLIENT_ACK payload.
func DecodeAssignClientAck(buf []byte) (someip.ClientID, error) {
	if len(buf) < 2 {
		return 0, fmt.Errorf("decode ASSIGN_CLIENT_ACK: %w", ErrShortPayload)
	}
	return someip.ClientID(binary.LittleEndian.Uint16(buf)), nil
}

// ServiceInstance is the (service, instance, major, minor) payload shape
// shared by OFFER_SERVICE, STOP_OFFER_SERVICE, REQUEST_SERVICE and
// RELEASE_SERVICE.
type ServiceInstance struct {
	Service  someip.ServiceID
	Instance someip.InstanceID
	Major    someip.MajorVersion
	Minor    someip.MinorVersion
}

// EncodeServiceInstance serializes a ServiceInstance: service(2) +
// instance(2) + major(1) + minor(4), all little-endian.
func EncodeServiceInstance(si ServiceInstance) []byte {
	buf := make([]byte, 9)
	binary.LittleEndian.PutUint16(buf[0:], uint16(si.Service))
	binary.LittleEndian.PutUint16(buf[2:], uint16(si.Instance))
	buf[4] = uint8(si.Major)
	binary.LittleEndian.PutUint32(buf[5:], uint32(si.Minor))
	return buf
}

// DecodeServiceInstance parses a ServiceInstance payload.
func DecodeServiceInstance(buf []byte) (ServiceInstance, error) {
	if len(buf) < 9 {
		return ServiceInstance{}, fmt.Errorf("decode service/instance: %w", ErrShortPayload)
	}
	return ServiceInstance{
		Service:  someip.ServiceID(binary.LittleEndian.Uint16(buf[0:])),
		Instance: someip.InstanceID(binary.LittleEndian.Uint16(buf[2:])),
		Major:    someip.MajorVersion(buf[4]),
		Minor:    someip.MinorVersion(binary.LittleEndian.Uint32(buf[5:])),
	}, nil
}

// AckStatus is the one-byte result carried by OFFER_SERVICE_ACK and
// REQUEST_SERVICE_ACK.
type AckStatus uint8

const (
	AckOK             AckStatus = 0x00
	AckDenied         AckStatus = 0x01
	AckConflict       AckStatus = 0x02
	AckUnknownService AckStatus = 0x03
)

// EncodeAck serializes a one-byte ack status.
func EncodeAck(status AckStatus) []byte {
	return []byte{uint8(status)}
}

// DecodeAck parses a one-byte ack status.
func DecodeAck(buf []byte) (AckStatus, error) {
	if len(buf) < 1 {
		return 0, fmt.Errorf("decode ack: %w", ErrShortPayload)
	}
	return AckStatus(buf[0]), nil
}

// SubscribeRequest is the SUBSCRIBE/UNSUBSCRIBE payload: the eventgroup
// a guest wants delivered, and the TTL it should be kept alive for
// (TTLWithdraw for UNSUBSCRIBE).
type SubscribeRequest struct {
	Service    someip.ServiceID
	Instance   someip.InstanceID
	Eventgroup someip.EventgroupID
	Major      someip.MajorVersion
	TTL        someip.TTL
}

// EncodeSubscribeRequest serializes a SubscribeRequest: service(2) +
// instance(2) + eventgroup(2) + major(1) + ttl(3), little-endian.
func EncodeSubscribeRequest(r SubscribeRequest) []byte {
	buf := make([]byte, 10)
	binary.LittleEndian.PutUint16(buf[0:], uint16(r.Service))
	binary.LittleEndian.PutUint16(buf[2:], uint16(r.Instance))
	binary.LittleEndian.PutUint16(buf[4:], uint16(r.Eventgroup))
	buf[6] = uint8(r.Major)
	buf[7] = uint8(r.TTL)
	buf[8] = uint8(r.TTL >> 8)
	buf[9] = uint8(r.TTL >> 16)
	return buf
}

// DecodeSubscribeRequest parses a SUBSCRIBE/UNSUBSCRIBE payload.
func DecodeSubscribeRequest(buf []byte) (SubscribeRequest, error) {
	if len(buf) < 10 {
		return SubscribeRequest{}, fmt.Errorf("decode SUBSCRIBE: %w", ErrShortPayload)
	}
	return SubscribeRequest{
		Service:    someip.ServiceID(binary.LittleEndian.Uint16(buf[0:])),
		Instance:   someip.InstanceID(binary.LittleEndian.Uint16(buf[2:])),
		Eventgroup: someip.EventgroupID(binary.LittleEndian.Uint16(buf[4:])),
		Major:      someip.MajorVersion(buf[6]),
		TTL:        someip.TTL(buf[7]) | someip.TTL(buf[8])<<8 | someip.TTL(buf[9])<<16,
	}, nil
}

// SubscribeAckPayload is the SUBSCRIBE_ACK/SUBSCRIBE_NACK payload.
type SubscribeAckPayload struct {
	Service    someip.ServiceID
	Instance   someip.InstanceID
	Eventgroup someip.EventgroupID
}

// EncodeSubscribeAck serializes a SubscribeAckPayload.
func EncodeSubscribeAck(a SubscribeAckPayload) []byte {
	buf := make([]byte, 6)
	binary.LittleEndian.PutUint16(buf[0:], uint16(a.Service))
	binary.LittleEndian.PutUint16(buf[2:], uint16(a.Instance))
	binary.LittleEndian.PutUint16(buf[4:], uint16(a.Eventgroup))
	return buf
}

// DecodeSubscribeAck parses a SUBSCRIBE_ACK/SUBSCRIBE_NACK payload.
func DecodeSubscribeAck(buf []byte) (SubscribeAckPayload, error) {
	if len(buf) < 6 {
		return SubscribeAckPayload{}, fmt.Errorf("decode SUBSCRIBE_ACK: %w", ErrShortPayload)
	}
	return SubscribeAckPayload{
		Service:    someip.ServiceID(binary.LittleEndian.Uint16(buf[0:])),
		Instance:   someip.InstanceID(binary.LittleEndian.Uint16(buf[2:])),
		Eventgroup: someip.EventgroupID(binary.LittleEndian.Uint16(buf[4:])),
	}, nil
}

// EncodeSendMessage wraps a complete SOME/IP frame for SEND_MESSAGE.
// When a peer credential is available (local-IPC transport) it is
// appended as a trailing (uid, gid) pair, each 4 bytes little-endian; the
// host runs its policy check for the message against that pair.
func EncodeSendMessage(frame []byte, uid, gid uint32, haveCreds bool) []byte {
	if !haveCreds {
		return frame
	}
	buf := make([]byte, len(frame)+8)
	copy(buf, frame)
	binary.LittleEndian.PutUint32(buf[len(frame):], uid)
	binary.LittleEndian.PutUint32(buf[len(frame)+4:], gid)
	return buf
}

// DecodeSendMessage splits a SEND_MESSAGE payload into the SOME/IP frame
// and, if present, the trailing (uid, gid) pair.
func DecodeSendMessage(payload []byte, haveCreds bool) (frame []byte, uid, gid uint32, err error) {
	if !haveCreds {
		return payload, 0, 0, nil
	}
	if len(payload) < 8 {
		return nil, 0, 0, fmt.Errorf("decode SEND_MESSAGE: %w", ErrShortPayload)
	}
	split := len(payload) - 8
	uid = binary.LittleEndian.Uint32(payload[split:])
	gid = binary.LittleEndian.Uint32(payload[split+4:])
	return payload[:split], uid, gid, nil
}

// RoutingInfoEntry is one (service, instance) row in a ROUTING_INFO
// broadcast: its current availability and, if local, the owning client.
type RoutingInfoEntry struct {
	Service  someip.ServiceID
	Instance someip.InstanceID
	Major    someip.MajorVersion
	Minor    someip.MinorVersion
	Local    bool
	Client   someip.ClientID
}

// EncodeRoutingInfo serializes a ROUTING_INFO payload: a 2-byte
// little-endian entry count followed by, per entry, service(2) +
// instance(2) + major(1) + minor(4) + local(1) + client(2).
func EncodeRoutingInfo(entries []RoutingInfoEntry) []byte {
	buf := make([]byte, 2+len(entries)*12)
	binary.LittleEndian.PutUint16(buf, uint16(len(entries)))
	off := 2
	for _, e := range entries {
		binary.LittleEndian.PutUint16(buf[off:], uint16(e.Service))
		binary.LittleEndian.PutUint16(buf[off+2:], uint16(e.Instance))
		buf[off+4] = uint8(e.Major)
		binary.LittleEndian.PutUint32(buf[off+5:], uint32(e.Minor))
		if e.Local {
			buf[off+9] = 1
		}
		binary.LittleEndian.PutUint16(buf[off+10:], uint16(e.Client))
		off += 12
	}
	return buf
}

// DecodeRoutingInfo parses a ROUTING_INFO payload.
func DecodeRoutingInfo(buf []byte) ([]RoutingInfoEntry, error) {
	if len(buf) < 2 {
		return nil, fmt.Errorf("decode ROUTING_INFO: %w", ErrShortPayload)
	}
	count := int(binary.LittleEndian.Uint16(buf))
	buf = buf[2:]
	if len(buf) < count*12 {
		return nil, fmt.Errorf("decode ROUTING_INFO: %w", ErrShortPayload)
	}
	entries := make([]RoutingInfoEntry, count)
	for i := range entries {
		off := i * 12
		entries[i] = RoutingInfoEntry{
			Service:  someip.ServiceID(binary.LittleEndian.Uint16(buf[off:])),
			Instance: someip.InstanceID(binary.LittleEndian.Uint16(buf[off+2:])),
			Major:    someip.MajorVersion(buf[off+4]),
			Minor:    someip.MinorVersion(binary.LittleEndian.Uint32(buf[off+5:])),
			Local:    buf[off+9] != 0,
			Client:   someip.ClientID(binary.LittleEndian.Uint16(buf[off+10:])),
		}
	}
	return entries, nil
}
