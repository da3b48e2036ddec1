package sd

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/someip-go/routingd/internal/someip"
)

// -------------------------------------------------------------------------
// Protocol Constants
// -------------------------------------------------------------------------

// SD messages are carried inside an ordinary SOME/IP message addressed to
// the reserved service/method pair below.
const (
	Service someip.ServiceID = 0xFFFF
	Method  someip.MethodID  = 0x8100
)

// EntrySize is the fixed on-wire size of a single SD entry.
const EntrySize = 16

// EntryType identifies the kind of an SD entry (1 byte).
type EntryType uint8

const (
	EntryFindService            EntryType = 0x00
	EntryOfferService           EntryType = 0x01 // TTL>0 offer, TTL=0 StopOffer
	EntrySubscribeEventgroup    EntryType = 0x06 // TTL>0 subscribe, TTL=0 stop
	EntrySubscribeEventgroupAck EntryType = 0x07 // TTL>0 ack, TTL=0 nack
)

func (t EntryType) String() string {
	switch t {
	case EntryFindService:
		return "FindService"
	case EntryOfferService:
		return "OfferService"
	case EntrySubscribeEventgroup:
		return "SubscribeEventgroup"
	case EntrySubscribeEventgroupAck:
		return "SubscribeEventgroupAck"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(t))
	}
}

// IsEventgroup reports whether t uses the eventgroup entry payload layout
// (bytes 12-15 carry counter+eventgroupID) rather than the service entry
// layout (bytes 12-15 carry minorVersion).
func (t EntryType) IsEventgroup() bool {
	return t == EntrySubscribeEventgroup || t == EntrySubscribeEventgroupAck
}

// Entry is a decoded SD entry.
//
// Options referenced by an entry live in the enclosing Message's Options
// slice; Opts1/Opts2 give the (start index, count) of each of the two
// option runs an entry may reference.
type Entry struct {
	Type     EntryType
	Opts1Idx uint8
	Opts2Idx uint8
	Opts1N   uint8
	Opts2N   uint8
	Service  someip.ServiceID
	Instance someip.InstanceID
	Major    someip.MajorVersion
	TTL      someip.TTL

	// Minor is valid when !Type.IsEventgroup().
	Minor someip.MinorVersion

	// Counter and Eventgroup are valid when Type.IsEventgroup().
	Counter    uint8 // 4 bits
	Eventgroup someip.EventgroupID
}

// IsStop reports whether the entry withdraws an offer or subscription
// (TTL=0 on an Offer/Subscribe entry type).
func (e *Entry) IsStop() bool {
	switch e.Type {
	case EntryOfferService, EntrySubscribeEventgroup, EntrySubscribeEventgroupAck:
		return e.TTL == someip.TTLWithdraw
	default:
		return false
	}
}

// ErrTruncatedEntry indicates fewer than EntrySize bytes remained while
// decoding an entries array.
var ErrTruncatedEntry = errors.New("sd: truncated entry")

func encodeEntry(buf []byte, e *Entry) {
	buf[0] = uint8(e.Type)
	buf[1] = e.Opts1Idx
	buf[2] = e.Opts2Idx
	buf[3] = (e.Opts1N << 4) | (e.Opts2N & 0x0F)
	binary.BigEndian.PutUint16(buf[4:6], uint16(e.Service))
	binary.BigEndian.PutUint16(buf[6:8], uint16(e.Instance))
	buf[8] = uint8(e.Major)
	ttl := uint32(e.TTL) & 0x00FFFFFF
	buf[9] = byte(ttl >> 16)
	buf[10] = byte(ttl >> 8)
	buf[11] = byte(ttl)
	if e.Type.IsEventgroup() {
		// bytes 12-13: reserved(12 bits) | counter(4 bits); reserved is
		// always zero.
		buf[12] = 0
		buf[13] = e.Counter & 0x0F
		binary.BigEndian.PutUint16(buf[14:16], uint16(e.Eventgroup))
	} else {
		binary.BigEndian.PutUint32(buf[12:16], uint32(e.Minor))
	}
}

func decodeEntry(buf []byte) (*Entry, error) {
	if len(buf) < EntrySize {
		return nil, ErrTruncatedEntry
	}
	e := &Entry{
		Type:     EntryType(buf[0]),
		Opts1Idx: buf[1],
		Opts2Idx: buf[2],
		Opts1N:   buf[3] >> 4,
		Opts2N:   buf[3] & 0x0F,
		Service:  someip.ServiceID(binary.BigEndian.Uint16(buf[4:6])),
		Instance: someip.InstanceID(binary.BigEndian.Uint16(buf[6:8])),
		Major:    someip.MajorVersion(buf[8]),
		TTL:      someip.TTL(uint32(buf[9])<<16 | uint32(buf[10])<<8 | uint32(buf[11])),
	}
	if e.Type.IsEventgroup() {
		e.Counter = buf[13] & 0x0F
		e.Eventgroup = someip.EventgroupID(binary.BigEndian.Uint16(buf[14:16]))
	} else {
		e.Minor = someip.MinorVersion(binary.BigEndian.Uint32(buf[12:16]))
	}
	return e, nil
}
