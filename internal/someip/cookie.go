package someip

import "bytes"

// Magic cookie: a distinguished 16-byte message used to resynchronize
// framing on byte-stream (TCP, local-IPC stream) transports. It is a
// well-formed SOME/IP message with fixed, recognizable field values, so a
// resyncing scanner can find it with a plain byte search rather than a
// protocol-aware parse.

const (
	cookieService               = 0xFFFF
	cookieMethodClientToService = 0x0000
	cookieMethodServiceToClient = 0x8000
	cookieLength                = 8
	cookieClient                = 0xDEAD
	cookieSession               = 0xBEEF
	cookieProtocolVersion       = 0x01
	cookieInterfaceVersion      = 0x01
)

// ClientCookie is the exact 16 bytes sent client→service to mark a resync
// point in the outbound direction, matching vsomeip's CLIENT_COOKIE.
var ClientCookie = [HeaderSize]byte{
	0xFF, 0xFF, 0x00, 0x00, 0x00, 0x00, 0x00, 0x08,
	0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x01, 0x01, 0x00,
}

// ServiceCookie is the exact 16 bytes sent service→client, matching
// vsomeip's SERVICE_COOKIE.
var ServiceCookie = [HeaderSize]byte{
	0xFF, 0xFF, 0x80, 0x00, 0x00, 0x00, 0x00, 0x08,
	0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x01, 0x02, 0x00,
}

// Direction selects which of the two cookie byte patterns applies.
type Direction uint8

const (
	// DirectionClientToService is used by a routing guest (or TCP client
	// connection) sending toward the service/routing host.
	DirectionClientToService Direction = iota
	// DirectionServiceToClient is used by the offerer/service side
	// replying toward the client.
	DirectionServiceToClient
)

// CookieBytes returns the 16-byte magic cookie pattern for dir.
func CookieBytes(dir Direction) [HeaderSize]byte {
	if dir == DirectionServiceToClient {
		return ServiceCookie
	}
	return ClientCookie
}

// IsMagicCookie reports whether msg is a magic cookie message (by field
// values, not by raw bytes — useful once a message has already been
// decoded by DecodeMessage) and, if so, which direction it carries.
func IsMagicCookie(msg *Message) (Direction, bool) {
	if msg.Service != cookieService || len(msg.Payload) != 0 ||
		msg.Client != cookieClient || msg.Session != cookieSession ||
		msg.ProtocolVersion != cookieProtocolVersion ||
		msg.InterfaceVersion != cookieInterfaceVersion ||
		msg.ReturnCode != ReturnCodeOK {
		return 0, false
	}
	switch msg.Method {
	case cookieMethodClientToService:
		return DirectionClientToService, true
	case cookieMethodServiceToClient:
		return DirectionServiceToClient, true
	default:
		return 0, false
	}
}

// FindCookie scans buf for the first occurrence of either direction's
// magic cookie pattern and returns its byte offset and direction. It
// returns ok=false if neither pattern appears.
//
// Used by a TCP/local-IPC endpoint's resync path: on a decode
// failure or an over-length header, the endpoint discards the bytes
// before the returned offset and resumes framing at the cookie.
func FindCookie(buf []byte) (offset int, dir Direction, ok bool) {
	if ci := bytes.Index(buf, ClientCookie[:]); ci >= 0 {
		offset, dir, ok = ci, DirectionClientToService, true
	}
	if si := bytes.Index(buf, ServiceCookie[:]); si >= 0 && (!ok || si < offset) {
		offset, dir, ok = si, DirectionServiceToClient, true
	}
	return offset, dir, ok
}
