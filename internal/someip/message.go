package someip

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// -------------------------------------------------------------------------
// Protocol Constants
// -------------------------------------------------------------------------

// ProtocolVersion is the only defined SOME/IP protocol version.
const ProtocolVersion uint8 = 1

// HeaderSize is the fixed SOME/IP message header size in bytes: service(2)
// + method(2) + length(4) + client(2) + session(2) + protocol(1) +
// interface(1) + messageType(1) + returnCode(1).
const HeaderSize = 16

// MaxPayloadUDP is the default maximum payload size over UDP transports.
const MaxPayloadUDP = 1416 - HeaderSize

// -------------------------------------------------------------------------
// MessageType
// -------------------------------------------------------------------------

// MessageType identifies the kind of a SOME/IP message (1 byte).
type MessageType uint8

const (
	MessageTypeRequest            MessageType = 0x00
	MessageTypeRequestNoReturn    MessageType = 0x01
	MessageTypeNotification       MessageType = 0x02
	MessageTypeRequestAck         MessageType = 0x40
	MessageTypeRequestNoReturnAck MessageType = 0x41
	MessageTypeNotificationAck    MessageType = 0x42
	MessageTypeResponse           MessageType = 0x80
	MessageTypeError              MessageType = 0x81
	MessageTypeResponseAck        MessageType = 0xC0
	MessageTypeErrorAck           MessageType = 0xC1
	MessageTypeUnknown            MessageType = 0xFF
)

var messageTypeNames = map[MessageType]string{
	MessageTypeRequest:            "Request",
	MessageTypeRequestNoReturn:    "RequestNoReturn",
	MessageTypeNotification:       "Notification",
	MessageTypeRequestAck:         "RequestAck",
	MessageTypeRequestNoReturnAck: "RequestNoReturnAck",
	MessageTypeNotificationAck:    "NotificationAck",
	MessageTypeResponse:           "Response",
	MessageTypeError:              "Error",
	MessageTypeResponseAck:        "ResponseAck",
	MessageTypeErrorAck:           "ErrorAck",
	MessageTypeUnknown:            "Unknown",
}

// String returns the human-readable name for the message type.
func (m MessageType) String() string {
	if name, ok := messageTypeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(0x%02x)", uint8(m))
}

// IsAck reports whether m is one of the *Ack variants (0x40-0x42, 0xC0-0xC1).
func (m MessageType) IsAck() bool {
	switch m {
	case MessageTypeRequestAck, MessageTypeRequestNoReturnAck, MessageTypeNotificationAck,
		MessageTypeResponseAck, MessageTypeErrorAck:
		return true
	default:
		return false
	}
}

// ExpectsResponse reports whether a message of this type carries a session
// that the sender expects to see answered (i.e. MessageTypeRequest).
func (m MessageType) ExpectsResponse() bool {
	return m == MessageTypeRequest
}

// -------------------------------------------------------------------------
// ReturnCode
// -------------------------------------------------------------------------

// ReturnCode reports the outcome of a request (1 byte).
type ReturnCode uint8

const (
	ReturnCodeOK               ReturnCode = 0x00
	ReturnCodeNotOK            ReturnCode = 0x01
	ReturnCodeUnknownService   ReturnCode = 0x02
	ReturnCodeUnknownMethod    ReturnCode = 0x03
	ReturnCodeNotReady         ReturnCode = 0x04
	ReturnCodeNotReachable     ReturnCode = 0x05
	ReturnCodeTimeout          ReturnCode = 0x06
	ReturnCodeWrongProtocol    ReturnCode = 0x07
	ReturnCodeWrongInterface   ReturnCode = 0x08
	ReturnCodeMalformedMessage ReturnCode = 0x09
	ReturnCodeWrongMessageType ReturnCode = 0x0A
	ReturnCodeUnknown          ReturnCode = 0xFF
)

var returnCodeNames = map[ReturnCode]string{
	ReturnCodeOK:               "E_OK",
	ReturnCodeNotOK:            "E_NOT_OK",
	ReturnCodeUnknownService:   "E_UNKNOWN_SERVICE",
	ReturnCodeUnknownMethod:    "E_UNKNOWN_METHOD",
	ReturnCodeNotReady:         "E_NOT_READY",
	ReturnCodeNotReachable:     "E_NOT_REACHABLE",
	ReturnCodeTimeout:          "E_TIMEOUT",
	ReturnCodeWrongProtocol:    "E_WRONG_PROTOCOL_VERSION",
	ReturnCodeWrongInterface:   "E_WRONG_INTERFACE_VERSION",
	ReturnCodeMalformedMessage: "E_MALFORMED_MESSAGE",
	ReturnCodeWrongMessageType: "E_WRONG_MESSAGE_TYPE",
	ReturnCodeUnknown:          "E_UNKNOWN",
}

// String returns the human-readable name for the return code.
func (r ReturnCode) String() string {
	if name, ok := returnCodeNames[r]; ok {
		return name
	}
	return fmt.Sprintf("E_UNKNOWN(0x%02x)", uint8(r))
}

// -------------------------------------------------------------------------
// Message
// -------------------------------------------------------------------------

// Message is a decoded SOME/IP message: the 16-byte header plus an opaque
// payload. The codec never inspects bytes beyond the header (spec Non-goal:
// payload-opaque).
type Message struct {
	Service          ServiceID
	Method           MethodID
	Client           ClientID
	Session          SessionID
	ProtocolVersion  uint8
	InterfaceVersion uint8
	Type             MessageType
	ReturnCode       ReturnCode
	Payload          []byte
}

// Length returns the value that belongs in the wire header's length field:
// 8 (client..returnCode) plus the payload length.
func (m *Message) Length() uint32 {
	return 8 + uint32(len(m.Payload))
}

// RequestKey identifies the (service, method, client, session) tuple used
// to pair a Request with its Response.
type RequestKey struct {
	Service ServiceID
	Method  MethodID
	Client  ClientID
	Session SessionID
}

// Key returns the request/response pairing key for m.
func (m *Message) Key() RequestKey {
	return RequestKey{Service: m.Service, Method: m.Method, Client: m.Client, Session: m.Session}
}

// -------------------------------------------------------------------------
// Codec Errors
// -------------------------------------------------------------------------

var (
	// ErrIncomplete indicates fewer bytes are available than the header
	// declares as the full message length; the caller should wait for more
	// data (TCP) or drop the datagram (UDP).
	ErrIncomplete = errors.New("someip: incomplete message")

	// ErrTooShort indicates fewer than 8 bytes are available — not even
	// the length field can be read yet.
	ErrTooShort = errors.New("someip: buffer shorter than header")

	// ErrMalformed indicates a structurally invalid header: a length field
	// claiming fewer than 8 bytes of header remainder, or (in strict mode)
	// an unrecognized message type.
	ErrMalformed = errors.New("someip: malformed header")

	// ErrPayloadTooLarge indicates EncodeMessage was asked to encode a
	// payload that would overflow maxSize.
	ErrPayloadTooLarge = errors.New("someip: payload exceeds maximum message size")
)

// -------------------------------------------------------------------------
// EncodeMessage / DecodeMessage
// -------------------------------------------------------------------------

// EncodeMessage serializes m into a newly allocated byte slice. It always
// succeeds as long as the resulting message does not exceed maxSize bytes;
// maxSize <= 0 means unlimited (TCP with no configured cap).
func EncodeMessage(m *Message, maxSize int) ([]byte, error) {
	total := HeaderSize + len(m.Payload)
	if maxSize > 0 && total > maxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, total, maxSize)
	}
	buf := make([]byte, total)
	EncodeMessageInto(buf, m)
	return buf, nil
}

// EncodeMessageInto serializes m into buf, which must be at least
// HeaderSize+len(m.Payload) bytes. It never allocates; callers may supply a
// pooled buffer.
func EncodeMessageInto(buf []byte, m *Message) {
	binary.BigEndian.PutUint16(buf[0:2], uint16(m.Service))
	binary.BigEndian.PutUint16(buf[2:4], uint16(m.Method))
	binary.BigEndian.PutUint32(buf[4:8], m.Length())
	binary.BigEndian.PutUint16(buf[8:10], uint16(m.Client))
	binary.BigEndian.PutUint16(buf[10:12], uint16(m.Session))
	buf[12] = m.ProtocolVersion
	buf[13] = m.InterfaceVersion
	buf[14] = uint8(m.Type)
	buf[15] = uint8(m.ReturnCode)
	copy(buf[HeaderSize:], m.Payload)
}

// DecodeMessage parses a Message from the front of buf. It returns the
// decoded message and the number of bytes consumed (HeaderSize + payload
// length), or an error. ErrTooShort and ErrIncomplete are recoverable: the
// caller should retain buf (or its undecoded suffix) and retry once more
// bytes arrive. ErrMalformed is terminal for the current framing and
// should trigger resync (TCP) or a dropped datagram (UDP).
//
// strict, when true, rejects message types not present in the enumeration
// above; callers forwarding opaque traffic (a pure relay) may pass false.
func DecodeMessage(buf []byte, strict bool) (*Message, int, error) {
	if len(buf) < 8 {
		return nil, 0, ErrTooShort
	}
	length := binary.BigEndian.Uint32(buf[4:8])
	if length < 8 {
		return nil, 0, fmt.Errorf("%w: length field %d < 8", ErrMalformed, length)
	}
	total := 8 + int(length)
	if len(buf) < total {
		return nil, 0, ErrIncomplete
	}
	if len(buf) < HeaderSize {
		return nil, 0, ErrTooShort
	}

	m := &Message{
		Service:          ServiceID(binary.BigEndian.Uint16(buf[0:2])),
		Method:           MethodID(binary.BigEndian.Uint16(buf[2:4])),
		Client:           ClientID(binary.BigEndian.Uint16(buf[8:10])),
		Session:          SessionID(binary.BigEndian.Uint16(buf[10:12])),
		ProtocolVersion:  buf[12],
		InterfaceVersion: buf[13],
		Type:             MessageType(buf[14]),
		ReturnCode:       ReturnCode(buf[15]),
	}

	if strict {
		if _, known := messageTypeNames[m.Type]; !known {
			return nil, 0, fmt.Errorf("%w: unknown message type 0x%02x", ErrMalformed, buf[14])
		}
	}

	if payloadLen := total - HeaderSize; payloadLen > 0 {
		m.Payload = make([]byte, payloadLen)
		copy(m.Payload, buf[HeaderSize:total])
	}

	return m, total, nil
}
