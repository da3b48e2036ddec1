package sd

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/someip-go/routingd/internal/someip"
)

// Flags occupies the first byte after the SOME/IP header in an SD message.
type Flags uint8

const (
	FlagReboot                     Flags = 1 << 7
	FlagUnicast                    Flags = 1 << 6
	FlagExplicitInitialDataControl Flags = 1 << 5
)

// Message is a decoded SOME/IP-SD message.
type Message struct {
	Flags   Flags
	Entries []*Entry
	Options []*Option
}

// Reboot and Unicast report individual flag bits.
func (m *Message) Reboot() bool  { return m.Flags&FlagReboot != 0 }
func (m *Message) Unicast() bool { return m.Flags&FlagUnicast != 0 }

var (
	// ErrLengthMismatch indicates the entries- or options-array length
	// prefix does not fit inside the outer SOME/IP message length.
	ErrLengthMismatch = errors.New("sd: array length exceeds message bounds")
	// ErrOptionIndexOutOfRange indicates an entry references an option
	// index beyond the options array.
	ErrOptionIndexOutOfRange = errors.New("sd: option index out of range")
)

// WrapSOMEIP wraps m as the payload of a someip.Message addressed to the
// reserved SD service/method. clientID is always 0 for SD.
func WrapSOMEIP(m *Message, session someip.SessionID) (*someip.Message, error) {
	payload, err := EncodeMessage(m)
	if err != nil {
		return nil, err
	}
	return &someip.Message{
		Service:          Service,
		Method:           Method,
		Client:           someip.IllegalClient,
		Session:          session,
		ProtocolVersion:  someip.ProtocolVersion,
		InterfaceVersion: 1,
		Type:             someip.MessageTypeNotification,
		ReturnCode:       someip.ReturnCodeOK,
		Payload:          payload,
	}, nil
}

// EncodeMessage serializes an SD message body (flags, reserved, entries
// array, options array). Entries are serialized in the
// order added; options are deduplicated by byte representation and
// entries' option indices are rewritten to point at the deduplicated
// array.
func EncodeMessage(m *Message) ([]byte, error) {
	dedupedOptions, remap := dedupeOptions(m.Options)

	entryBytes := make([]byte, 0, len(m.Entries)*EntrySize)
	for _, e := range m.Entries {
		rewritten := *e
		if e.Opts1N > 0 {
			rewritten.Opts1Idx = uint8(remap[int(e.Opts1Idx)])
		}
		if e.Opts2N > 0 {
			rewritten.Opts2Idx = uint8(remap[int(e.Opts2Idx)])
		}
		buf := make([]byte, EntrySize)
		encodeEntry(buf, &rewritten)
		entryBytes = append(entryBytes, buf...)
	}

	var optionBytes []byte
	for _, o := range dedupedOptions {
		ob, err := encodeOption(o)
		if err != nil {
			return nil, err
		}
		optionBytes = append(optionBytes, ob...)
	}

	out := make([]byte, 4, 4+4+len(entryBytes)+4+len(optionBytes))
	out[0] = uint8(m.Flags)
	// bytes 1-3 reserved, already zero.
	entriesLen := make([]byte, 4)
	binary.BigEndian.PutUint32(entriesLen, uint32(len(entryBytes)))
	out = append(out, entriesLen...)
	out = append(out, entryBytes...)

	optionsLen := make([]byte, 4)
	binary.BigEndian.PutUint32(optionsLen, uint32(len(optionBytes)))
	out = append(out, optionsLen...)
	out = append(out, optionBytes...)

	return out, nil
}

// dedupeOptions returns a deduplicated option list and a map from original
// index to deduplicated index.
func dedupeOptions(options []*Option) ([]*Option, map[int]int) {
	remap := make(map[int]int, len(options))
	var deduped []*Option
	for i, o := range options {
		found := -1
		for j, d := range deduped {
			if o.Equal(d) {
				found = j
				break
			}
		}
		if found < 0 {
			deduped = append(deduped, o)
			found = len(deduped) - 1
		}
		remap[i] = found
	}
	return deduped, remap
}

// DecodeMessage parses an SD message body. outerLen is the SOME/IP
// message's declared payload length (header.length-8), used to reject
// array lengths that would read past the enclosing frame.
func DecodeMessage(buf []byte, outerLen int) (*Message, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("%w: body shorter than flags+reserved", ErrLengthMismatch)
	}
	m := &Message{Flags: Flags(buf[0])}
	off := 4

	if off+4 > len(buf) {
		return nil, fmt.Errorf("%w: missing entries length", ErrLengthMismatch)
	}
	entriesLen := int(binary.BigEndian.Uint32(buf[off : off+4]))
	off += 4
	if entriesLen%EntrySize != 0 || off+entriesLen > len(buf) || off+entriesLen > outerLen {
		return nil, fmt.Errorf("%w: entries length %d", ErrLengthMismatch, entriesLen)
	}
	for p := off; p < off+entriesLen; p += EntrySize {
		e, err := decodeEntry(buf[p : p+EntrySize])
		if err != nil {
			return nil, err
		}
		m.Entries = append(m.Entries, e)
	}
	off += entriesLen

	if off+4 > len(buf) {
		return nil, fmt.Errorf("%w: missing options length", ErrLengthMismatch)
	}
	optionsLen := int(binary.BigEndian.Uint32(buf[off : off+4]))
	off += 4
	if off+optionsLen > len(buf) || off+optionsLen > outerLen {
		return nil, fmt.Errorf("%w: options length %d", ErrLengthMismatch, optionsLen)
	}
	end := off + optionsLen
	for off < end {
		o, n, err := decodeOption(buf[off:end])
		if err != nil {
			return nil, err
		}
		m.Options = append(m.Options, o)
		off += n
	}

	for _, e := range m.Entries {
		if e.Opts1N > 0 && int(e.Opts1Idx)+int(e.Opts1N) > len(m.Options) {
			return nil, fmt.Errorf("%w: entry opts1 [%d,%d)", ErrOptionIndexOutOfRange, e.Opts1Idx, int(e.Opts1Idx)+int(e.Opts1N))
		}
		if e.Opts2N > 0 && int(e.Opts2Idx)+int(e.Opts2N) > len(m.Options) {
			return nil, fmt.Errorf("%w: entry opts2 [%d,%d)", ErrOptionIndexOutOfRange, e.Opts2Idx, int(e.Opts2Idx)+int(e.Opts2N))
		}
	}

	return m, nil
}
