package sd

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
)

// -------------------------------------------------------------------------
// Option wire format
// -------------------------------------------------------------------------
//
// On the wire: length(2 bytes) | type(1 byte) | reserved(1 byte) | content.
// The length field counts everything after itself except the type byte —
// i.e. it counts the reserved byte plus content, matching vsomeip's
// "m_length = 1 + content size" convention.

// OptionType identifies the kind of an SD option (1 byte).
type OptionType uint8

const (
	OptionConfiguration  OptionType = 0x01
	OptionLoadBalancing  OptionType = 0x02
	OptionIPv4Endpoint   OptionType = 0x04
	OptionIPv6Endpoint   OptionType = 0x06
	OptionIPv4Multicast  OptionType = 0x14
	OptionIPv6Multicast  OptionType = 0x16
	OptionIPv4SdEndpoint OptionType = 0x24
	OptionIPv6SdEndpoint OptionType = 0x26
)

func (t OptionType) String() string {
	switch t {
	case OptionConfiguration:
		return "Configuration"
	case OptionLoadBalancing:
		return "LoadBalancing"
	case OptionIPv4Endpoint:
		return "IPv4Endpoint"
	case OptionIPv6Endpoint:
		return "IPv6Endpoint"
	case OptionIPv4Multicast:
		return "IPv4Multicast"
	case OptionIPv6Multicast:
		return "IPv6Multicast"
	case OptionIPv4SdEndpoint:
		return "IPv4SdEndpoint"
	case OptionIPv6SdEndpoint:
		return "IPv6SdEndpoint"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(t))
	}
}

// TransportProtocol identifies the transport carried by an endpoint option.
type TransportProtocol uint8

const (
	TransportTCP TransportProtocol = 0x06
	TransportUDP TransportProtocol = 0x11
)

// Option is a decoded SD option. Exactly one of the typed accessor groups
// below is meaningful, selected by Type.
type Option struct {
	Type OptionType

	// Configuration (OptionConfiguration).
	ConfigItems map[string]string

	// LoadBalancing (OptionLoadBalancing).
	Priority uint16
	Weight   uint16

	// Endpoint/Multicast/SdEndpoint (OptionIPv4*/IPv6*).
	Address  net.IP
	Port     uint16
	Protocol TransportProtocol
}

var (
	// ErrTruncatedOption indicates fewer bytes remained than an option's
	// declared length requires.
	ErrTruncatedOption = errors.New("sd: truncated option")
	// ErrUnsupportedOption is returned by encode for an Option with no
	// recognized Type.
	ErrUnsupportedOption = errors.New("sd: unsupported option type")
)

// encodedLen returns the number of bytes Option occupies on the wire,
// including its 2-byte length prefix and 1-byte type.
func (o *Option) encodedLen() (int, error) {
	content, err := o.encodeContent()
	if err != nil {
		return 0, err
	}
	return 2 + 1 + 1 + len(content), nil // length + type + reserved + content
}

// encodeContent returns the option's payload after the reserved byte,
// i.e. everything that is not length/type/reserved.
func (o *Option) encodeContent() ([]byte, error) {
	switch o.Type {
	case OptionConfiguration:
		return encodeConfigItems(o.ConfigItems), nil
	case OptionLoadBalancing:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint16(buf[0:2], o.Priority)
		binary.BigEndian.PutUint16(buf[2:4], o.Weight)
		return buf, nil
	case OptionIPv4Endpoint, OptionIPv4Multicast, OptionIPv4SdEndpoint:
		ip4 := o.Address.To4()
		if ip4 == nil {
			return nil, fmt.Errorf("%w: %v is not an IPv4 address", ErrUnsupportedOption, o.Address)
		}
		buf := make([]byte, 8)
		copy(buf[0:4], ip4)
		buf[4] = 0 // reserved
		buf[5] = uint8(o.Protocol)
		binary.BigEndian.PutUint16(buf[6:8], o.Port)
		return buf, nil
	case OptionIPv6Endpoint, OptionIPv6Multicast, OptionIPv6SdEndpoint:
		ip6 := o.Address.To16()
		if ip6 == nil {
			return nil, fmt.Errorf("%w: %v is not an IPv6 address", ErrUnsupportedOption, o.Address)
		}
		buf := make([]byte, 20)
		copy(buf[0:16], ip6)
		buf[16] = 0 // reserved
		buf[17] = uint8(o.Protocol)
		binary.BigEndian.PutUint16(buf[18:20], o.Port)
		return buf, nil
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnsupportedOption, uint8(o.Type))
	}
}

func encodeOption(o *Option) ([]byte, error) {
	content, err := o.encodeContent()
	if err != nil {
		return nil, err
	}
	length := 1 + len(content) // reserved byte + content
	buf := make([]byte, 2+1+1+len(content))
	binary.BigEndian.PutUint16(buf[0:2], uint16(length))
	buf[2] = uint8(o.Type)
	buf[3] = 0 // reserved
	copy(buf[4:], content)
	return buf, nil
}

func decodeOption(buf []byte) (*Option, int, error) {
	if len(buf) < 3 {
		return nil, 0, ErrTruncatedOption
	}
	length := int(binary.BigEndian.Uint16(buf[0:2]))
	total := 2 + 1 + length // length field + type + (reserved+content)
	if len(buf) < total || length < 1 {
		return nil, 0, ErrTruncatedOption
	}
	typ := OptionType(buf[2])
	content := buf[4:total] // skip the reserved byte at buf[3]

	o := &Option{Type: typ}
	switch typ {
	case OptionConfiguration:
		o.ConfigItems = decodeConfigItems(content)
	case OptionLoadBalancing:
		if len(content) < 4 {
			return nil, 0, ErrTruncatedOption
		}
		o.Priority = binary.BigEndian.Uint16(content[0:2])
		o.Weight = binary.BigEndian.Uint16(content[2:4])
	case OptionIPv4Endpoint, OptionIPv4Multicast, OptionIPv4SdEndpoint:
		if len(content) < 8 {
			return nil, 0, ErrTruncatedOption
		}
		o.Address = net.IPv4(content[0], content[1], content[2], content[3])
		o.Protocol = TransportProtocol(content[5])
		o.Port = binary.BigEndian.Uint16(content[6:8])
	case OptionIPv6Endpoint, OptionIPv6Multicast, OptionIPv6SdEndpoint:
		if len(content) < 20 {
			return nil, 0, ErrTruncatedOption
		}
		addr := make(net.IP, 16)
		copy(addr, content[0:16])
		o.Address = addr
		o.Protocol = TransportProtocol(content[17])
		o.Port = binary.BigEndian.Uint16(content[18:20])
	default:
		// Unrecognized option types decode to an Option that carries
		// only its Type; the content bytes are skipped, not kept, and
		// encoding such an Option fails with ErrUnsupportedOption.
	}
	return o, total, nil
}

// -------------------------------------------------------------------------
// Configuration option key=value list
// -------------------------------------------------------------------------

func encodeConfigItems(items map[string]string) []byte {
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf []byte
	for _, k := range keys {
		entry := k + "=" + items[k]
		buf = append(buf, byte(len(entry)))
		buf = append(buf, entry...)
	}
	buf = append(buf, 0) // terminating zero-length item
	return buf
}

func decodeConfigItems(content []byte) map[string]string {
	items := make(map[string]string)
	for len(content) > 0 {
		n := int(content[0])
		content = content[1:]
		if n == 0 || n > len(content) {
			break
		}
		entry := string(content[:n])
		content = content[n:]
		if eq := strings.IndexByte(entry, '='); eq >= 0 {
			items[entry[:eq]] = entry[eq+1:]
		} else {
			items[entry] = ""
		}
	}
	return items
}

// Equal reports whether two options have identical wire encodings, used by
// the SD message encoder to deduplicate options before assigning indices:
// options with identical byte representation must collapse to a single
// entry in the options array.
func (o *Option) Equal(other *Option) bool {
	a, errA := encodeOption(o)
	b, errB := encodeOption(other)
	if errA != nil || errB != nil {
		return false
	}
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
