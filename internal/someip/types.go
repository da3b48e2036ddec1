package someip

// -------------------------------------------------------------------------
// Primitive Identifiers
// -------------------------------------------------------------------------

// ServiceID identifies a service interface (16 bit).
type ServiceID uint16

// InstanceID identifies a specific deployment of a service (16 bit).
type InstanceID uint16

// MethodID identifies a method or event within a service (16 bit).
//
// Method and event identifiers share the same numeric space: values with
// the high bit set (>= 0x8000) are conventionally events/notifications,
// but the codec does not enforce this split — it is a routing-table
// concern, not a wire-format one.
type MethodID uint16

// EventID identifies an event within a service. Distinct type from
// MethodID for readability at call sites; wire-compatible (both uint16).
type EventID uint16

// EventgroupID identifies a set of events subscribed to as a unit (16 bit).
type EventgroupID uint16

// ClientID identifies a client instance within a service consumer (16 bit).
type ClientID uint16

// SessionID is a per-(client, service, instance, method) request counter
// (16 bit), used to pair requests with responses.
type SessionID uint16

// MajorVersion is the major interface version of a service (8 bit).
type MajorVersion uint8

// MinorVersion is the minor interface version of a service (32 bit on the
// wire inside SD entries; 32 bit here for uniformity with ANY_MINOR).
type MinorVersion uint32

// TTL is a time-to-live in seconds, carried in SD entries (24 bit on the
// wire, widened to uint32 for host-side arithmetic).
type TTL uint32

// -------------------------------------------------------------------------
// Reserved Sentinels
// -------------------------------------------------------------------------

// Reserved "any"/"illegal" sentinel values shared across the SOME/IP and
// SOME/IP-SD wire formats.
const (
	AnyService    ServiceID    = 0xFFFF
	AnyInstance   InstanceID   = 0xFFFF
	AnyMethod     MethodID     = 0xFFFF
	AnyEvent      EventID      = 0xFFFF
	AnyEventgroup EventgroupID = 0xFFFF
	AnyClient     ClientID     = 0xFFFF
	AnyMajor      MajorVersion = 0xFF
	AnyMinor      MinorVersion = 0xFFFFFFFF

	// IllegalClient is the reserved client identity (zero) that is never
	// assigned to a real application. Notification and RequestNoReturn
	// messages carry this value in the clientID field.
	IllegalClient ClientID = 0x0000

	// DefaultMajor and DefaultMinor are the interface versions assumed
	// when a configuration entry does not specify one.
	DefaultMajor MajorVersion = 0x00
	DefaultMinor MinorVersion = 0x00000000

	// TTLForever is the SD entry TTL value meaning "until next reboot":
	// the offer/subscription never expires on its own, only on explicit
	// withdrawal or detection of a peer reboot.
	TTLForever TTL = 0xFFFFFF

	// TTLWithdraw is the SD entry TTL value meaning "withdraw this offer
	// or subscription immediately" (StopOffer / Unsubscribe).
	TTLWithdraw TTL = 0
)

// DefaultSDMulticastAddr and DefaultSDPort are the SOME/IP-SD default
// multicast rendezvous point.
const (
	DefaultSDMulticastAddr = "224.0.0.0"
	DefaultSDPort          = 30500
)
