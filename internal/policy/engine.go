package policy

import (
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/someip-go/routingd/internal/routing"
	"github.com/someip-go/routingd/internal/someip"
)

// Mode selects how Allow behaves when no rule grants a request.
type Mode uint8

const (
	// ModeEnforced refuses anything not explicitly granted.
	ModeEnforced Mode = iota
	// ModeAudit allows everything but logs what enforced mode would have
	// refused.
	ModeAudit
	// ModeOff allows everything unconditionally and never consults the
	// rule set.
	ModeOff
)

func (m Mode) String() string {
	switch m {
	case ModeEnforced:
		return "enforced"
	case ModeAudit:
		return "audit"
	case ModeOff:
		return "off"
	default:
		return "unknown"
	}
}

// ParseMode maps a configuration string to a Mode. Unknown values fall
// back to ModeEnforced, the conservative default.
func ParseMode(s string) Mode {
	switch s {
	case "audit":
		return ModeAudit
	case "off":
		return ModeOff
	default:
		return ModeEnforced
	}
}

// AnyID is the uid/gid wildcard: a Rule with UID or GID set to AnyID
// matches every caller's uid or gid respectively.
const AnyID = ^uint32(0)

// Range is an inclusive [Min, Max] range over a 16-bit identifier space.
type Range struct {
	Min uint16
	Max uint16
}

// AnyRange matches every value in the 16-bit space.
var AnyRange = Range{Min: 0, Max: 0xFFFF}

func (r Range) contains(v uint16) bool {
	return v >= r.Min && v <= r.Max
}

// Grant is one (service, instance, method) range a rule permits for
// offer/request/send operations.
type Grant struct {
	Service  Range
	Instance Range
	Method   Range
}

// Rule describes what one (uid, gid) credential may do. UID and/or GID
// may be AnyID to match any caller's uid or gid. Grants cover
// offer/request/send; Eventgroups covers subscribe.
type Rule struct {
	UID         uint32
	GID         uint32
	Grants      []Grant
	Eventgroups []someip.EventgroupID
}

// bucketKey identifies one (uid, gid) credential, possibly with
// wildcards, as stored in a snapshot.
type bucketKey struct {
	uid uint32
	gid uint32
}

// bucket holds one credential's grants, sorted by Service.Min so Allow
// can binary-search it, plus its allowed eventgroup set.
type bucket struct {
	grants      []Grant // sorted by Service.Min, ascending, non-overlapping per rule author's contract
	eventgroups map[someip.EventgroupID]struct{}
}

// find returns the grant covering service, if any, via a sorted-range
// lookup: O(log N) to locate the candidate, O(1) to confirm the bound.
func (b bucket) find(service uint16) (Grant, bool) {
	i := sort.Search(len(b.grants), func(i int) bool {
		return b.grants[i].Service.Min > service
	}) - 1
	if i < 0 || service > b.grants[i].Service.Max {
		return Grant{}, false
	}
	return b.grants[i], true
}

// snapshot is the immutable, atomically-swapped rule set an Engine
// queries from the data path.
type snapshot struct {
	buckets map[bucketKey]bucket
}

// candidateKeys returns the (up to four) bucket keys that could grant a
// request from (uid, gid): the exact match, each single wildcard, and
// the fully wildcarded catch-all.
func candidateKeys(uid, gid uint32) [4]bucketKey {
	return [4]bucketKey{
		{uid, gid},
		{uid, AnyID},
		{AnyID, gid},
		{AnyID, AnyID},
	}
}

// Engine is the routing host's AccessControl implementation.
type Engine struct {
	mode   atomic.Uint32
	snap   atomic.Pointer[snapshot]
	logger *slog.Logger
}

// NewEngine creates an Engine in mode with no rules granted (everything
// denied until SetRules installs a rule set, unless mode is ModeOff or
// ModeAudit).
func NewEngine(logger *slog.Logger, mode Mode) *Engine {
	e := &Engine{logger: logger.With(slog.String("component", "policy.engine"))}
	e.mode.Store(uint32(mode))
	e.snap.Store(&snapshot{buckets: map[bucketKey]bucket{}})
	return e
}

// Mode returns the engine's current mode.
func (e *Engine) Mode() Mode {
	return Mode(e.mode.Load())
}

// SetMode changes the engine's mode. Safe to call concurrently with
// Allow; takes effect for the next call.
func (e *Engine) SetMode(m Mode) {
	e.mode.Store(uint32(m))
}

// SetRules atomically replaces the rule set. Must only be called from
// the routing host's control thread (configuration load or reload); the
// old snapshot remains valid for any Allow call already in flight.
func (e *Engine) SetRules(rules []Rule) {
	buckets := make(map[bucketKey]bucket, len(rules))
	for _, r := range rules {
		key := bucketKey{uid: r.UID, gid: r.GID}
		b := buckets[key]

		b.grants = append(b.grants, r.Grants...)

		if len(r.Eventgroups) > 0 {
			if b.eventgroups == nil {
				b.eventgroups = make(map[someip.EventgroupID]struct{}, len(r.Eventgroups))
			}
			for _, eg := range r.Eventgroups {
				b.eventgroups[eg] = struct{}{}
			}
		}

		buckets[key] = b
	}

	for key, b := range buckets {
		sort.Slice(b.grants, func(i, j int) bool { return b.grants[i].Service.Min < b.grants[j].Service.Min })
		buckets[key] = b
	}

	e.snap.Store(&snapshot{buckets: buckets})
}

// Allow implements routing.AccessControl. In ModeOff it always returns
// true without consulting the rule set. In ModeEnforced a denial returns
// false. In ModeAudit a denial is logged but still returns true, per the
// audit-mode contract: deny = allow + log.
func (e *Engine) Allow(uid, gid uint32, service someip.ServiceID, instance someip.InstanceID, method someip.MethodID, direction routing.Direction) bool {
	mode := e.Mode()
	if mode == ModeOff {
		return true
	}

	if e.granted(uid, gid, service, instance, method, direction) {
		return true
	}

	if mode == ModeAudit {
		e.logger.Warn("policy would deny, audit mode allows",
			slog.Uint64("uid", uint64(uid)),
			slog.Uint64("gid", uint64(gid)),
			slog.Uint64("service", uint64(service)),
			slog.Uint64("instance", uint64(instance)),
			slog.Uint64("method", uint64(method)),
			slog.String("direction", direction.String()),
		)
		return true
	}

	return false
}

func (e *Engine) granted(uid, gid uint32, service someip.ServiceID, instance someip.InstanceID, method someip.MethodID, direction routing.Direction) bool {
	snap := e.snap.Load()
	keys := candidateKeys(uid, gid)

	if direction == routing.DirectionSubscribe {
		eventgroup := someip.EventgroupID(method)
		for _, key := range keys {
			b, ok := snap.buckets[key]
			if !ok || b.eventgroups == nil {
				continue
			}
			if _, allowed := b.eventgroups[eventgroup]; allowed {
				return true
			}
		}
		return false
	}

	for _, key := range keys {
		b, ok := snap.buckets[key]
		if !ok {
			continue
		}
		grant, ok := b.find(uint16(service))
		if !ok {
			continue
		}
		if grant.Instance.contains(uint16(instance)) && grant.Method.contains(uint16(method)) {
			return true
		}
	}
	return false
}
