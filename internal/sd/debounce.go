package sd

import "time"

// Filter configures whether and how an event's updates are forwarded to
// subscribers.
//
// A zero Filter forwards every update — the default when no debounce
// filter is configured for an event.
type Filter struct {
	// OnChange, when true, forwards an update only if its payload
	// differs from the last forwarded payload, ignoring bytes selected
	// by Mask.
	OnChange bool

	// Mask is a per-byte ignore list: Mask[i]==0 means "ignore this byte
	// when comparing for change". A mask longer than the payload is
	// truncated to len(payload); a mask shorter than the payload only
	// covers its own length and the remaining bytes are always compared.
	Mask []byte

	// Interval is the minimum duration between forwarded updates. Zero
	// means no minimum.
	Interval time.Duration

	// IntervalResetOnChange, when true together with OnChange, lets a
	// changed payload through even inside Interval. Every forward, of
	// either kind, restarts the Interval measurement.
	IntervalResetOnChange bool
}

// Debouncer tracks the per-event state needed to evaluate a Filter across
// successive updates.
type Debouncer struct {
	filter      Filter
	last        []byte
	haveLast    bool
	lastForward time.Time
}

// NewDebouncer returns a Debouncer for f.
func NewDebouncer(f Filter) *Debouncer {
	return &Debouncer{filter: f}
}

// ShouldForward reports whether payload should be forwarded to
// subscribers at time now, and records the decision's effect on internal
// state (last-seen payload, last-forward time) when it returns true.
func (d *Debouncer) ShouldForward(payload []byte, now time.Time) bool {
	f := d.filter

	changed := !d.haveLast || differs(d.last, payload, f.Mask)

	if f.OnChange && !changed {
		return false
	}

	if f.Interval > 0 && d.haveLast {
		sinceLast := now.Sub(d.lastForward)
		intervalGates := sinceLast < f.Interval
		if f.OnChange && changed && f.IntervalResetOnChange {
			intervalGates = false
		}
		if intervalGates {
			return false
		}
	}

	d.recordForward(payload, now)
	return true
}

func (d *Debouncer) recordForward(payload []byte, now time.Time) {
	d.last = append(d.last[:0], payload...)
	d.haveLast = true
	d.lastForward = now
}

// differs reports whether a and b differ at any byte position not masked
// out. mask shorter or longer than the payloads is handled per spec
// supplement: comparison is bounded by min(len(mask), len(payload)) for
// masked positions, and by the full payload length otherwise.
func differs(a, b, mask []byte) bool {
	if len(a) != len(b) {
		return true
	}
	maskLen := len(mask)
	if maskLen > len(a) {
		maskLen = len(a)
	}
	for i := 0; i < len(a); i++ {
		if i < maskLen && mask[i] == 0 {
			continue
		}
		if a[i] != b[i] {
			return true
		}
	}
	return false
}
