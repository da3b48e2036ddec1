package sd_test

import (
	"testing"
	"time"

	"github.com/someip-go/routingd/internal/sd"
)

func TestDebounceNoFilterForwardsEverything(t *testing.T) {
	t.Parallel()

	d := sd.NewDebouncer(sd.Filter{})
	now := time.Unix(0, 0)
	if !d.ShouldForward([]byte{1, 2, 3}, now) {
		t.Fatal("first update should always forward")
	}
	if !d.ShouldForward([]byte{1, 2, 3}, now) {
		t.Fatal("identical update should still forward with no filter configured")
	}
}

func TestDebounceOnChangeSuppressesIdentical(t *testing.T) {
	t.Parallel()

	d := sd.NewDebouncer(sd.Filter{OnChange: true})
	now := time.Unix(0, 0)
	if !d.ShouldForward([]byte{1, 2, 3}, now) {
		t.Fatal("first update should forward")
	}
	if d.ShouldForward([]byte{1, 2, 3}, now) {
		t.Fatal("identical update should be suppressed")
	}
	if !d.ShouldForward([]byte{1, 9, 3}, now) {
		t.Fatal("changed update should forward")
	}
}

func TestDebounceMaskIgnoresBytes(t *testing.T) {
	t.Parallel()

	d := sd.NewDebouncer(sd.Filter{OnChange: true, Mask: []byte{1, 0, 1}})
	now := time.Unix(0, 0)
	d.ShouldForward([]byte{1, 2, 3}, now)
	if d.ShouldForward([]byte{1, 99, 3}, now) {
		t.Fatal("a change only in a masked-out byte should not forward")
	}
	if !d.ShouldForward([]byte{5, 99, 3}, now) {
		t.Fatal("a change in a non-masked byte should forward")
	}
}

func TestDebounceMaskShorterThanPayload(t *testing.T) {
	t.Parallel()

	// Mask covers only the first byte; remaining bytes are always
	// compared.
	d := sd.NewDebouncer(sd.Filter{OnChange: true, Mask: []byte{0}})
	now := time.Unix(0, 0)
	if !d.ShouldForward([]byte{1, 2, 3}, now) {
		t.Fatal("first update should forward")
	}
	if d.ShouldForward([]byte{99, 2, 3}, now) {
		t.Fatal("masked byte change alone should not forward")
	}
	if !d.ShouldForward([]byte{99, 9, 3}, now) {
		t.Fatal("change in an unmasked byte should forward")
	}
}

func TestDebounceInterval(t *testing.T) {
	t.Parallel()

	d := sd.NewDebouncer(sd.Filter{Interval: time.Second})
	t0 := time.Unix(0, 0)
	if !d.ShouldForward([]byte{1}, t0) {
		t.Fatal("first update should forward")
	}
	if d.ShouldForward([]byte{2}, t0.Add(500*time.Millisecond)) {
		t.Fatal("update inside the interval should be suppressed")
	}
	if !d.ShouldForward([]byte{3}, t0.Add(1100*time.Millisecond)) {
		t.Fatal("update after the interval elapses should forward")
	}
}
