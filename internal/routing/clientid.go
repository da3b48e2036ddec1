package routing

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/someip-go/routingd/internal/someip"
)

// maxAllocAttempts bounds the number of random draws ClientIDAllocator
// tries before declaring the space exhausted. With a 16-bit space this is
// only ever reached when the table is nearly full.
const maxAllocAttempts = 100

// ClientIDAllocator hands out unique, non-zero someip.ClientID values and
// keeps previously-released ones quarantined for a configurable window so
// an identity is never reused within the same SD round.
//
// Selection prefers a caller-supplied hint (a statically configured ID for
// a named application) and falls back to a random free value drawn from
// crypto/rand, retrying up to maxAllocAttempts times.
type ClientIDAllocator struct {
	mu          sync.Mutex
	allocated   map[someip.ClientID]struct{}
	quarantined map[someip.ClientID]time.Time
	quarantine  time.Duration
}

// NewClientIDAllocator creates an allocator that quarantines a released ID
// for quarantine (typically one cyclic_offer_delay) before it can be
// reused.
func NewClientIDAllocator(quarantine time.Duration) *ClientIDAllocator {
	return &ClientIDAllocator{
		allocated:   make(map[someip.ClientID]struct{}),
		quarantined: make(map[someip.ClientID]time.Time),
		quarantine:  quarantine,
	}
}

// Allocate reserves a free client ID. When hint is non-zero (not
// someip.IllegalClient) and free, it is used directly so that a
// statically configured application always gets the same identity;
// otherwise a random free ID is drawn.
func (a *ClientIDAllocator) Allocate(hint someip.ClientID) (someip.ClientID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.expireLocked()

	if hint != someip.IllegalClient && hint != someip.AnyClient && a.freeLocked(hint) {
		a.allocated[hint] = struct{}{}
		return hint, nil
	}

	for i := 0; i < maxAllocAttempts; i++ {
		var buf [2]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, fmt.Errorf("routing: draw client id: %w", err)
		}

		id := someip.ClientID(binary.BigEndian.Uint16(buf[:]))
		if id == someip.IllegalClient || id == someip.AnyClient {
			continue
		}
		if !a.freeLocked(id) {
			continue
		}

		a.allocated[id] = struct{}{}
		return id, nil
	}

	return 0, ErrClientIDExhausted
}

// freeLocked reports whether id is neither allocated nor still
// quarantined. Must be called with a.mu held.
func (a *ClientIDAllocator) freeLocked(id someip.ClientID) bool {
	if _, busy := a.allocated[id]; busy {
		return false
	}
	_, quarantined := a.quarantined[id]
	return !quarantined
}

// expireLocked drops quarantine entries whose window has elapsed. Must be
// called with a.mu held.
func (a *ClientIDAllocator) expireLocked() {
	if len(a.quarantined) == 0 {
		return
	}
	now := time.Now()
	for id, until := range a.quarantined {
		if now.After(until) {
			delete(a.quarantined, id)
		}
	}
}

// Release frees id for reuse once its quarantine window elapses. Callers
// that do not need quarantine (e.g. releasing an ID never handed to a
// peer) should use ReleaseImmediately instead.
func (a *ClientIDAllocator) Release(id someip.ClientID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.allocated, id)
	if a.quarantine > 0 {
		a.quarantined[id] = time.Now().Add(a.quarantine)
	}
}

// ReleaseImmediately frees id with no quarantine window.
func (a *ClientIDAllocator) ReleaseImmediately(id someip.ClientID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.allocated, id)
	delete(a.quarantined, id)
}

// IsAllocated reports whether id is currently allocated (not quarantined,
// not free).
func (a *ClientIDAllocator) IsAllocated(id someip.ClientID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, ok := a.allocated[id]
	return ok
}
