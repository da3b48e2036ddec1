package routing

import (
	"sync"
	"time"

	"github.com/someip-go/routingd/internal/someip"
)

// pendingKey identifies an in-flight request awaiting its paired response.
type pendingKey struct {
	Service  someip.ServiceID
	Instance someip.InstanceID
	Client   someip.ClientID
	Session  someip.SessionID
}

// pendingRequest tracks the deadline for one outstanding request so the
// host can synthesize an E_TIMEOUT response if the offerer never answers.
type pendingRequest struct {
	timer    *time.Timer
	deadline time.Time
}

// PendingRequests tracks outstanding request/response pairs across
// offerer restarts: the entry survives independently of any particular
// connection, keyed only by the tuple the eventual response will carry.
type PendingRequests struct {
	mu      sync.Mutex
	entries map[pendingKey]*pendingRequest
}

// NewPendingRequests creates an empty tracker.
func NewPendingRequests() *PendingRequests {
	return &PendingRequests{entries: make(map[pendingKey]*pendingRequest)}
}

// Track registers a pending request with the given timeout. onTimeout is
// invoked from a timer goroutine if Resolve is not called first; it is
// the caller's responsibility to synthesize and deliver the E_TIMEOUT
// response from there.
func (p *PendingRequests) Track(service someip.ServiceID, instance someip.InstanceID, client someip.ClientID, session someip.SessionID, timeout time.Duration, onTimeout func()) {
	key := pendingKey{Service: service, Instance: instance, Client: client, Session: session}

	p.mu.Lock()
	defer p.mu.Unlock()

	entry := &pendingRequest{deadline: time.Now().Add(timeout)}
	entry.timer = time.AfterFunc(timeout, func() {
		if p.remove(key) {
			onTimeout()
		}
	})
	p.entries[key] = entry
}

// Resolve cancels the pending entry for the tuple a response just
// answered, reporting whether one was found (a response with no matching
// pending entry is a stale or duplicate reply).
func (p *PendingRequests) Resolve(service someip.ServiceID, instance someip.InstanceID, client someip.ClientID, session someip.SessionID) bool {
	key := pendingKey{Service: service, Instance: instance, Client: client, Session: session}
	return p.remove(key)
}

func (p *PendingRequests) remove(key pendingKey) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[key]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(p.entries, key)
	return true
}

// Len reports the number of outstanding pending requests, for tests and
// metrics.
func (p *PendingRequests) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.entries)
}
