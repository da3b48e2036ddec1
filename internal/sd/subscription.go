package sd

import (
	"time"

	"github.com/someip-go/routingd/internal/someip"
)

// Key identifies an offered or subscribed (service, instance) pair.
type Key struct {
	Service  someip.ServiceID
	Instance someip.InstanceID
}

// SubscriptionKey identifies a single eventgroup subscription: a
// (service, instance) offer plus the eventgroup ID within it.
type SubscriptionKey struct {
	Key
	Eventgroup someip.EventgroupID
}

// SubscriptionStatus is the outcome of a SubscribeEventgroup exchange.
type SubscriptionStatus uint8

const (
	SubscriptionPending SubscriptionStatus = iota
	SubscriptionActive
	SubscriptionFailed
)

// Subscription tracks one local-to-remote eventgroup subscription (spec
// §3 "Subscription"; §4.4 "Eventgroup subscription").
type Subscription struct {
	SubscriptionKey
	Status      SubscriptionStatus
	TTL         someip.TTL
	Reliable    bool
	LastRefresh time.Time
	Retries     int
}

// Expired reports whether the subscription's TTL has lapsed as of now.
// TTLForever never expires on its own; it lasts until next reboot.
func (s *Subscription) Expired(now time.Time) bool {
	if s.TTL == someip.TTLForever {
		return false
	}
	deadline := s.LastRefresh.Add(time.Duration(s.TTL) * time.Second)
	return now.After(deadline)
}

// Refresh records a renewed Ack/subscribe at time now.
func (s *Subscription) Refresh(now time.Time, ttl someip.TTL) {
	s.LastRefresh = now
	s.TTL = ttl
	s.Status = SubscriptionActive
	s.Retries = 0
}

// -------------------------------------------------------------------------
// Reboot detection
// -------------------------------------------------------------------------

// PeerSessionTracker tracks the last-seen SD session number per remote
// peer endpoint, to detect a reboot: the peer's session counter resetting
// while its SD header carries the reboot flag.
type PeerSessionTracker struct {
	lastSession map[string]someip.SessionID
}

// NewPeerSessionTracker returns an empty tracker.
func NewPeerSessionTracker() *PeerSessionTracker {
	return &PeerSessionTracker{lastSession: make(map[string]someip.SessionID)}
}

// Observe records session for peer and reports whether this observation
// constitutes a reboot: rebootFlag is set AND the session counter did not
// simply continue incrementing from the last-seen value.
//
// A bare wrap to a low session number
// without the reboot flag is accepted (and should be counted by the
// caller as a warning), never inferred as a reboot on its own.
func (t *PeerSessionTracker) Observe(peer string, session someip.SessionID, rebootFlag bool) (isReboot bool) {
	last, known := t.lastSession[peer]
	t.lastSession[peer] = session

	if !known {
		return false
	}
	if !rebootFlag {
		return false
	}
	// A counter that keeps increasing is not a reboot. With the reboot
	// flag set, any session at or below the last-seen one is, including
	// a wrap from 0xFFFF back to 1.
	return session <= last
}

// Forget drops tracked state for peer, e.g. after its offers/subscriptions
// have been invalidated by a detected reboot.
func (t *PeerSessionTracker) Forget(peer string) {
	delete(t.lastSession, peer)
}
