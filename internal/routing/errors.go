package routing

import "errors"

// Sentinel errors for Hub operations.
var (
	// ErrClientIDExhausted indicates the 16-bit client-ID space has no
	// free value left after a bounded number of random draws.
	ErrClientIDExhausted = errors.New("routing: client id space exhausted")

	// ErrGuestNotFound indicates no guest is registered under the given
	// client ID.
	ErrGuestNotFound = errors.New("routing: guest not found")

	// ErrGuestExists indicates a guest is already registered under the
	// given client ID.
	ErrGuestExists = errors.New("routing: guest already registered")

	// ErrLocalOfferExists indicates a remote offer was rejected because a
	// local application already offers the same (service, instance).
	ErrLocalOfferExists = errors.New("routing: local offer already exists for service/instance")

	// ErrNoOfferer indicates a send or subscribe targeted a
	// (service, instance) with no known offerer.
	ErrNoOfferer = errors.New("routing: no offerer for service/instance")

	// ErrPolicyDenied indicates the access-control engine refused an
	// operation.
	ErrPolicyDenied = errors.New("routing: denied by policy")

	// ErrQueueOverflow indicates a guest or endpoint send queue is full.
	ErrQueueOverflow = errors.New("routing: send queue overflow")

	// ErrQuarantined indicates a client ID was requested while still
	// inside its post-disconnect quarantine window.
	ErrQuarantined = errors.New("routing: client id is quarantined")
)
