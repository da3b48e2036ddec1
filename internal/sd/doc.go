// Package sd implements the SOME/IP-SD (service discovery) wire codec —
// messages, entries, and options — together with the provider ("Server")
// and consumer ("Client") finite state machines, the eventgroup
// subscription protocol, and debounce filtering for event notifications.
//
// The codec is a thin, allocation-light layer over encoding/binary, in
// the same spirit as internal/someip; the FSMs are pure functions over a
// transition table, so they can be driven deterministically by tests
// without real timers.
package sd
