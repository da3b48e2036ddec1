// Package routing implements the routing-host side of the local-IPC
// protocol: client-ID assignment, the offer/request table, message relay
// between guests and remote endpoints, pending-request timeout tracking,
// and the access-control query on every send/subscribe/offer.
//
// The package is transport-agnostic: guests are represented by the
// GuestChannel interface and remote peers by the RemoteEndpoint
// interface, so internal/ipc and internal/netio supply the concrete
// wiring while this package owns only the routing state machine.
package routing
