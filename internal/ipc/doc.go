// Package ipc implements the local host/guest command channel: the
// 7-byte-header framing used between an application process and the
// routing host over a Unix-domain stream (or TCP, for hosts without
// local sockets), the command vocabulary itself (client assignment,
// offer/request, send, subscribe, routing-info broadcast, keep-alive),
// and the Server that terminates guest connections and drives an
// internal/routing.Hub from them.
//
// internal/routing stays transport-agnostic: it only knows about
// routing.GuestChannel. This package is the one concrete implementation
// of that interface, and the only package that owns a guest's socket.
package ipc
