// Package netio implements the endpoint layer: the boundary between raw
// sockets (UDP unicast/multicast, TCP, Unix-domain local-IPC streams) and
// framed SOME/IP messages. Stream writes are buffered and flushed on
// request or by a flush timer; the buffer is never flushed early by
// size, so there is no MTU-based coalescing. Byte-stream reads resync
// on the magic cookie. The package reports no connection lifecycle
// events.
//
// Linux-specific code uses golang.org/x/net/ipv4 and ipv6 for multicast
// group management and golang.org/x/sys/unix for SCM_CREDENTIALS and
// socket options.
package netio
