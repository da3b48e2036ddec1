package routing

import (
	"sync"

	"github.com/someip-go/routingd/internal/someip"
)

// sessionKey identifies the (sender, target service/instance/method) tuple
// that a session counter is scoped to.
type sessionKey struct {
	Client   someip.ClientID
	Service  someip.ServiceID
	Instance someip.InstanceID
	Method   someip.MethodID
}

// SessionCounters hands out per-tuple 16-bit session IDs. Wrapping past
// zero skips zero, since a session ID of zero would be indistinguishable
// from "session handling disabled" on the wire.
type SessionCounters struct {
	mu     sync.Mutex
	values map[sessionKey]someip.SessionID
}

// NewSessionCounters creates an empty counter set.
func NewSessionCounters() *SessionCounters {
	return &SessionCounters{values: make(map[sessionKey]someip.SessionID)}
}

// Next returns the next session ID for (client, service, instance, method),
// starting at 1 and wrapping 0xFFFF back to 1.
func (c *SessionCounters) Next(client someip.ClientID, service someip.ServiceID, instance someip.InstanceID, method someip.MethodID) someip.SessionID {
	key := sessionKey{Client: client, Service: service, Instance: instance, Method: method}

	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.values[key] + 1
	if next == 0 {
		next = 1
	}
	c.values[key] = next
	return next
}

// Reset drops the counter state for client, used on disconnect so a
// reused client ID starts counting from 1 again.
func (c *SessionCounters) Reset(client someip.ClientID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.values {
		if key.Client == client {
			delete(c.values, key)
		}
	}
}
