package routing

import (
	"sync"

	"github.com/someip-go/routingd/internal/someip"
)

// ServiceKey identifies a deployed service by its (service, instance)
// pair — the granularity at which offers, requests and availability are
// tracked.
type ServiceKey struct {
	Service  someip.ServiceID
	Instance someip.InstanceID
}

// RemoteEndpoint is the send side of a connection to a remote SOME/IP
// peer that offers or consumes a service over the network, as opposed to
// a local guest reached over local IPC.
type RemoteEndpoint interface {
	SendSOMEIP(msg *someip.Message) error
}

// Offer records who currently provides a (service, instance): either a
// local guest (identified by its client ID) or a remote endpoint.
type Offer struct {
	Service someip.ServiceID
	Instance someip.InstanceID
	Major   someip.MajorVersion
	Minor   someip.MinorVersion

	// Local is true when Client identifies the offering guest; false
	// when Endpoint identifies the remote peer instead.
	Local    bool
	Client   someip.ClientID
	Endpoint RemoteEndpoint
}

// Table is the routing host's view of who offers, and who requests, each
// service in the system. At most one local offer may exist per
// (service, instance); a remote offer for the same key is rejected while
// a local one stands.
type Table struct {
	mu         sync.RWMutex
	offers     map[ServiceKey]*Offer
	requesters map[ServiceKey]map[someip.ClientID]struct{}
}

// NewTable creates an empty routing table.
func NewTable() *Table {
	return &Table{
		offers:     make(map[ServiceKey]*Offer),
		requesters: make(map[ServiceKey]map[someip.ClientID]struct{}),
	}
}

// Offer registers offer in the table. A local offer always replaces a
// prior local offer from the same client (re-offer after config reload);
// a remote offer is rejected with ErrLocalOfferExists if a local offer is
// already present for the same key.
func (t *Table) Offer(offer Offer) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := ServiceKey{Service: offer.Service, Instance: offer.Instance}
	if existing, ok := t.offers[key]; ok && existing.Local && !offer.Local {
		return ErrLocalOfferExists
	}

	o := offer
	t.offers[key] = &o
	return nil
}

// Withdraw removes the offer for key if it is still owned by the same
// origin (client for a local offer, endpoint for a remote one). Returns
// true if an offer was removed.
func (t *Table) Withdraw(key ServiceKey, local bool, client someip.ClientID, endpoint RemoteEndpoint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.offers[key]
	if !ok || existing.Local != local {
		return false
	}
	if local && existing.Client != client {
		return false
	}
	if !local && existing.Endpoint != endpoint {
		return false
	}

	delete(t.offers, key)
	return true
}

// WithdrawAllByClient removes every local offer owned by client, returning
// the keys that were withdrawn — used when a guest disconnects.
func (t *Table) WithdrawAllByClient(client someip.ClientID) []ServiceKey {
	t.mu.Lock()
	defer t.mu.Unlock()

	var withdrawn []ServiceKey
	for key, o := range t.offers {
		if o.Local && o.Client == client {
			delete(t.offers, key)
			withdrawn = append(withdrawn, key)
		}
	}
	return withdrawn
}

// Lookup returns the current offer for key, if any.
func (t *Table) Lookup(key ServiceKey) (Offer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	o, ok := t.offers[key]
	if !ok {
		return Offer{}, false
	}
	return *o, true
}

// IsAvailable reports whether key currently has an offerer, local or
// remote.
func (t *Table) IsAvailable(key ServiceKey) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, ok := t.offers[key]
	return ok
}

// AddRequester adds client to the requester set of key. Returns true if
// the service is already available, so the caller can push an immediate
// availability event.
func (t *Table) AddRequester(key ServiceKey, client someip.ClientID) (alreadyAvailable bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.requesters[key]
	if !ok {
		set = make(map[someip.ClientID]struct{})
		t.requesters[key] = set
	}
	set[client] = struct{}{}

	_, available := t.offers[key]
	return available
}

// RemoveRequester removes client from the requester set of key.
func (t *Table) RemoveRequester(key ServiceKey, client someip.ClientID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.requesters[key]
	if !ok {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(t.requesters, key)
	}
}

// RemoveRequesterEverywhere drops client from every requester set —
// used on guest disconnect.
func (t *Table) RemoveRequesterEverywhere(client someip.ClientID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, set := range t.requesters {
		delete(set, client)
		if len(set) == 0 {
			delete(t.requesters, key)
		}
	}
}

// Requesters returns a snapshot of the clients currently requesting key.
func (t *Table) Requesters(key ServiceKey) []someip.ClientID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	set, ok := t.requesters[key]
	if !ok {
		return nil
	}
	out := make([]someip.ClientID, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// ResolveService returns the instance of the single remote offer
// currently known for service, when exactly one exists. It reports false
// when zero or more than one remote instance is offered, since the
// service ID alone is then ambiguous.
func (t *Table) ResolveService(service someip.ServiceID) (someip.InstanceID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var found someip.InstanceID
	count := 0
	for key, o := range t.offers {
		if key.Service != service || o.Local {
			continue
		}
		found = key.Instance
		count++
		if count > 1 {
			return 0, false
		}
	}
	if count != 1 {
		return 0, false
	}
	return found, true
}

// Offers returns a snapshot of every current offer, for ROUTING_INFO
// broadcasts.
func (t *Table) Offers() []Offer {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Offer, 0, len(t.offers))
	for _, o := range t.offers {
		out = append(out, *o)
	}
	return out
}
