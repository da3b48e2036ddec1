package routing

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/someip-go/routingd/internal/netio"
	"github.com/someip-go/routingd/internal/someip"
)

// Direction identifies the kind of operation an access-control query is
// being made for.
type Direction uint8

const (
	DirectionSend Direction = iota
	DirectionOffer
	DirectionRequest
	DirectionSubscribe
)

func (d Direction) String() string {
	switch d {
	case DirectionSend:
		return "send"
	case DirectionOffer:
		return "offer"
	case DirectionRequest:
		return "request"
	case DirectionSubscribe:
		return "subscribe"
	default:
		return "unknown"
	}
}

// AccessControl is the policy engine's query surface, as seen by the
// routing host. internal/policy's Engine implements this.
type AccessControl interface {
	Allow(uid, gid uint32, service someip.ServiceID, instance someip.InstanceID, method someip.MethodID, direction Direction) bool
}

type allowAllAccessControl struct{}

func (allowAllAccessControl) Allow(uint32, uint32, someip.ServiceID, someip.InstanceID, someip.MethodID, Direction) bool {
	return true
}

// SDNotifier is the routing host's callback surface into the
// service-discovery engine: an accepted offer or request is announced
// here so the SD engine can start advertising or searching for it.
// No type in internal/sd implements it; without WithSDNotifier the Hub
// uses a no-op notifier.
type SDNotifier interface {
	NotifyOffer(key ServiceKey, major someip.MajorVersion, minor someip.MinorVersion)
	NotifyStopOffer(key ServiceKey)
	NotifyRequest(key ServiceKey)
	NotifyRelease(key ServiceKey)
	NotifySubscribe(key ServiceKey, eventgroup someip.EventgroupID, major someip.MajorVersion, ttl someip.TTL)
	NotifyUnsubscribe(key ServiceKey, eventgroup someip.EventgroupID)
}

type noopSDNotifier struct{}

func (noopSDNotifier) NotifyOffer(ServiceKey, someip.MajorVersion, someip.MinorVersion)            {}
func (noopSDNotifier) NotifyStopOffer(ServiceKey)                                                  {}
func (noopSDNotifier) NotifyRequest(ServiceKey)                                                    {}
func (noopSDNotifier) NotifyRelease(ServiceKey)                                                    {}
func (noopSDNotifier) NotifySubscribe(ServiceKey, someip.EventgroupID, someip.MajorVersion, someip.TTL) {}
func (noopSDNotifier) NotifyUnsubscribe(ServiceKey, someip.EventgroupID)                            {}

// MetricsReporter is the optional counters sink for Hub events. Never
// nil on a live Hub — NewHub installs noopMetrics when none is given,
// matching the no-op-default pattern used elsewhere in this module.
type MetricsReporter interface {
	ClientAssigned()
	ClientReleased()
	OfferAccepted()
	OfferRejected()
	MessageRelayed()
	RequestTimedOut()
	PolicyDenied()
}

type noopMetrics struct{}

func (noopMetrics) ClientAssigned()  {}
func (noopMetrics) ClientReleased()  {}
func (noopMetrics) OfferAccepted()   {}
func (noopMetrics) OfferRejected()   {}
func (noopMetrics) MessageRelayed()  {}
func (noopMetrics) RequestTimedOut() {}
func (noopMetrics) PolicyDenied()    {}

// DefaultRequestTimeout is used when no WithRequestTimeout option is
// given.
const DefaultRequestTimeout = 5 * time.Second

// HubOption configures optional Hub parameters.
type HubOption func(*Hub)

// WithAccessControl installs the policy engine queried on every
// send/offer/request/subscribe.
func WithAccessControl(ac AccessControl) HubOption {
	return func(h *Hub) {
		if ac != nil {
			h.policy = ac
		}
	}
}

// WithSDNotifier installs the service-discovery callback surface.
func WithSDNotifier(sd SDNotifier) HubOption {
	return func(h *Hub) {
		if sd != nil {
			h.sd = sd
		}
	}
}

// WithHubMetrics installs the metrics reporter.
func WithHubMetrics(mr MetricsReporter) HubOption {
	return func(h *Hub) {
		if mr != nil {
			h.metrics = mr
		}
	}
}

// WithRequestTimeout overrides DefaultRequestTimeout.
func WithRequestTimeout(d time.Duration) HubOption {
	return func(h *Hub) { h.requestTimeout = d }
}

// WithRelayForwarding enables forwarding between two remote peers
// through this host; off by default.
func WithRelayForwarding(enabled bool) HubOption {
	return func(h *Hub) { h.relayForwarding = enabled }
}

// Hub is the routing host's central authority: it owns the offer/request
// table, assigns and recycles client IDs, tracks connected guests, relays
// messages, and queries access control on every operation.
type Hub struct {
	mu     sync.RWMutex
	guests map[someip.ClientID]*Guest

	table      *Table
	clientIDs  *ClientIDAllocator
	sessions   *SessionCounters
	pending    *PendingRequests
	policy     AccessControl
	sd         SDNotifier
	metrics    MetricsReporter
	logger     *slog.Logger

	requestTimeout  time.Duration
	relayForwarding bool
}

// NewHub creates a routing Hub. quarantine is the client-ID reuse
// quarantine window, normally one cyclic_offer_delay.
func NewHub(logger *slog.Logger, quarantine time.Duration, opts ...HubOption) *Hub {
	h := &Hub{
		guests:         make(map[someip.ClientID]*Guest),
		table:          NewTable(),
		clientIDs:      NewClientIDAllocator(quarantine),
		sessions:       NewSessionCounters(),
		pending:        NewPendingRequests(),
		policy:         allowAllAccessControl{},
		sd:             noopSDNotifier{},
		metrics:        noopMetrics{},
		logger:         logger.With(slog.String("component", "routing.hub")),
		requestTimeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Table exposes the routing table for read-only inspection (e.g. when
// building a ROUTING_INFO broadcast).
func (h *Hub) Table() *Table {
	return h.table
}

// -------------------------------------------------------------------
// Guest lifecycle
// -------------------------------------------------------------------

// RegisterGuest assigns a client ID to a newly connecting application and
// registers it as ASSIGNED. hint is a statically configured client ID, or
// someip.IllegalClient to request a random one.
func (h *Hub) RegisterGuest(hint someip.ClientID, pid int32, uid, gid uint32, channel GuestChannel) (*Guest, error) {
	client, err := h.clientIDs.Allocate(hint)
	if err != nil {
		return nil, fmt.Errorf("register guest: %w", err)
	}

	g := &Guest{Client: client, PID: pid, UID: uid, GID: gid, Channel: channel}
	if s, err := transitionGuestState(GuestDisconnected, GuestEventDial); err == nil {
		g.state = s
	}
	if s, err := transitionGuestState(g.state, GuestEventHello); err == nil {
		g.state = s
	}

	h.mu.Lock()
	if _, exists := h.guests[client]; exists {
		h.mu.Unlock()
		h.clientIDs.ReleaseImmediately(client)
		return nil, ErrGuestExists
	}
	h.guests[client] = g
	h.mu.Unlock()

	h.metrics.ClientAssigned()
	h.logger.Info("guest registered",
		slog.Uint64("client", uint64(client)),
		slog.Int64("pid", int64(pid)),
		slog.Uint64("uid", uint64(uid)),
		slog.Uint64("gid", uint64(gid)),
	)
	return g, nil
}

// DisconnectGuest tears down a guest: its offers are stopped, its
// requests released, and its client ID quarantined for reuse.
func (h *Hub) DisconnectGuest(client someip.ClientID) error {
	h.mu.Lock()
	g, ok := h.guests[client]
	if !ok {
		h.mu.Unlock()
		return ErrGuestNotFound
	}
	delete(h.guests, client)
	h.mu.Unlock()

	g.state, _ = transitionGuestState(g.state, GuestEventHangup)

	for _, key := range h.table.WithdrawAllByClient(client) {
		h.sd.NotifyStopOffer(key)
	}
	h.table.RemoveRequesterEverywhere(client)
	h.sessions.Reset(client)
	h.clientIDs.Release(client)
	h.metrics.ClientReleased()

	h.logger.Info("guest disconnected", slog.Uint64("client", uint64(client)))
	return nil
}

// Guest returns the guest registered under client, if any.
func (h *Hub) Guest(client someip.ClientID) (*Guest, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	g, ok := h.guests[client]
	return g, ok
}

// -------------------------------------------------------------------
// Offering / requesting
// -------------------------------------------------------------------

// OfferService registers a local offer from client, subject to access
// control and the at-most-one-local-offerer invariant.
func (h *Hub) OfferService(client someip.ClientID, uid, gid uint32, service someip.ServiceID, instance someip.InstanceID, major someip.MajorVersion, minor someip.MinorVersion) error {
	if !h.policy.Allow(uid, gid, service, instance, someip.AnyMethod, DirectionOffer) {
		h.metrics.PolicyDenied()
		return ErrPolicyDenied
	}

	err := h.table.Offer(Offer{
		Service: service, Instance: instance, Major: major, Minor: minor,
		Local: true, Client: client,
	})
	if err != nil {
		h.metrics.OfferRejected()
		return err
	}

	h.metrics.OfferAccepted()
	key := ServiceKey{Service: service, Instance: instance}
	h.sd.NotifyOffer(key, major, minor)
	return nil
}

// StopOfferService withdraws client's local offer for (service, instance).
func (h *Hub) StopOfferService(client someip.ClientID, service someip.ServiceID, instance someip.InstanceID) {
	key := ServiceKey{Service: service, Instance: instance}
	if h.table.Withdraw(key, true, client, nil) {
		h.sd.NotifyStopOffer(key)
	}
}

// RequestService records client's interest in (service, instance),
// reporting whether it is already available so the caller can push an
// immediate availability event.
func (h *Hub) RequestService(client someip.ClientID, uid, gid uint32, service someip.ServiceID, instance someip.InstanceID) (alreadyAvailable bool, err error) {
	if !h.policy.Allow(uid, gid, service, instance, someip.AnyMethod, DirectionRequest) {
		h.metrics.PolicyDenied()
		return false, ErrPolicyDenied
	}

	key := ServiceKey{Service: service, Instance: instance}
	available := h.table.AddRequester(key, client)
	h.sd.NotifyRequest(key)
	return available, nil
}

// ReleaseService withdraws client's interest in (service, instance).
func (h *Hub) ReleaseService(client someip.ClientID, service someip.ServiceID, instance someip.InstanceID) {
	key := ServiceKey{Service: service, Instance: instance}
	h.table.RemoveRequester(key, client)
	h.sd.NotifyRelease(key)
}

// Subscribe checks policy for client's subscription to an eventgroup and,
// if allowed, forwards it to the service-discovery engine. The caller is
// responsible for answering with SUBSCRIBE_ACK/NACK based on the error
// returned here.
func (h *Hub) Subscribe(client someip.ClientID, uid, gid uint32, service someip.ServiceID, instance someip.InstanceID, eventgroup someip.EventgroupID, major someip.MajorVersion, ttl someip.TTL) error {
	if !h.policy.Allow(uid, gid, service, instance, someip.MethodID(eventgroup), DirectionSubscribe) {
		h.metrics.PolicyDenied()
		return ErrPolicyDenied
	}

	key := ServiceKey{Service: service, Instance: instance}
	h.sd.NotifySubscribe(key, eventgroup, major, ttl)
	return nil
}

// Unsubscribe withdraws client's eventgroup subscription.
func (h *Hub) Unsubscribe(client someip.ClientID, service someip.ServiceID, instance someip.InstanceID, eventgroup someip.EventgroupID) {
	key := ServiceKey{Service: service, Instance: instance}
	h.sd.NotifyUnsubscribe(key, eventgroup)
}

// -------------------------------------------------------------------
// Message relay
// -------------------------------------------------------------------

// Relay routes msg, sent by sender toward (service, instance), to its
// current offerer — locally via the guest's channel, or remotely via the
// endpoint's transport. If msg is a Request, a pending entry is recorded
// so an unanswered request eventually surfaces E_TIMEOUT to sender.
func (h *Hub) Relay(senderClient someip.ClientID, uid, gid uint32, service someip.ServiceID, instance someip.InstanceID, msg *someip.Message) error {
	if !h.policy.Allow(uid, gid, service, instance, msg.Method, DirectionSend) {
		h.metrics.PolicyDenied()
		return ErrPolicyDenied
	}

	key := ServiceKey{Service: service, Instance: instance}
	offer, ok := h.table.Lookup(key)
	if !ok {
		return ErrNoOfferer
	}

	if msg.Type == someip.MessageTypeRequest {
		h.pending.Track(service, instance, senderClient, msg.Session, h.requestTimeout, func() {
			h.metrics.RequestTimedOut()
			h.deliverError(senderClient, msg, someip.ReturnCodeTimeout)
		})
	}

	if err := h.deliverToOffer(offer, msg); err != nil {
		if msg.Type == someip.MessageTypeRequest {
			h.pending.Resolve(service, instance, senderClient, msg.Session)
		}
		return err
	}

	h.metrics.MessageRelayed()
	return nil
}

func (h *Hub) deliverToOffer(offer Offer, msg *someip.Message) error {
	if offer.Local {
		return h.deliverToGuest(offer.Client, msg)
	}
	if offer.Endpoint == nil {
		return ErrNoOfferer
	}
	return offer.Endpoint.SendSOMEIP(msg)
}

func (h *Hub) deliverToGuest(client someip.ClientID, msg *someip.Message) error {
	g, ok := h.Guest(client)
	if !ok {
		return ErrNoOfferer
	}
	encoded, err := someip.EncodeMessage(msg, int(someip.HeaderSize)+len(msg.Payload))
	if err != nil {
		return fmt.Errorf("routing: encode relayed message: %w", err)
	}
	return g.Channel.DeliverCommand(ipcSendMessageCommand, encoded)
}

// ipcSendMessageCommand is the SEND_MESSAGE command ID. Duplicated here,
// rather than imported from internal/ipc, to avoid a
// routing<->ipc import cycle: ipc depends on routing for the Hub it
// drives, not the other way around.
const ipcSendMessageCommand = 0x40

func (h *Hub) deliverError(client someip.ClientID, original *someip.Message, code someip.ReturnCode) {
	errMsg := &someip.Message{
		Service:          original.Service,
		Method:           original.Method,
		Client:           original.Client,
		Session:          original.Session,
		ProtocolVersion:  someip.ProtocolVersion,
		InterfaceVersion: original.InterfaceVersion,
		Type:             someip.MessageTypeError,
		ReturnCode:       code,
	}
	if err := h.deliverToGuest(client, errMsg); err != nil {
		h.logger.Warn("failed to deliver synthesized error",
			slog.Uint64("client", uint64(client)),
			slog.String("error", err.Error()),
		)
	}
}

// HandleResponse resolves the pending entry a Response or Error answers.
// Callers (guest response forwarding, remote endpoint receive path) call
// this before relaying the response onward, so a duplicate or stale
// reply can be detected and dropped.
func (h *Hub) HandleResponse(service someip.ServiceID, instance someip.InstanceID, msg *someip.Message) bool {
	return h.pending.Resolve(service, instance, msg.Client, msg.Session)
}

// DeliverResponse forwards a Response or Error message to the guest
// identified by msg.Client, the original requester. Unlike Relay, which
// resolves (service, instance) to the offerer, a response's destination
// is the client field the offerer echoed back, so this bypasses the
// offer table entirely — the same path Demux uses for responses arriving
// from a remote endpoint.
func (h *Hub) DeliverResponse(msg *someip.Message) error {
	return h.deliverToGuest(msg.Client, msg)
}

// NextSession returns the next session ID for a relayed request from
// client toward (service, instance, method).
func (h *Hub) NextSession(client someip.ClientID, service someip.ServiceID, instance someip.InstanceID, method someip.MethodID) someip.SessionID {
	return h.sessions.Next(client, service, instance, method)
}

// -------------------------------------------------------------------
// Inbound demultiplexing from remote peers
// -------------------------------------------------------------------

// Demux implements netio.Demuxer for messages arriving from a remote
// SOME/IP endpoint. Since the wire format carries no instance ID, the
// frame is resolved to an instance via the routing table: when exactly
// one remote-offered instance exists for the message's service, that
// single deployment is used directly. An ambiguous service (multiple
// instances sharing one endpoint) requires the endpoint layer to tag the
// instance explicitly, which is a cmd/routingd wiring concern beyond this
// package.
func (h *Hub) Demux(frame netio.Frame) error {
	instance, ok := h.table.ResolveService(frame.Message.Service)
	if !ok {
		return fmt.Errorf("routing: demux: %w", ErrNoOfferer)
	}

	if frame.Message.Type == someip.MessageTypeResponse || frame.Message.Type == someip.MessageTypeError {
		if !h.HandleResponse(frame.Message.Service, instance, frame.Message) {
			h.logger.Debug("dropping unmatched response",
				slog.Uint64("service", uint64(frame.Message.Service)),
				slog.Uint64("client", uint64(frame.Message.Client)),
			)
		}
		return h.deliverToGuest(frame.Message.Client, frame.Message)
	}

	key := ServiceKey{Service: frame.Message.Service, Instance: instance}
	offer, ok := h.table.Lookup(key)
	if !ok || !offer.Local {
		return fmt.Errorf("routing: demux: %w", ErrNoOfferer)
	}
	return h.deliverToGuest(offer.Client, frame.Message)
}
