// Package metrics exposes the routing host's Prometheus counters: client
// lifecycle, offer acceptance, relay throughput, request timeouts, and
// policy denials. Collector implements routing.MetricsReporter.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "routingd"
	subsystem = "hub"
)

// -------------------------------------------------------------------------
// Collector — Prometheus Routing Metrics
// -------------------------------------------------------------------------

// Collector holds all routing-core Prometheus metrics. It implements
// routing.MetricsReporter so it can be passed straight to
// routing.WithHubMetrics.
type Collector struct {
	// ActiveClients tracks the number of guest applications currently
	// holding an assigned client_t. Incremented on ASSIGN_CLIENT,
	// decremented when a guest's connection closes.
	ActiveClients prometheus.Gauge

	// OffersAccepted counts OFFER_SERVICE commands the hub installed into
	// the routing table.
	OffersAccepted prometheus.Counter

	// OffersRejected counts OFFER_SERVICE commands the hub refused
	// (policy denial or a conflicting existing offer).
	OffersRejected prometheus.Counter

	// MessagesRelayed counts SEND_MESSAGE commands the hub forwarded to a
	// resolved destination (request, response, notification, or error).
	MessagesRelayed prometheus.Counter

	// RequestTimeouts counts relayed requests for which no response
	// arrived before the request/response timeout elapsed.
	RequestTimeouts prometheus.Counter

	// PolicyDenials counts operations the access-control engine refused,
	// across offer, request, send, and subscribe directions.
	PolicyDenials prometheus.Counter
}

// NewCollector creates a Collector with all routing metrics registered
// against reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.ActiveClients,
		c.OffersAccepted,
		c.OffersRejected,
		c.MessagesRelayed,
		c.RequestTimeouts,
		c.PolicyDenials,
	)

	return c
}

// newMetrics creates all Prometheus metrics without registering them.
func newMetrics() *Collector {
	return &Collector{
		ActiveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active_clients",
			Help:      "Number of guest applications currently holding an assigned client_t.",
		}),

		OffersAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "offers_accepted_total",
			Help:      "Total OFFER_SERVICE commands installed into the routing table.",
		}),

		OffersRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "offers_rejected_total",
			Help:      "Total OFFER_SERVICE commands refused (policy denial or conflicting offer).",
		}),

		MessagesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_relayed_total",
			Help:      "Total SEND_MESSAGE commands forwarded to a resolved destination.",
		}),

		RequestTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "request_timeouts_total",
			Help:      "Total relayed requests for which no response arrived in time.",
		}),

		PolicyDenials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "policy_denials_total",
			Help:      "Total operations refused by the access-control engine.",
		}),
	}
}

// -------------------------------------------------------------------------
// routing.MetricsReporter
// -------------------------------------------------------------------------

// ClientAssigned implements routing.MetricsReporter.
func (c *Collector) ClientAssigned() {
	c.ActiveClients.Inc()
}

// ClientReleased implements routing.MetricsReporter.
func (c *Collector) ClientReleased() {
	c.ActiveClients.Dec()
}

// OfferAccepted implements routing.MetricsReporter.
func (c *Collector) OfferAccepted() {
	c.OffersAccepted.Inc()
}

// OfferRejected implements routing.MetricsReporter.
func (c *Collector) OfferRejected() {
	c.OffersRejected.Inc()
}

// MessageRelayed implements routing.MetricsReporter.
func (c *Collector) MessageRelayed() {
	c.MessagesRelayed.Inc()
}

// RequestTimedOut implements routing.MetricsReporter.
func (c *Collector) RequestTimedOut() {
	c.RequestTimeouts.Inc()
}

// PolicyDenied implements routing.MetricsReporter.
func (c *Collector) PolicyDenied() {
	c.PolicyDenials.Inc()
}
