// Package hubmetrics defines the Prometheus metrics exposed by the hub.
package hubmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "verlihub"
	subsystem = "hub"
)

// Label names shared across metric vectors.
const (
	labelKind   = "kind"   // geo lookup kind: country, city, asn
	labelSource = "source" // geo lookup source: cache, database, sentinel
	labelFrom   = "from"   // connection state transition: from state
	labelTo     = "to"     // connection state transition: to state
)

// Collector holds all hub Prometheus metrics.
//
//   - Connections gauges track live descriptors.
//   - Poll metrics track reactor tick cost and readiness fan-out.
//   - Geo lookup counters track cache hit rate and database fallback use.
//   - StateTransitions counts connection lifecycle moves for alerting.
type Collector struct {
	// Connections tracks the number of descriptors currently in the
	// Descriptor Table (accepting, handshaking, normal or closing).
	Connections prometheus.Gauge

	// PollTicks counts reactor ticks (one per Poller.Poll call).
	PollTicks prometheus.Counter

	// PollReady counts the total number of ready descriptors returned
	// across all ticks.
	PollReady prometheus.Counter

	// GeoLookups counts geo/ASN cache lookups, labeled by kind and by
	// whether they were served from cache, database, or a sentinel.
	GeoLookups *prometheus.CounterVec

	// StateTransitions counts connection FSM transitions.
	StateTransitions *prometheus.CounterVec

	// FramesDropped counts frames discarded for exceeding the configured
	// maximum size.
	FramesDropped prometheus.Counter
}

// NewCollector creates a Collector with all metrics registered against reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Connections,
		c.PollTicks,
		c.PollReady,
		c.GeoLookups,
		c.StateTransitions,
		c.FramesDropped,
	)

	return c
}

func newMetrics() *Collector {
	return &Collector{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connections",
			Help:      "Number of descriptors currently tracked by the Descriptor Table.",
		}),

		PollTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "poll_ticks_total",
			Help:      "Total reactor ticks (Poller.Poll calls).",
		}),

		PollReady: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "poll_ready_total",
			Help:      "Total ready descriptors returned across all ticks.",
		}),

		GeoLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "geo_lookups_total",
			Help:      "Total geo/ASN lookups by kind and source.",
		}, []string{labelKind, labelSource}),

		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connection_state_transitions_total",
			Help:      "Total connection lifecycle state transitions.",
		}, []string{labelFrom, labelTo}),

		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_dropped_total",
			Help:      "Total inbound frames dropped for exceeding the configured maximum size.",
		}),
	}
}

// IncPollTick records one completed reactor tick with readyCount ready
// descriptors.
func (c *Collector) IncPollTick(readyCount int) {
	c.PollTicks.Inc()
	c.PollReady.Add(float64(readyCount))
}

// RecordGeoLookup records a single geo/ASN lookup of the given kind served
// from the given source ("cache", "database" or "sentinel").
func (c *Collector) RecordGeoLookup(kind, source string) {
	c.GeoLookups.WithLabelValues(kind, source).Inc()
}

// RecordStateTransition increments the transition counter for a connection
// moving from one lifecycle state to another.
func (c *Collector) RecordStateTransition(from, to string) {
	c.StateTransitions.WithLabelValues(from, to).Inc()
}

// SetConnections sets the live descriptor gauge to n.
func (c *Collector) SetConnections(n int) {
	c.Connections.Set(float64(n))
}

// IncFramesDropped increments the oversize-frame drop counter.
func (c *Collector) IncFramesDropped() {
	c.FramesDropped.Inc()
}
