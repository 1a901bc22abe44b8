// Package gmetrics contains the Prometheus metrics recorded by a gambit client.
//
// A nil *Metrics is valid and records nothing.
package gmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reasons an inbound datagram was dropped.
const (
	DropUnseal = "unseal"
	DropDecode = "decode"
)

// Config configures [New].
type Config struct {
	// Metrics namespace. Defaults to "gambit".
	Namespace string

	// Constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets for the handshake duration histogram.
	// Defaults to prometheus.DefBuckets.
	Buckets []float64

	// Registry to register the metrics with.
	// Defaults to prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// Metrics holds the client's collectors.
type Metrics struct {
	requestsSent prometheus.Counter
	joinRequests prometheus.Counter
	inputsSent   prometheus.Counter
	purgesSent   prometheus.Counter

	statesApplied prometheus.Counter
	statesStale   prometheus.Counter
	stateVersion  prometheus.Gauge

	datagramsDropped *prometheus.CounterVec

	outstandingInputs prometheus.Gauge

	handshakeDuration *prometheus.HistogramVec
}

// New creates and registers the client metrics.
// It panics if registration fails, as promauto does.
func New(cfg Config) *Metrics {
	if cfg.Namespace == "" {
		cfg.Namespace = "gambit"
	}
	if cfg.Buckets == nil {
		cfg.Buckets = prometheus.DefBuckets
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(cfg.Registry)

	return &Metrics{
		requestsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "requests_sent_total",
			Help:        "Total number of outbound requests sent, including join requests",
			ConstLabels: cfg.ConstLabels,
		}),
		joinRequests: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "join_requests_total",
			Help:        "Total number of join requests sent",
			ConstLabels: cfg.ConstLabels,
		}),
		inputsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "inputs_sent_total",
			Help:        "Total number of input slots sent, counting resends",
			ConstLabels: cfg.ConstLabels,
		}),
		purgesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "purges_sent_total",
			Help:        "Total number of purge slots sent",
			ConstLabels: cfg.ConstLabels,
		}),

		statesApplied: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "states_applied_total",
			Help:        "Total number of authoritative states applied",
			ConstLabels: cfg.ConstLabels,
		}),
		statesStale: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "states_stale_total",
			Help:        "Total number of authoritative states discarded as stale or duplicate",
			ConstLabels: cfg.ConstLabels,
		}),
		stateVersion: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "state_version",
			Help:        "Version of the most recently applied authoritative state",
			ConstLabels: cfg.ConstLabels,
		}),

		datagramsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "datagrams_dropped_total",
			Help:        "Total number of inbound datagrams dropped",
			ConstLabels: cfg.ConstLabels,
		}, []string{"reason"}),

		outstandingInputs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "outstanding_inputs",
			Help:        "Number of retained inputs awaiting acknowledgement",
			ConstLabels: cfg.ConstLabels,
		}),

		handshakeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Name:        "handshake_duration_seconds",
			Help:        "Duration of each startup phase in seconds",
			ConstLabels: cfg.ConstLabels,
			Buckets:     cfg.Buckets,
		}, []string{"phase", "result"}),
	}
}

// RequestSent records one outbound request.
func (m *Metrics) RequestSent(join bool, inputs, purges int) {
	if m == nil {
		return
	}

	m.requestsSent.Inc()
	if join {
		m.joinRequests.Inc()
	}
	m.inputsSent.Add(float64(inputs))
	m.purgesSent.Add(float64(purges))
}

// StateApplied records an applied state.
func (m *Metrics) StateApplied(version int64) {
	if m == nil {
		return
	}

	m.statesApplied.Inc()
	m.stateVersion.Set(float64(version))
}

// StateStale records a discarded state.
func (m *Metrics) StateStale() {
	if m == nil {
		return
	}
	m.statesStale.Inc()
}

// DatagramDropped records a dropped inbound datagram.
// Reason should be one of the Drop constants.
func (m *Metrics) DatagramDropped(reason string) {
	if m == nil {
		return
	}
	m.datagramsDropped.WithLabelValues(reason).Inc()
}

// SetOutstandingInputs sets the outstanding input gauge.
func (m *Metrics) SetOutstandingInputs(n int) {
	if m == nil {
		return
	}
	m.outstandingInputs.Set(float64(n))
}

// ObserveHandshake records how long a startup phase took.
func (m *Metrics) ObserveHandshake(phase string, d time.Duration, err error) {
	if m == nil {
		return
	}

	result := "ok"
	if err != nil {
		result = "error"
	}
	m.handshakeDuration.WithLabelValues(phase, result).Observe(d.Seconds())
}
