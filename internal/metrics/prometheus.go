// Package metrics exposes Prometheus collectors for the relay. All recording
// helpers are safe to call on a nil *Metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "iat_relay"

// Metrics contains all Prometheus metrics for the relay
type Metrics struct {
	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsCreated prometheus.Counter
	Commands        *prometheus.CounterVec

	// Turn and frame metrics
	TurnsStarted  prometheus.Counter
	TurnDuration  prometheus.Histogram
	FramesSent    *prometheus.CounterVec
	AudioOutcomes *prometheus.CounterVec

	// Result metrics
	ResultsDelivered *prometheus.CounterVec
	ResultsDropped   prometheus.Counter
	UpstreamErrors   *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Current number of connected browser sessions",
		}),
		SessionsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Total number of browser sessions accepted",
		}),
		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Browser commands received by action",
		}, []string{"action"}),
		TurnsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_started_total",
			Help:      "Total number of recognition turns started",
		}),
		TurnDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Duration of recognition turns from first frame to last frame",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		FramesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frames written upstream by frame status (0 first, 1 continue, 2 last)",
		}, []string{"status"}),
		AudioOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_total",
			Help:      "Inbound audio chunks by normalization outcome",
		}, []string{"outcome"}),
		ResultsDelivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_delivered_total",
			Help:      "Recognition results handed to a session callback",
		}, []string{"kind"}),
		ResultsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_dropped_total",
			Help:      "Recognition results dropped because no callback was attached",
		}),
		UpstreamErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Upstream failures by kind",
		}, []string{"kind"}),
	}
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
	m.SessionsCreated.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

func (m *Metrics) Command(action string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(action).Inc()
}

func (m *Metrics) TurnStarted() {
	if m == nil {
		return
	}
	m.TurnsStarted.Inc()
}

func (m *Metrics) TurnEnded(d time.Duration) {
	if m == nil {
		return
	}
	m.TurnDuration.Observe(d.Seconds())
}

func (m *Metrics) FrameSent(status int) {
	if m == nil {
		return
	}
	m.FramesSent.WithLabelValues(strconv.Itoa(status)).Inc()
}

func (m *Metrics) AudioChunk(outcome string) {
	if m == nil {
		return
	}
	m.AudioOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ResultDelivered(kind string) {
	if m == nil {
		return
	}
	m.ResultsDelivered.WithLabelValues(kind).Inc()
}

func (m *Metrics) ResultDropped() {
	if m == nil {
		return
	}
	m.ResultsDropped.Inc()
}

func (m *Metrics) UpstreamError(kind string) {
	if m == nil {
		return
	}
	m.UpstreamErrors.WithLabelValues(kind).Inc()
}
