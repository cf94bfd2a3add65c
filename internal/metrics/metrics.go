package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rtsession"

// Metrics groups all Prometheus instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	Events            *prometheus.CounterVec
	ToolCalls         *prometheus.CounterVec
	ToolLatency       *prometheus.HistogramVec
	Interruptions     prometheus.Counter
	FirstAudioLatency prometheus.Histogram
	RelayConnections  prometheus.Gauge
	RelayMessages     *prometheus.CounterVec
}

// New registers the instruments with reg. Registering twice with the same
// registry reuses the existing collectors, so several sessions can share one.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Metrics{
		ActiveSessions: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of connected realtime sessions.",
		})),
		Events: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Realtime protocol events by source and type.",
		}, []string{"source", "type"})),
		ToolCalls: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool and outcome.",
		}, []string{"tool", "outcome"})),
		ToolLatency: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_latency_seconds",
			Help:      "Tool handler latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"})),
		Interruptions: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interruptions_total",
			Help:      "Assistant responses truncated by the user.",
		})),
		FirstAudioLatency: register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_audio_latency_ms",
			Help:      "Latency from response creation to first assistant audio chunk in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000},
		})),
		RelayConnections: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_connections",
			Help:      "Open relay client connections.",
		})),
		RelayMessages: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_messages_total",
			Help:      "Frames forwarded by the relay by direction.",
		}, []string{"direction"})),
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) SessionConnected() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionDisconnected() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

func (m *Metrics) Event(source, eventType string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(source, eventType).Inc()
}

func (m *Metrics) ToolCall(name string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.ToolCalls.WithLabelValues(name, outcome).Inc()
	m.ToolLatency.WithLabelValues(name).Observe(d.Seconds())
}

func (m *Metrics) Interrupted() {
	if m == nil {
		return
	}
	m.Interruptions.Inc()
}

func (m *Metrics) ObserveFirstAudioLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.FirstAudioLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) RelayOpened() {
	if m == nil {
		return
	}
	m.RelayConnections.Inc()
}

func (m *Metrics) RelayClosed() {
	if m == nil {
		return
	}
	m.RelayConnections.Dec()
}

func (m *Metrics) RelayMessage(direction string) {
	if m == nil {
		return
	}
	m.RelayMessages.WithLabelValues(direction).Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
