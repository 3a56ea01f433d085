package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the console.
type Metrics struct {
	registry *prometheus.Registry

	ActiveConversations prometheus.Gauge
	Asks                *prometheus.CounterVec
	AskFailures         *prometheus.CounterVec
	AskLatency          prometheus.Histogram
	FeedErrorsEvicted   prometheus.Counter
}

// NewMetrics registers on a private registry so several instances can coexist.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ActiveConversations: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_conversations",
			Help:      "Number of conversations held in memory.",
		}),
		Asks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asks_total",
			Help:      "Questions sent to the QA backend by outcome.",
		}, []string{"outcome"}),
		AskFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ask_failures_total",
			Help:      "Failed questions by error kind.",
		}, []string{"kind"}),
		AskLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ask_latency_ms",
			Help:      "Round trip latency of a question in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 5000, 10000, 20000, 30000, 45000},
		}),
		FeedErrorsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_errors_evicted_total",
			Help:      "Error messages dropped from a feed because of the retention cap.",
		}),
	}
}

func (m *Metrics) ObserveAsk(outcome string, d time.Duration) {
	m.Asks.WithLabelValues(outcome).Inc()
	m.AskLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveFailure(kind string) {
	m.AskFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
