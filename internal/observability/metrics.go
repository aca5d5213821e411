package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	SessionEvents    *prometheus.CounterVec
	WSMessages       *prometheus.CounterVec
	RateLimitDenials prometheus.Counter
	CacheOps         *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
	StreamingFlushes *prometheus.CounterVec
	PipelineLatency  prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active consultation sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket frames by direction and type.",
		}, []string{"direction", "type"}),
		RateLimitDenials: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_denials_total",
			Help:      "Messages denied by the per-session rate limiter.",
		}),
		CacheOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translation_cache_ops_total",
			Help:      "Translation cache operations by tier and result.",
		}, []string{"tier", "result"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "External provider errors by provider and code.",
		}, []string{"provider", "code"}),
		StreamingFlushes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streaming_flushes_total",
			Help:      "Audio buffer flushes by reason.",
		}, []string{"reason"}),
		PipelineLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_latency_ms",
			Help:      "End-to-end message pipeline latency in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 15000},
		}),
	}
}

func (m *Metrics) ObservePipelineLatency(d time.Duration) {
	m.PipelineLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
