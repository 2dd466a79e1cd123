package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for requestsink.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	CapturesTotal   *prometheus.CounterVec
	ForwardDuration prometheus.Histogram
	ForwardFailures prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "requestsink",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests served",
			},
			[]string{"method", "status"}, // status=ok/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "requestsink",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets, // 5ms to 10s
			},
			[]string{"method"},
		),
		CapturesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "requestsink",
				Name:      "captures_total",
				Help:      "Total number of requests captured by sinks",
			},
			[]string{"forwarded"}, // forwarded=true/false
		),
		ForwardDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "requestsink",
				Name:      "forward_duration_seconds",
				Help:      "Duration of relays to forward targets in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		ForwardFailures: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "requestsink",
				Name:      "forward_failures_total",
				Help:      "Total relays that failed and were answered with a synthesized 502",
			},
		),
	}
}

// RegisterStoreGauge exposes the number of sinks held in memory.
func RegisterStoreGauge(reg prometheus.Registerer, size func() int) {
	promauto.With(reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "requestsink",
			Name:      "sinks",
			Help:      "Number of sinks currently held in memory",
		},
		func() float64 { return float64(size()) },
	)
}

// RegisterNotifyDrops exposes the notifier's dropped event count.
func RegisterNotifyDrops(reg prometheus.Registerer, dropped func() int64) {
	promauto.With(reg).NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: "requestsink",
			Name:      "notify_dropped_total",
			Help:      "Total live notifications dropped because the queue was full",
		},
		func() float64 { return float64(dropped()) },
	)
}
