package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type custodyMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	custodyMetricsOnce sync.Once
	custodyRegistry    *custodyMetrics
)

// Custody returns the lazily-initialised metrics registry used to record
// custody operation activity served over RPC.
func Custody() *custodyMetrics {
	custodyMetricsOnce.Do(func() {
		custodyRegistry = &custodyMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "matchvault",
				Subsystem: "custody",
				Name:      "requests_total",
				Help:      "Total custody operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "matchvault",
				Subsystem: "custody",
				Name:      "errors_total",
				Help:      "Count of custody operation failures segmented by operation and reason.",
			}, []string{"operation", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "matchvault",
				Subsystem: "custody",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for custody operation handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
		}
		prometheus.MustRegister(
			custodyRegistry.requests,
			custodyRegistry.errors,
			custodyRegistry.latency,
		)
	})
	return custodyRegistry
}

// Observe records the execution of one custody operation.
func (m *custodyMetrics) Observe(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		reason := strings.TrimSpace(err.Error())
		if reason == "" {
			reason = "unknown"
		}
		m.errors.WithLabelValues(op, reason).Inc()
	}
	m.requests.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}
