package jobs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

const (
	resultSuccess   = "success"
	resultError     = "error"
	resultTransient = "transient"
	resultPanic     = "panic"
)

var (
	queueDepthGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vaultsync",
			Name:      "queue_depth",
			Help:      "Number of items waiting in a worker pool queue",
		},
		[]string{"pool"},
	)

	jobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vaultsync",
			Name:      "jobs_processed_total",
			Help:      "Total number of items processed by a worker pool, by result",
		},
		[]string{"pool", "result"},
	)

	jobDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vaultsync",
			Name:      "job_duration_seconds",
			Help:      "Duration of a single worker pool item in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"pool"},
	)
)

func init() {
	metrics.Registry.MustRegister(
		queueDepthGauge,
		jobsProcessedTotal,
		jobDurationSeconds,
	)
}

type poolMetrics struct {
	pool string
}

func newPoolMetrics(pool string) *poolMetrics {
	return &poolMetrics{pool: pool}
}

func (m *poolMetrics) setDepth(n int) {
	if m == nil {
		return
	}
	queueDepthGauge.WithLabelValues(m.pool).Set(float64(n))
}

func (m *poolMetrics) observe(result string, d time.Duration) {
	if m == nil {
		return
	}
	jobsProcessedTotal.WithLabelValues(m.pool, result).Inc()
	jobDurationSeconds.WithLabelValues(m.pool).Observe(d.Seconds())
}
