package prometheus

import (
	"time"

	"github.com/marmos91/forgefs/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// contentMetrics is the Prometheus implementation of metrics.ContentMetrics.
type contentMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
}

// NewContentMetrics creates a Prometheus-backed ContentMetrics, or a no-op
// one when the registry has not been initialized.
func NewContentMetrics() metrics.ContentMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopContentMetrics()
	}

	return newContentMetrics(metrics.GetRegistry())
}

func newContentMetrics(reg prometheus.Registerer) *contentMetrics {
	return &contentMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "forgefs_content_operations_total",
				Help: "Total number of content store operations by store, operation type and status",
			},
			[]string{"store", "operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "forgefs_content_operation_duration_seconds",
				Help: "Duration of content store operations in seconds",
				Buckets: []float64{
					0.0001, // 100µs
					0.001,  // 1ms
					0.01,   // 10ms
					0.05,   // 50ms
					0.1,    // 100ms
					0.5,    // 500ms
					1.0,    // 1s
					5.0,    // 5s
					30.0,   // 30s
				},
			},
			[]string{"store", "operation"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "forgefs_content_bytes_transferred_total",
				Help: "Total bytes moved through content stores",
			},
			[]string{"store", "direction"},
		),
	}
}

func (m *contentMetrics) ObserveOperation(store string, operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	m.operationsTotal.WithLabelValues(store, operation, status).Inc()
	m.operationDuration.WithLabelValues(store, operation).Observe(duration.Seconds())
}

func (m *contentMetrics) RecordBytes(store string, direction string, bytes int64) {
	m.bytesTransferred.WithLabelValues(store, direction).Add(float64(bytes))
}
