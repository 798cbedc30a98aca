package prometheus

import (
	"time"

	"github.com/marmos91/forgefs/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// nfsMetrics is the Prometheus implementation of metrics.NFSMetrics.
type nfsMetrics struct {
	requestsTotal          *prometheus.CounterVec
	requestDuration        *prometheus.HistogramVec
	requestsInFlight       *prometheus.GaugeVec
	bytesTransferred       *prometheus.CounterVec
	activeConnections      prometheus.Gauge
	connectionsAccepted    prometheus.Counter
	connectionsClosed      prometheus.Counter
	connectionsForceClosed prometheus.Counter
	rateLimited            prometheus.Counter
}

// NewNFSMetrics creates a new Prometheus-backed NFSMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewNFSMetrics() metrics.NFSMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopNFSMetrics()
	}

	return newNFSMetrics(metrics.GetRegistry())
}

func newNFSMetrics(reg prometheus.Registerer) *nfsMetrics {
	return &nfsMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "forgefs_nfs_requests_total",
				Help: "Total number of NFS requests by procedure, export, and status",
			},
			[]string{"procedure", "export", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "forgefs_nfs_request_duration_milliseconds",
				Help: "Duration of NFS requests in milliseconds",
				Buckets: []float64{
					0.1,   // 100µs
					1,     // 1ms
					10,    // 10ms
					100,   // 100ms
					1000,  // 1s
					10000, // 10s
				},
			},
			[]string{"procedure", "export"},
		),
		requestsInFlight: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "forgefs_nfs_requests_in_flight",
				Help: "Current number of NFS requests being processed",
			},
			[]string{"procedure", "export"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "forgefs_nfs_bytes_transferred_total",
				Help: "Total payload bytes transferred by READ and WRITE",
			},
			[]string{"procedure", "export", "direction"},
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "forgefs_nfs_active_connections",
				Help: "Current number of active NFS connections",
			},
		),
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "forgefs_nfs_connections_accepted_total",
				Help: "Total number of NFS connections accepted",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "forgefs_nfs_connections_closed_total",
				Help: "Total number of NFS connections closed",
			},
		),
		connectionsForceClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "forgefs_nfs_connections_force_closed_total",
				Help: "Total number of NFS connections force-closed during shutdown timeout",
			},
		),
		rateLimited: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "forgefs_nfs_requests_rate_limited_total",
				Help: "Total number of NFS requests delayed by the per-connection rate limiter",
			},
		),
	}
}

func (m *nfsMetrics) RecordRequest(procedure string, export string, duration time.Duration, status string) {
	m.requestsTotal.WithLabelValues(procedure, export, status).Inc()
	m.requestDuration.WithLabelValues(procedure, export).Observe(duration.Seconds() * 1000) // Convert to milliseconds
}

func (m *nfsMetrics) RecordRequestStart(procedure string, export string) {
	m.requestsInFlight.WithLabelValues(procedure, export).Inc()
}

func (m *nfsMetrics) RecordRequestEnd(procedure string, export string) {
	m.requestsInFlight.WithLabelValues(procedure, export).Dec()
}

func (m *nfsMetrics) RecordBytesTransferred(procedure string, export string, direction string, bytes uint64) {
	m.bytesTransferred.WithLabelValues(procedure, export, direction).Add(float64(bytes))
}

func (m *nfsMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *nfsMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *nfsMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *nfsMetrics) RecordConnectionForceClosed() {
	m.connectionsForceClosed.Inc()
}

func (m *nfsMetrics) RecordRateLimited() {
	m.rateLimited.Inc()
}
