package config

import (
	"github.com/marmos91/forgefs/pkg/metrics"
	promMetrics "github.com/marmos91/forgefs/pkg/metrics/prometheus"
)

// MetricsResult contains the metrics collectors created from configuration.
type MetricsResult struct {
	// NFSMetrics is the collector for the NFS adapter (never nil, noop if disabled)
	NFSMetrics metrics.NFSMetrics

	// ContentMetrics instruments content stores (never nil, noop if disabled)
	ContentMetrics metrics.ContentMetrics
}

// InitializeMetrics creates the metrics collectors.
//
// When metrics are enabled the global Prometheus registry is initialized and
// Prometheus-backed collectors are returned. Otherwise the no-op
// implementations are returned.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			NFSMetrics:     metrics.NewNoopNFSMetrics(),
			ContentMetrics: metrics.NewNoopContentMetrics(),
		}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		NFSMetrics:     promMetrics.NewNFSMetrics(),
		ContentMetrics: promMetrics.NewContentMetrics(),
	}
}

// CreateMetricsServer returns the operations HTTP server, or nil when metrics
// are disabled. exports answers /exports/handle.
func CreateMetricsServer(cfg *Config, exports metrics.HandleResolver) *metrics.Server {
	if !cfg.Metrics.Enabled {
		return nil
	}

	return metrics.NewServer(metrics.ServerConfig{
		Listen:  cfg.Metrics.Listen,
		Exports: exports,
	})
}
