package config

import (
	"fmt"

	"github.com/marmos91/forgefs/pkg/adapter/nfs"
	"github.com/marmos91/forgefs/pkg/metrics"
	"github.com/marmos91/forgefs/pkg/vfs"
)

// CreateNFSAdapter builds the NFS adapter for fs from the configuration.
//
// nfsMetrics may be nil, in which case metrics are disabled.
func CreateNFSAdapter(cfg *Config, fs vfs.FileSystem, nfsMetrics metrics.NFSMetrics) (*nfs.NFSAdapter, error) {
	adapter, err := nfs.New(cfg.Adapters.NFS, fs, cfg.Export.Name, nfsMetrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create NFS adapter: %w", err)
	}
	return adapter, nil
}
