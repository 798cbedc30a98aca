package config

import (
	"testing"
	"time"

	"github.com/marmos91/forgefs/internal/protocol/nfs/rpc"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "debug"}}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected level normalized to 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_ExportAndBackend(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Export.Name != "/" {
		t.Errorf("Expected export '/', got %q", cfg.Export.Name)
	}
	if cfg.Export.ReadOnly {
		t.Error("Expected export to be writable by default")
	}
	if cfg.Backend.Type != "local" {
		t.Errorf("Expected backend 'local', got %q", cfg.Backend.Type)
	}
	if cfg.Backend.Local["path"] != DefaultLocalPath {
		t.Errorf("Expected local path %q, got %v", DefaultLocalPath, cfg.Backend.Local["path"])
	}
	if cfg.Backend.Memory == nil || cfg.Backend.KV == nil {
		t.Error("Expected backend option maps to be initialized")
	}
	if cfg.Content.Type != "memory" {
		t.Errorf("Expected content 'memory', got %q", cfg.Content.Type)
	}
}

func TestApplyDefaults_NonLocalBackendHasNoPath(t *testing.T) {
	cfg := &Config{Backend: BackendConfig{Type: "memory"}}
	ApplyDefaults(cfg)

	if _, ok := cfg.Backend.Local["path"]; ok {
		t.Error("Expected no local path default for the memory backend")
	}
}

func TestApplyDefaults_NFS(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	nfsCfg := cfg.Adapters.NFS
	if nfsCfg.Listen != "0.0.0.0:2049" {
		t.Errorf("Expected listen 0.0.0.0:2049, got %q", nfsCfg.Listen)
	}
	if nfsCfg.ReadTimeout != 5*time.Minute {
		t.Errorf("Expected read_timeout 5m, got %v", nfsCfg.ReadTimeout)
	}
	if nfsCfg.WriteTimeout != 30*time.Second {
		t.Errorf("Expected write_timeout 30s, got %v", nfsCfg.WriteTimeout)
	}
	if nfsCfg.IdleTimeout != 5*time.Minute {
		t.Errorf("Expected idle_timeout 5m, got %v", nfsCfg.IdleTimeout)
	}
	if nfsCfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected shutdown_timeout 30s, got %v", nfsCfg.ShutdownTimeout)
	}
	if nfsCfg.MaxRecordSize != rpc.DefaultMaxRecordSize {
		t.Errorf("Expected max_record_size %d, got %d", rpc.DefaultMaxRecordSize, nfsCfg.MaxRecordSize)
	}
	if nfsCfg.MaxConnections != 0 {
		t.Errorf("Expected unlimited connections, got %d", nfsCfg.MaxConnections)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{Level: "WARN", Format: "json", Output: "stderr"},
		Server:  ServerConfig{ShutdownTimeout: 5 * time.Second},
		Export:  ExportConfig{Name: "/git"},
		Backend: BackendConfig{
			Type:  "local",
			Local: map[string]any{"path": "/srv/git"},
		},
		Metrics: MetricsConfig{Listen: "0.0.0.0:9300"},
	}
	cfg.Adapters.NFS.Listen = "auto:2049"
	cfg.Adapters.NFS.IdleTimeout = time.Minute

	ApplyDefaults(cfg)

	if cfg.Logging.Level != "WARN" || cfg.Logging.Format != "json" || cfg.Logging.Output != "stderr" {
		t.Errorf("Logging values were overwritten: %+v", cfg.Logging)
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("Expected shutdown_timeout 5s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Export.Name != "/git" {
		t.Errorf("Expected export '/git', got %q", cfg.Export.Name)
	}
	if cfg.Backend.Local["path"] != "/srv/git" {
		t.Errorf("Expected local path '/srv/git', got %v", cfg.Backend.Local["path"])
	}
	if cfg.Adapters.NFS.Listen != "auto:2049" {
		t.Errorf("Expected listen 'auto:2049', got %q", cfg.Adapters.NFS.Listen)
	}
	if cfg.Adapters.NFS.IdleTimeout != time.Minute {
		t.Errorf("Expected idle_timeout 1m, got %v", cfg.Adapters.NFS.IdleTimeout)
	}
	if cfg.Metrics.Listen != "0.0.0.0:9300" {
		t.Errorf("Expected metrics listen '0.0.0.0:9300', got %q", cfg.Metrics.Listen)
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Errorf("Default config should be valid, got: %v", err)
	}
}
