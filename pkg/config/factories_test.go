package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/forgefs/pkg/metrics"
	"github.com/marmos91/forgefs/pkg/vfs"
)

// ============================================================================
// Content Stores
// ============================================================================

func TestCreateContentStore_Filesystem(t *testing.T) {
	cfg := &ContentConfig{
		Type:       "filesystem",
		Filesystem: map[string]any{"path": t.TempDir()},
	}

	store, closer, err := CreateContentStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Failed to create filesystem content store: %v", err)
	}
	if store == nil {
		t.Fatal("Expected non-nil store")
	}
	if closer == nil {
		t.Fatal("Expected the filesystem store to need closing")
	}
	if err := closer.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestCreateContentStore_FilesystemMissingPath(t *testing.T) {
	cfg := &ContentConfig{
		Type:       "filesystem",
		Filesystem: map[string]any{},
	}

	_, _, err := CreateContentStore(context.Background(), cfg)
	if err == nil {
		t.Fatal("Expected error for missing path")
	}
	if !strings.Contains(err.Error(), "path is required") {
		t.Errorf("Expected 'path is required' error, got: %v", err)
	}
}

func TestCreateContentStore_Memory(t *testing.T) {
	ctx := context.Background()
	cfg := &ContentConfig{
		Type:   "memory",
		Memory: map[string]any{"max_size_bytes": "8"},
	}

	store, closer, err := CreateContentStore(ctx, cfg)
	if err != nil {
		t.Fatalf("Failed to create memory content store: %v", err)
	}
	if closer != nil {
		t.Error("Expected no closer for the memory store")
	}

	// The size limit was decoded from a string.
	if err := store.WriteAt(ctx, "blob", make([]byte, 16), 0); err == nil {
		t.Error("Expected write beyond max_size_bytes to fail")
	}
}

func TestCreateContentStore_S3Validation(t *testing.T) {
	tests := []struct {
		name    string
		options map[string]any
		want    string
	}{
		{"MissingBucket", map[string]any{"region": "us-east-1"}, "bucket is required"},
		{"MissingRegion", map[string]any{"bucket": "forgefs"}, "region is required"},
		{"BadTimeout", map[string]any{"bucket": "forgefs", "region": "us-east-1", "connect_timeout": "soon"}, "decode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &ContentConfig{Type: "s3", S3: tt.options}

			_, _, err := CreateContentStore(context.Background(), cfg)
			if err == nil {
				t.Fatal("Expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected %q error, got: %v", tt.want, err)
			}
		})
	}
}

func TestCreateContentStore_UnknownType(t *testing.T) {
	_, _, err := CreateContentStore(context.Background(), &ContentConfig{Type: "tape"})
	if err == nil {
		t.Fatal("Expected error for unknown content store type")
	}
	if !strings.Contains(err.Error(), "unknown content store type") {
		t.Errorf("Expected 'unknown content store type' error, got: %v", err)
	}
}

func TestCreateContentStore_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := CreateContentStore(ctx, &ContentConfig{Type: "memory"})
	if err == nil {
		t.Fatal("Expected error for canceled context")
	}
}

// ============================================================================
// Backends
// ============================================================================

func backendConfig(t *testing.T, mutate func(cfg *Config)) *Config {
	t.Helper()

	cfg := &Config{}
	mutate(cfg)
	ApplyDefaults(cfg)
	return cfg
}

func TestCreateBackend_Local(t *testing.T) {
	root := filepath.Join(t.TempDir(), "export")
	cfg := backendConfig(t, func(cfg *Config) {
		cfg.Backend.Type = "local"
		cfg.Backend.Local = map[string]any{"path": root}
	})

	backend, err := CreateBackend(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Failed to create local backend: %v", err)
	}
	defer func() { _ = backend.Close() }()

	if _, err := os.Stat(root); err != nil {
		t.Errorf("Expected export root to be created: %v", err)
	}
	if backend.FileSystem.Capabilities() != vfs.ReadWrite {
		t.Error("Expected a writable backend")
	}
}

func TestCreateBackend_LocalWithoutCreate(t *testing.T) {
	root := filepath.Join(t.TempDir(), "missing")
	cfg := backendConfig(t, func(cfg *Config) {
		cfg.Backend.Local = map[string]any{"path": root, "create": false}
	})

	if _, err := CreateBackend(context.Background(), cfg, nil); err == nil {
		t.Fatal("Expected error for a missing export root")
	}
}

func TestCreateBackend_Memory(t *testing.T) {
	ctx := context.Background()
	cfg := backendConfig(t, func(cfg *Config) {
		cfg.Backend.Type = "memory"
	})

	backend, err := CreateBackend(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("Failed to create memory backend: %v", err)
	}
	defer func() { _ = backend.Close() }()

	fs := backend.FileSystem
	if _, _, err := fs.Mkdir(ctx, fs.RootDir(), "repo.git"); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	if _, err := fs.Lookup(ctx, fs.RootDir(), "repo.git"); err != nil {
		t.Errorf("Lookup failed: %v", err)
	}
}

func TestCreateBackend_KV(t *testing.T) {
	ctx := context.Background()
	cfg := backendConfig(t, func(cfg *Config) {
		cfg.Backend.Type = "kv"
		cfg.Backend.KV = map[string]any{"in_memory": true, "max_files": 100}
		cfg.Content.Type = "filesystem"
		cfg.Content.Filesystem = map[string]any{"path": t.TempDir()}
	})

	backend, err := CreateBackend(ctx, cfg, metrics.NewNoopContentMetrics())
	if err != nil {
		t.Fatalf("Failed to create kv backend: %v", err)
	}

	fs := backend.FileSystem
	id, _, err := fs.Create(ctx, fs.RootDir(), "HEAD", vfs.SetAttr{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := fs.Write(ctx, id, 0, []byte("ref: refs/heads/main\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	data, _, err := fs.Read(ctx, id, 0, 64)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != "ref: refs/heads/main\n" {
		t.Errorf("Unexpected content %q", data)
	}

	if err := backend.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestCreateBackend_KVWithGarbageCollection(t *testing.T) {
	blobDir := t.TempDir()
	cfg := backendConfig(t, func(cfg *Config) {
		cfg.Backend.Type = "kv"
		cfg.Backend.KV = map[string]any{"in_memory": true, "gc_interval": "10ms"}
		cfg.Content.Type = "filesystem"
		cfg.Content.Filesystem = map[string]any{"path": blobDir}
	})

	// A blob file no inode points at, named the way the store names blobs.
	orphan := filepath.Join(blobDir, "6f727068616e")
	if err := os.WriteFile(orphan, []byte("stale"), 0o644); err != nil {
		t.Fatalf("Failed to write orphan: %v", err)
	}

	backend, err := CreateBackend(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Failed to create kv backend: %v", err)
	}
	defer func() { _ = backend.Close() }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(orphan); os.IsNotExist(err) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("orphaned blob was not collected")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCreateBackend_KVInvalidGCInterval(t *testing.T) {
	cfg := backendConfig(t, func(cfg *Config) {
		cfg.Backend.Type = "kv"
		cfg.Backend.KV = map[string]any{"in_memory": true, "gc_interval": "often"}
	})

	if _, err := CreateBackend(context.Background(), cfg, nil); err == nil {
		t.Fatal("Expected error for unparseable gc_interval")
	}
}

func TestCreateBackend_KVWithBadgerTuning(t *testing.T) {
	cfg := backendConfig(t, func(cfg *Config) {
		cfg.Backend.Type = "kv"
		cfg.Backend.KV = map[string]any{
			"db_path":        t.TempDir(),
			"block_cache_mb": 8,
			"index_cache_mb": 4,
		}
	})

	backend, err := CreateBackend(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Failed to create kv backend: %v", err)
	}
	if err := backend.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestCreateBackend_KVRequiresPath(t *testing.T) {
	cfg := backendConfig(t, func(cfg *Config) {
		cfg.Backend.Type = "kv"
	})

	_, err := CreateBackend(context.Background(), cfg, nil)
	if err == nil {
		t.Fatal("Expected error for missing db_path")
	}
	if !strings.Contains(err.Error(), "db_path is required") {
		t.Errorf("Expected 'db_path is required' error, got: %v", err)
	}
}

func TestCreateBackend_ReadOnly(t *testing.T) {
	ctx := context.Background()
	cfg := backendConfig(t, func(cfg *Config) {
		cfg.Backend.Type = "memory"
		cfg.Export.ReadOnly = true
	})

	backend, err := CreateBackend(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}
	defer func() { _ = backend.Close() }()

	if backend.FileSystem.Capabilities() != vfs.ReadOnly {
		t.Errorf("Expected ReadOnly capabilities, got %v", backend.FileSystem.Capabilities())
	}
}

func TestCreateBackend_UnknownType(t *testing.T) {
	cfg := &Config{Backend: BackendConfig{Type: "nfs"}}

	_, err := CreateBackend(context.Background(), cfg, nil)
	if err == nil {
		t.Fatal("Expected error for unknown backend type")
	}
	if !strings.Contains(err.Error(), "unknown backend type") {
		t.Errorf("Expected 'unknown backend type' error, got: %v", err)
	}
}

// ============================================================================
// Adapter and Metrics
// ============================================================================

func TestCreateNFSAdapter(t *testing.T) {
	cfg := backendConfig(t, func(cfg *Config) {
		cfg.Backend.Type = "memory"
		cfg.Export.Name = "/repos"
		cfg.Adapters.NFS.Listen = "127.0.0.1:0"
	})

	backend, err := CreateBackend(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}

	adapter, err := CreateNFSAdapter(cfg, backend.FileSystem, nil)
	if err != nil {
		t.Fatalf("Failed to create adapter: %v", err)
	}
	if adapter.Export() != "/repos" {
		t.Errorf("Expected export '/repos', got %q", adapter.Export())
	}
	if adapter.Protocol() != "NFS" {
		t.Errorf("Expected protocol 'NFS', got %q", adapter.Protocol())
	}
}

func TestInitializeMetrics_Disabled(t *testing.T) {
	cfg := GetDefaultConfig()

	result := InitializeMetrics(cfg)
	if result.NFSMetrics == nil || result.ContentMetrics == nil {
		t.Fatal("Expected noop collectors when metrics are disabled")
	}
	if server := CreateMetricsServer(cfg, nil); server != nil {
		t.Error("Expected no metrics server when metrics are disabled")
	}
}

func TestInitializeMetrics_Enabled(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Listen = "127.0.0.1:0"

	result := InitializeMetrics(cfg)
	if !metrics.IsEnabled() {
		t.Fatal("Expected the registry to be initialized")
	}
	if result.NFSMetrics == nil || result.ContentMetrics == nil {
		t.Fatal("Expected collectors")
	}
	if server := CreateMetricsServer(cfg, nil); server == nil {
		t.Error("Expected a metrics server")
	}
}
