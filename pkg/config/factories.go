package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/forgefs/internal/logger"
	"github.com/marmos91/forgefs/pkg/content"
	contentFs "github.com/marmos91/forgefs/pkg/content/fs"
	contentMemory "github.com/marmos91/forgefs/pkg/content/memory"
	contentS3 "github.com/marmos91/forgefs/pkg/content/s3"
	"github.com/marmos91/forgefs/pkg/gc"
	"github.com/marmos91/forgefs/pkg/metrics"
	"github.com/marmos91/forgefs/pkg/vfs"
	"github.com/marmos91/forgefs/pkg/vfs/absvfs"
	"github.com/marmos91/forgefs/pkg/vfs/kvfs"
	"github.com/marmos91/forgefs/pkg/vfs/localfs"
	"github.com/mitchellh/mapstructure"
)

// Backend is the filesystem built from configuration together with the
// resources that must be released on shutdown.
type Backend struct {
	// FileSystem is what the NFS adapter exports. It is already wrapped
	// read-only when export.read_only is set.
	FileSystem vfs.FileSystem

	closers []io.Closer
}

// Close releases the backend's resources in reverse creation order.
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// decodeOptions decodes a type-specific option map. Values coming from the
// environment are strings, so input is weakly typed.
func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return decoder.Decode(options)
}

// ============================================================================
// Filesystem Backends
// ============================================================================

// CreateBackend builds the exported filesystem.
//
// contentMetrics may be nil; it instruments the content store of the kv
// backend.
func CreateBackend(ctx context.Context, cfg *Config, contentMetrics metrics.ContentMetrics) (*Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		backend *Backend
		err     error
	)
	switch cfg.Backend.Type {
	case "local":
		backend, err = createLocalBackend(cfg.Backend.Local)
	case "memory":
		backend, err = createMemoryBackend(cfg.Backend.Memory)
	case "kv":
		backend, err = createKVBackend(ctx, cfg.Backend.KV, &cfg.Content, contentMetrics)
	default:
		return nil, fmt.Errorf("unknown backend type: %q (supported: local, memory, kv)", cfg.Backend.Type)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Export.ReadOnly {
		backend.FileSystem = vfs.NewReadOnly(backend.FileSystem)
	}

	logger.Info("Backend initialized: type=%s read_only=%v", cfg.Backend.Type, cfg.Export.ReadOnly)
	return backend, nil
}

func createLocalBackend(options map[string]any) (*Backend, error) {
	type LocalBackendOptions struct {
		Path   string `mapstructure:"path"`
		Create *bool  `mapstructure:"create"`
	}

	var opts LocalBackendOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode local backend options: %w", err)
	}

	if opts.Path == "" {
		return nil, fmt.Errorf("local backend: path is required")
	}

	// The export root is created unless explicitly disabled.
	if opts.Create == nil || *opts.Create {
		if err := os.MkdirAll(opts.Path, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create export root %s: %w", opts.Path, err)
		}
	}

	fs, err := localfs.New(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create local backend: %w", err)
	}

	return &Backend{FileSystem: fs}, nil
}

func createMemoryBackend(options map[string]any) (*Backend, error) {
	if len(options) > 0 {
		logger.Debug("memory backend takes no options, ignoring %d", len(options))
	}

	fs, err := absvfs.NewMemory()
	if err != nil {
		return nil, fmt.Errorf("failed to create memory backend: %w", err)
	}

	return &Backend{FileSystem: fs}, nil
}

func createKVBackend(
	ctx context.Context,
	options map[string]any,
	contentCfg *ContentConfig,
	contentMetrics metrics.ContentMetrics,
) (*Backend, error) {
	type KVBackendOptions struct {
		DBPath           string        `mapstructure:"db_path"`
		InMemory         bool          `mapstructure:"in_memory"`
		Fsid             uint64        `mapstructure:"fsid"`
		MaxStorageBytes  uint64        `mapstructure:"max_storage_bytes"`
		MaxFiles         uint64        `mapstructure:"max_files"`
		BlockCacheSizeMB int64         `mapstructure:"block_cache_mb"`
		IndexCacheSizeMB int64         `mapstructure:"index_cache_mb"`
		SyncWrites       bool          `mapstructure:"sync_writes"`
		GCInterval       time.Duration `mapstructure:"gc_interval"`
		GCDryRun         bool          `mapstructure:"gc_dry_run"`
	}

	var opts KVBackendOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode kv backend options: %w", err)
	}

	if opts.DBPath == "" && !opts.InMemory {
		return nil, fmt.Errorf("kv backend: db_path is required unless in_memory is set")
	}

	backend := &Backend{}

	store, closer, err := CreateContentStore(ctx, contentCfg)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		backend.closers = append(backend.closers, closer)
	}

	fsCfg := kvfs.Config{
		DBPath:          opts.DBPath,
		InMemory:        opts.InMemory,
		Content:         content.Instrument(store, contentCfg.Type, contentMetrics),
		Fsid:            opts.Fsid,
		MaxStorageBytes: opts.MaxStorageBytes,
		MaxFiles:        opts.MaxFiles,
	}

	if opts.BlockCacheSizeMB > 0 || opts.IndexCacheSizeMB > 0 || opts.SyncWrites {
		fsCfg.BadgerOptions = badgerOptions(opts.DBPath, opts.InMemory, opts.BlockCacheSizeMB, opts.IndexCacheSizeMB, opts.SyncWrites)
	}

	fs, err := kvfs.New(ctx, fsCfg)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("failed to create kv backend: %w", err)
	}
	backend.FileSystem = fs
	backend.closers = append(backend.closers, fs)

	if opts.GCInterval > 0 {
		collector, err := createCollector(fs, store, opts.GCInterval, opts.GCDryRun)
		if err != nil {
			_ = backend.Close()
			return nil, err
		}
		collector.Start()
		backend.closers = append(backend.closers, collector)
	}

	return backend, nil
}

// createCollector sweeps blobs that no kvfs file references. It talks to the
// raw store so sweeps do not show up in the content metrics.
func createCollector(fs *kvfs.FileSystem, store content.Store, interval time.Duration, dryRun bool) (*gc.Collector, error) {
	gcStore, ok := store.(gc.Store)
	if !ok {
		return nil, fmt.Errorf("kv backend: content store %T cannot be garbage collected", store)
	}

	collector, err := gc.NewCollector(fs, gcStore, gc.Config{
		Interval: interval,
		DryRun:   dryRun,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create garbage collector: %w", err)
	}
	return collector, nil
}

// badgerOptions builds tuned badger options. kvfs uses its own defaults when
// none of the tuning knobs are set.
func badgerOptions(dbPath string, inMemory bool, blockCacheMB, indexCacheMB int64, syncWrites bool) *badger.Options {
	opts := badger.DefaultOptions(dbPath)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}

	opts = opts.WithLogger(nil).
		WithCompression(options.None).
		WithSyncWrites(syncWrites)

	if blockCacheMB > 0 {
		opts = opts.WithBlockCacheSize(blockCacheMB << 20)
	}
	if indexCacheMB > 0 {
		opts = opts.WithIndexCacheSize(indexCacheMB << 20)
	}

	return &opts
}

// ============================================================================
// Content Stores
// ============================================================================

// CreateContentStore builds the content store for the kv backend. The
// returned closer is nil for stores that hold no resources.
func CreateContentStore(ctx context.Context, cfg *ContentConfig) (content.Store, io.Closer, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	switch cfg.Type {
	case "memory":
		store, err := createMemoryContentStore(cfg.Memory)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case "filesystem":
		store, err := createFilesystemContentStore(ctx, cfg.Filesystem)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	case "s3":
		store, err := createS3ContentStore(ctx, cfg.S3)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown content store type: %q", cfg.Type)
	}
}

func createMemoryContentStore(options map[string]any) (*contentMemory.MemoryContentStore, error) {
	type MemoryContentStoreOptions struct {
		MaxSizeBytes uint64 `mapstructure:"max_size_bytes"`
	}

	var opts MemoryContentStoreOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode memory content store config: %w", err)
	}

	return contentMemory.NewMemoryContentStore(opts.MaxSizeBytes), nil
}

func createFilesystemContentStore(ctx context.Context, options map[string]any) (*contentFs.FSContentStore, error) {
	type FilesystemContentStoreConfig struct {
		Path string `mapstructure:"path"`
	}

	var storeCfg FilesystemContentStoreConfig
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode filesystem content store config: %w", err)
	}

	if storeCfg.Path == "" {
		return nil, fmt.Errorf("filesystem content store: path is required")
	}

	store, err := contentFs.NewFSContentStore(ctx, storeCfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem content store: %w", err)
	}

	return store, nil
}

func createS3ContentStore(ctx context.Context, options map[string]any) (*contentS3.S3ContentStore, error) {
	type S3ContentStoreConfig struct {
		Region          string        `mapstructure:"region"`
		Bucket          string        `mapstructure:"bucket"`
		KeyPrefix       string        `mapstructure:"key_prefix"`
		Endpoint        string        `mapstructure:"endpoint"`
		AccessKeyID     string        `mapstructure:"access_key_id"`
		SecretAccessKey string        `mapstructure:"secret_access_key"`
		MaxRetries      int           `mapstructure:"max_retries"`
		MaxObjectSize   uint64        `mapstructure:"max_object_size"`
		ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	}

	var storeCfg S3ContentStoreConfig
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 content store config: %w", err)
	}

	if storeCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 content store: bucket is required")
	}
	if storeCfg.Region == "" {
		return nil, fmt.Errorf("S3 content store: region is required")
	}

	// Bounds client setup and the bucket probe, not later requests.
	if storeCfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, storeCfg.ConnectTimeout)
		defer cancel()
	}

	client, err := contentS3.NewClient(ctx, contentS3.ClientConfig{
		Region:          storeCfg.Region,
		Endpoint:        storeCfg.Endpoint,
		AccessKeyID:     storeCfg.AccessKeyID,
		SecretAccessKey: storeCfg.SecretAccessKey,
		MaxRetries:      storeCfg.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	store, err := contentS3.NewS3ContentStore(ctx, contentS3.S3ContentStoreConfig{
		Client:        client,
		Bucket:        storeCfg.Bucket,
		KeyPrefix:     storeCfg.KeyPrefix,
		MaxObjectSize: storeCfg.MaxObjectSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 content store: %w", err)
	}

	logger.Info("S3 content store initialized: bucket=%s, region=%s, prefix=%s",
		storeCfg.Bucket, storeCfg.Region, storeCfg.KeyPrefix)

	return store, nil
}
