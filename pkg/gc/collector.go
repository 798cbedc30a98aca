// Package gc removes content blobs that no file references.
//
// The kv backend deletes a file's blob after the metadata transaction that
// unlinks it commits. A crash between the two, or a failed delete, leaves
// the blob behind with nothing pointing at it. The collector finds and
// deletes those orphans.
package gc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/forgefs/internal/logger"
	"github.com/marmos91/forgefs/pkg/content"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBatchSize   = 1000
	defaultConcurrency = 8
	defaultRunTimeout  = 10 * time.Minute
)

// Referencer reports the blobs that are in use.
type Referencer interface {
	ContentIDs(ctx context.Context) ([]content.ID, error)
}

// Store is the part of a content store the collector needs.
type Store interface {
	content.Lister
	Delete(ctx context.Context, id content.ID) error
}

// Config contains configuration for the garbage collector.
type Config struct {
	// Interval is how often to collect. 0 disables the background worker;
	// RunNow still works.
	Interval time.Duration

	// BatchSize is how many orphans are deleted between cancellation
	// checks (default: 1000).
	BatchSize int

	// Concurrency bounds the deletes in flight (default: 8).
	Concurrency int

	// DryRun logs what would be deleted without deleting.
	DryRun bool
}

// Collector performs periodic garbage collection on a content store.
//
// Thread Safety: Safe for concurrent use. Runs are serialized.
type Collector struct {
	refs   Referencer
	store  Store
	config Config

	runMu    sync.Mutex
	startMu  sync.Mutex
	started  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewCollector creates a collector. Call Start to begin background runs.
func NewCollector(refs Referencer, store Store, config Config) (*Collector, error) {
	if refs == nil {
		return nil, fmt.Errorf("gc: referencer is required")
	}
	if store == nil {
		return nil, fmt.Errorf("gc: store is required")
	}
	if config.Interval < 0 {
		return nil, fmt.Errorf("gc: interval must not be negative")
	}

	if config.BatchSize <= 0 {
		config.BatchSize = defaultBatchSize
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaultConcurrency
	}

	return &Collector{
		refs:   refs,
		store:  store,
		config: config,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start launches the background worker. Calling it again, or with a zero
// interval, does nothing.
func (c *Collector) Start() {
	if c.config.Interval == 0 {
		logger.Info("Garbage collection disabled")
		return
	}

	c.startMu.Lock()
	defer c.startMu.Unlock()
	if c.started {
		return
	}
	c.started = true

	logger.Info("Starting garbage collector: interval=%s batch_size=%d dry_run=%v",
		c.config.Interval, c.config.BatchSize, c.config.DryRun)

	go c.worker()
}

// Stop signals the worker and waits for an in-progress run to finish or ctx
// to expire. Safe to call multiple times.
func (c *Collector) Stop(ctx context.Context) error {
	c.startMu.Lock()
	started := c.started
	c.startMu.Unlock()

	c.stopOnce.Do(func() { close(c.stopCh) })
	if !started {
		return nil
	}

	select {
	case <-c.doneCh:
		logger.Info("Garbage collector stopped")
		return nil
	case <-ctx.Done():
		logger.Warn("Garbage collector shutdown timeout")
		return ctx.Err()
	}
}

// Close stops the collector, waiting at most one minute.
func (c *Collector) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return c.Stop(ctx)
}

// RunNow runs one collection and blocks until it completes.
func (c *Collector) RunNow(ctx context.Context) (*Stats, error) {
	logger.Info("Running garbage collection (manual trigger)")
	return c.collect(ctx)
}

func (c *Collector) worker() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
			go func() {
				select {
				case <-c.stopCh:
					cancel()
				case <-ctx.Done():
				}
			}()

			stats, err := c.collect(ctx)
			cancel()

			if err != nil {
				logger.Error("Garbage collection failed: %v", err)
			} else {
				logger.Info("Garbage collection completed: %s", stats.Summary())
			}

		case <-c.stopCh:
			return
		}
	}
}

// collect performs a single run:
//  1. list the blobs in the store
//  2. collect the blobs referenced by files
//  3. delete listed blobs that are not referenced
//
// Listing first means a blob created during the run is never a candidate.
func (c *Collector) collect(ctx context.Context) (*Stats, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	stats := &Stats{StartTime: time.Now()}
	defer func() { stats.EndTime = time.Now() }()

	existing, err := c.store.ListIDs(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list content: %w", err)
	}
	stats.ExistingCount = uint64(len(existing))

	referenced, err := c.refs.ContentIDs(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to get referenced content: %w", err)
	}
	stats.ReferencedCount = uint64(len(referenced))

	referencedSet := make(map[content.ID]struct{}, len(referenced))
	for _, id := range referenced {
		referencedSet[id] = struct{}{}
	}

	var orphaned []content.ID
	for _, id := range existing {
		if _, ok := referencedSet[id]; !ok {
			orphaned = append(orphaned, id)
		}
	}
	stats.OrphanedCount = uint64(len(orphaned))

	if len(orphaned) == 0 {
		logger.Debug("GC: no orphaned content among %d blobs", stats.ExistingCount)
		return stats, nil
	}

	logger.Info("GC: found %d orphaned blobs", stats.OrphanedCount)

	if c.config.DryRun {
		for i, id := range orphaned {
			if i == 10 {
				logger.Info("GC: dry run, ... and %d more", len(orphaned)-10)
				break
			}
			logger.Info("GC: dry run, would delete %s", id)
		}
		return stats, nil
	}

	for i := 0; i < len(orphaned); i += c.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		end := min(i+c.config.BatchSize, len(orphaned))
		deleted, failed := c.deleteBatch(ctx, orphaned[i:end])
		stats.DeletedCount += deleted
		stats.FailedCount += failed

		logger.Debug("GC: deleted batch %d-%d: %d succeeded, %d failed", i, end, deleted, failed)
	}

	logger.Info("GC: deleted %d blobs, %d failed, duration=%s",
		stats.DeletedCount, stats.FailedCount, stats.Duration())

	return stats, nil
}

func (c *Collector) deleteBatch(ctx context.Context, batch []content.ID) (deleted, failed uint64) {
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.Concurrency)

	for _, id := range batch {
		g.Go(func() error {
			err := c.store.Delete(gctx, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Debug("GC: failed to delete %s: %v", id, err)
				failed++
			} else {
				deleted++
			}
			return nil
		})
	}
	_ = g.Wait()

	return deleted, failed
}

// Stats contains statistics from a garbage collection run.
type Stats struct {
	StartTime       time.Time // When collection started
	EndTime         time.Time // When collection ended
	ReferencedCount uint64    // Blobs referenced by files
	ExistingCount   uint64    // Blobs in the content store
	OrphanedCount   uint64    // Blobs referenced by nothing
	DeletedCount    uint64    // Orphans deleted
	FailedCount     uint64    // Orphans that failed to delete
}

// Duration returns the total collection duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the collection.
func (s *Stats) Summary() string {
	return fmt.Sprintf("referenced=%d existing=%d orphaned=%d deleted=%d failed=%d duration=%s",
		s.ReferencedCount, s.ExistingCount, s.OrphanedCount,
		s.DeletedCount, s.FailedCount, s.Duration())
}
