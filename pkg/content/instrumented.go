package content

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/marmos91/forgefs/pkg/metrics"
)

// Instrument wraps store so every call is reported to m under the given
// store name. A nil m returns store unchanged.
func Instrument(store Store, name string, m metrics.ContentMetrics) Store {
	if m == nil {
		return store
	}
	return &instrumented{inner: store, name: name, metrics: m}
}

type instrumented struct {
	inner   Store
	name    string
	metrics metrics.ContentMetrics
}

func (s *instrumented) observe(op string, start time.Time, err error) {
	s.metrics.ObserveOperation(s.name, op, time.Since(start), err)
}

func (s *instrumented) ReadAt(ctx context.Context, id ID, p []byte, offset int64) (int, error) {
	start := time.Now()
	n, err := s.inner.ReadAt(ctx, id, p, offset)

	// A short read is a normal outcome.
	if errors.Is(err, io.EOF) {
		s.observe("ReadAt", start, nil)
	} else {
		s.observe("ReadAt", start, err)
	}
	if n > 0 {
		s.metrics.RecordBytes(s.name, "read", int64(n))
	}
	return n, err
}

func (s *instrumented) WriteAt(ctx context.Context, id ID, data []byte, offset int64) error {
	start := time.Now()
	err := s.inner.WriteAt(ctx, id, data, offset)
	s.observe("WriteAt", start, err)
	if err == nil {
		s.metrics.RecordBytes(s.name, "write", int64(len(data)))
	}
	return err
}

func (s *instrumented) Truncate(ctx context.Context, id ID, size uint64) error {
	start := time.Now()
	err := s.inner.Truncate(ctx, id, size)
	s.observe("Truncate", start, err)
	return err
}

func (s *instrumented) Size(ctx context.Context, id ID) (uint64, error) {
	start := time.Now()
	size, err := s.inner.Size(ctx, id)
	s.observe("Size", start, err)
	return size, err
}

func (s *instrumented) Delete(ctx context.Context, id ID) error {
	start := time.Now()
	err := s.inner.Delete(ctx, id)
	s.observe("Delete", start, err)
	return err
}

func (s *instrumented) Stats(ctx context.Context) (*StorageStats, error) {
	start := time.Now()
	stats, err := s.inner.Stats(ctx)
	s.observe("Stats", start, err)
	return stats, err
}
