package memory

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/marmos91/forgefs/pkg/content"
)

// MemoryContentStore implements content.Store using in-memory storage.
//
// It is designed for tests and ephemeral exports: all data is lost when the
// process exits.
//
// Thread Safety:
// All operations are protected by a sync.RWMutex. Data is copied on the way
// in and out so callers never share buffers with the store.
type MemoryContentStore struct {
	data map[content.ID][]byte

	// maxSize bounds any single blob, 0 for unbounded.
	maxSize uint64

	mu sync.RWMutex
}

var _ content.Store = (*MemoryContentStore)(nil)

// NewMemoryContentStore creates an empty in-memory store. maxSize limits the
// length of a single blob; 0 disables the limit.
func NewMemoryContentStore(maxSize uint64) *MemoryContentStore {
	return &MemoryContentStore{
		data:    make(map[content.ID][]byte),
		maxSize: maxSize,
	}
}

// ============================================================================
// Read Operations
// ============================================================================

func (s *MemoryContentStore) ReadAt(ctx context.Context, id content.ID, p []byte, offset int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if offset < 0 {
		return 0, content.ErrInvalidOffset
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, ok := s.data[id]
	if !ok {
		return 0, fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
	}

	if offset >= int64(len(blob)) {
		return 0, io.EOF
	}

	n := copy(p, blob[offset:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *MemoryContentStore) Size(ctx context.Context, id content.ID) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, ok := s.data[id]
	if !ok {
		return 0, fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
	}
	return uint64(len(blob)), nil
}

// ============================================================================
// Write Operations
// ============================================================================

func (s *MemoryContentStore) WriteAt(ctx context.Context, id content.ID, data []byte, offset int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if offset < 0 {
		return content.ErrInvalidOffset
	}
	if id == "" {
		return content.ErrInvalidContentID
	}

	end := uint64(offset) + uint64(len(data))
	if s.maxSize > 0 && end > s.maxSize {
		return fmt.Errorf("content %s: %d bytes: %w", id, end, content.ErrTooLarge)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	blob := s.data[id]
	if uint64(len(blob)) < end {
		grown := make([]byte, end)
		copy(grown, blob)
		blob = grown
	}
	copy(blob[offset:], data)
	s.data[id] = blob

	return nil
}

func (s *MemoryContentStore) Truncate(ctx context.Context, id content.ID, size uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return content.ErrInvalidContentID
	}
	if s.maxSize > 0 && size > s.maxSize {
		return fmt.Errorf("content %s: %d bytes: %w", id, size, content.ErrTooLarge)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	blob := s.data[id]
	switch {
	case uint64(len(blob)) > size:
		shrunk := make([]byte, size)
		copy(shrunk, blob)
		blob = shrunk
	case uint64(len(blob)) < size:
		grown := make([]byte, size)
		copy(grown, blob)
		blob = grown
	}
	if blob == nil {
		blob = []byte{}
	}
	s.data[id] = blob

	return nil
}

func (s *MemoryContentStore) Delete(ctx context.Context, id content.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, id)
	return nil
}

// ============================================================================
// Statistics
// ============================================================================

func (s *MemoryContentStore) Stats(ctx context.Context) (*content.StorageStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var used uint64
	for _, blob := range s.data {
		used += uint64(len(blob))
	}

	return &content.StorageStats{
		UsedSize:     used,
		ContentCount: uint64(len(s.data)),
	}, nil
}

func (s *MemoryContentStore) ListIDs(ctx context.Context) ([]content.ID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]content.ID, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	return ids, nil
}
