package fs

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/marmos91/forgefs/internal/logger"
	"github.com/marmos91/forgefs/pkg/content"
)

// FDCache keeps recently used blob files open and hands out a per-ID lock
// that serializes operations on one blob.
//
// Descriptors are closed when they fall off the LRU end, when their blob is
// removed, and on Close.
type FDCache struct {
	maxSize int

	mu       sync.Mutex
	lru      *lru.Cache
	closeErr error // close failures collected by onEvicted while mu is held

	fileLocks sync.Map
}

type cachedFile struct {
	file *os.File
	path string
}

// NewFDCache returns a cache holding at most maxSize descriptors.
func NewFDCache(maxSize int) *FDCache {
	if maxSize < 1 {
		maxSize = defaultFDCacheSize
	}

	c := &FDCache{maxSize: maxSize, lru: lru.New(maxSize)}
	c.lru.OnEvicted = c.onEvicted
	return c
}

// onEvicted runs under mu for every entry leaving the LRU.
func (c *FDCache) onEvicted(key lru.Key, value any) {
	cf := value.(*cachedFile)
	if err := cf.file.Close(); err != nil {
		c.closeErr = errors.Join(c.closeErr, fmt.Errorf("close %s: %w", cf.path, err))
	}
}

func (c *FDCache) takeCloseErr() error {
	err := c.closeErr
	c.closeErr = nil
	return err
}

// Get returns the cached descriptor for id and marks it most recently used.
func (c *FDCache) Get(id content.ID) (*os.File, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, ok := c.lru.Get(id)
	if !ok {
		return nil, false
	}
	return value.(*cachedFile).file, true
}

// Put caches file for id. A different descriptor already cached for id is
// closed. An eviction that fails to close is logged; the new entry is kept.
func (c *FDCache) Put(id content.ID, file *os.File, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if value, ok := c.lru.Get(id); ok {
		cf := value.(*cachedFile)
		if cf.file != file {
			_ = cf.file.Close()
			cf.file, cf.path = file, path
		}
		return nil
	}

	c.lru.Add(id, &cachedFile{file: file, path: path})

	if err := c.takeCloseErr(); err != nil {
		logger.Warn("fs content store: evicting descriptor: %v", err)
	}
	return nil
}

// Remove closes and forgets the descriptor for id. The per-ID lock is kept
// because the caller usually still holds it.
func (c *FDCache) Remove(id content.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Remove(id)
	return c.takeCloseErr()
}

// Close closes every cached descriptor.
func (c *FDCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Clear()
	return c.takeCloseErr()
}

// LockFile acquires the per-ID lock.
func (c *FDCache) LockFile(id content.ID) {
	value, _ := c.fileLocks.LoadOrStore(id, &sync.Mutex{})
	value.(*sync.Mutex).Lock()
}

// UnlockFile releases the per-ID lock.
func (c *FDCache) UnlockFile(id content.ID) {
	if value, ok := c.fileLocks.Load(id); ok {
		value.(*sync.Mutex).Unlock()
	}
}

// Stats returns the number of cached descriptors and the cache capacity.
func (c *FDCache) Stats() (size int, maxSize int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len(), c.maxSize
}
