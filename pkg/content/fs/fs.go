package fs

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/marmos91/forgefs/pkg/content"
)

const defaultFDCacheSize = 512

// FSContentStore implements content.Store on a local directory, one file per
// blob.
//
// Thread Safety:
// Operations on the same ID are serialized with a per-ID lock; operations on
// different IDs run concurrently.
type FSContentStore struct {
	basePath string
	fdCache  *FDCache
}

var _ content.Store = (*FSContentStore)(nil)

// NewFSContentStore creates a store under basePath, creating the directory
// with permissions 0755 if needed.
func NewFSContentStore(ctx context.Context, basePath string) (*FSContentStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FSContentStore{
		basePath: basePath,
		fdCache:  NewFDCache(defaultFDCacheSize),
	}, nil
}

// getFilePath returns the full path for a given content ID. IDs are
// hex-encoded so any byte sequence is filesystem-safe.
func (r *FSContentStore) getFilePath(id content.ID) string {
	return filepath.Join(r.basePath, hex.EncodeToString([]byte(id)))
}

// openFile returns a cached read-write descriptor for id. With create unset
// a missing blob is ErrContentNotFound. The caller must hold the ID lock.
func (r *FSContentStore) openFile(id content.ID, create bool) (*os.File, error) {
	if file, ok := r.fdCache.Get(id); ok {
		return file, nil
	}

	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}

	filePath := r.getFilePath(id)
	file, err := os.OpenFile(filePath, flags, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
		}
		return nil, fmt.Errorf("failed to open content: %w", err)
	}

	if err := r.fdCache.Put(id, file, filePath); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to cache file descriptor: %w", err)
	}
	return file, nil
}

// Delete removes the blob file. Missing blobs are ignored.
func (r *FSContentStore) Delete(ctx context.Context, id content.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.fdCache.LockFile(id)
	defer r.fdCache.UnlockFile(id)

	if err := r.fdCache.Remove(id); err != nil {
		return err
	}

	if err := os.Remove(r.getFilePath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete content: %w", err)
	}
	return nil
}

// Stats walks the base directory and sums file sizes.
func (r *FSContentStore) Stats(ctx context.Context) (*content.StorageStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list content: %w", err)
	}

	stats := &content.StorageStats{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Deleted while listing.
			continue
		}
		stats.ContentCount++
		stats.UsedSize += uint64(info.Size())
	}
	return stats, nil
}

// ListIDs decodes the blob file names under the base directory. Files that
// are not hex-encoded IDs are skipped.
func (r *FSContentStore) ListIDs(ctx context.Context) ([]content.ID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list content: %w", err)
	}

	ids := make([]content.ID, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		raw, err := hex.DecodeString(entry.Name())
		if err != nil {
			continue
		}
		ids = append(ids, content.ID(raw))
	}
	return ids, nil
}

// Close releases all cached descriptors.
func (r *FSContentStore) Close() error {
	return r.fdCache.Close()
}
