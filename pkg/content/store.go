// Package content defines the byte stores that hold file data for the kv
// backend. Metadata (names, attributes, directory structure) lives elsewhere;
// a Store only maps an ID to a flat, randomly addressable byte array.
package content

import (
	"context"

	"github.com/google/uuid"
)

// ID names one blob in a Store.
type ID string

// NewID returns a fresh random ID.
func NewID() ID {
	return ID(uuid.NewString())
}

// Store is a random-access blob store.
//
// Blobs spring into existence on their first WriteAt or Truncate. Reading a
// blob that was never written returns ErrContentNotFound.
//
// Implementations must be safe for concurrent use. Concurrent writes to the
// same ID are serialized by the caller.
type Store interface {
	// ReadAt fills p from offset. It returns the number of bytes read and
	// io.EOF when fewer than len(p) bytes were available.
	ReadAt(ctx context.Context, id ID, p []byte, offset int64) (int, error)

	// WriteAt stores data at offset, zero-filling any gap past the end.
	WriteAt(ctx context.Context, id ID, data []byte, offset int64) error

	// Truncate sets the blob length, extending with zeros when growing.
	Truncate(ctx context.Context, id ID, size uint64) error

	// Size returns the blob length.
	Size(ctx context.Context, id ID) (uint64, error)

	// Delete removes the blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, id ID) error

	// Stats reports aggregate usage.
	Stats(ctx context.Context) (*StorageStats, error)
}

// StorageStats describes a store's capacity and usage.
type StorageStats struct {
	// TotalSize is the capacity in bytes, 0 when unbounded or unknown.
	TotalSize uint64

	// UsedSize is the number of bytes held by blobs.
	UsedSize uint64

	// AvailableSize is TotalSize - UsedSize when TotalSize is known.
	AvailableSize uint64

	// ContentCount is the number of blobs.
	ContentCount uint64
}

// Lister is implemented by stores that can enumerate their blobs.
type Lister interface {
	// ListIDs returns the ID of every blob in the store. Blobs created while
	// listing may or may not be included.
	ListIDs(ctx context.Context) ([]ID, error)
}
