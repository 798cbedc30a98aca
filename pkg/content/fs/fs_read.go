package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/marmos91/forgefs/pkg/content"
)

// ReadAt reads from the blob file at offset.
func (r *FSContentStore) ReadAt(ctx context.Context, id content.ID, p []byte, offset int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if offset < 0 {
		return 0, content.ErrInvalidOffset
	}

	r.fdCache.LockFile(id)
	defer r.fdCache.UnlockFile(id)

	file, err := r.openFile(id, false)
	if err != nil {
		return 0, err
	}

	n, err := file.ReadAt(p, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("failed to read content: %w", err)
	}
	return n, err
}

// Size stats the blob file without opening it.
func (r *FSContentStore) Size(ctx context.Context, id content.ID) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	info, err := os.Stat(r.getFilePath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
		}
		return 0, fmt.Errorf("failed to stat content: %w", err)
	}

	return uint64(info.Size()), nil
}
