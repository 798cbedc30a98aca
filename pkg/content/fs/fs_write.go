package fs

import (
	"context"
	"fmt"

	"github.com/marmos91/forgefs/pkg/content"
)

// writeChunkSize bounds each write(2) so long writes notice cancellation.
const writeChunkSize = 256 * 1024

// WriteAt writes data at offset, creating the blob if needed. The write is
// synced before returning.
func (r *FSContentStore) WriteAt(ctx context.Context, id content.ID, data []byte, offset int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if offset < 0 {
		return content.ErrInvalidOffset
	}
	if id == "" {
		return content.ErrInvalidContentID
	}

	r.fdCache.LockFile(id)
	defer r.fdCache.UnlockFile(id)

	file, err := r.openFile(id, true)
	if err != nil {
		return err
	}

	for written := 0; written < len(data); {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(written+writeChunkSize, len(data))
		n, err := file.WriteAt(data[written:end], offset+int64(written))
		if err != nil {
			return fmt.Errorf("failed to write data: %w", err)
		}
		written += n
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync content: %w", err)
	}
	return nil
}

// Truncate resizes the blob, creating it if needed.
func (r *FSContentStore) Truncate(ctx context.Context, id content.ID, newSize uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return content.ErrInvalidContentID
	}

	r.fdCache.LockFile(id)
	defer r.fdCache.UnlockFile(id)

	file, err := r.openFile(id, true)
	if err != nil {
		return err
	}

	if err := file.Truncate(int64(newSize)); err != nil {
		return fmt.Errorf("failed to truncate content: %w", err)
	}
	return nil
}
