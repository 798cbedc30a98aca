// Package kvfs is a persistent vfs.FileSystem. Metadata (inodes and
// directory entries) lives in BadgerDB; file data lives in a content.Store,
// one blob per regular file.
//
// FileIDs come from a badger sequence and survive restarts, so a client that
// remounts after a restart sees the same ids under a new generation.
//
// Thread Safety:
// A single read-write mutex guards every operation. Reads share it; anything
// that changes metadata or content takes it exclusively. Badger transactions
// never conflict as a result.
package kvfs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/marmos91/forgefs/internal/logger"
	"github.com/marmos91/forgefs/pkg/content"
	"github.com/marmos91/forgefs/pkg/vfs"
)

// RootID is the FileID of the root directory.
const RootID vfs.FileID = 1

const (
	defaultFileMode    = 0644
	defaultDirMode     = 0755
	defaultSymlinkMode = 0777

	// sequenceBandwidth is how many ids are leased from badger at a time.
	sequenceBandwidth = 128

	// defaultCapacity is reported as total space when no quota is set.
	defaultCapacity = 1 << 40

	defaultMaxFiles = 1 << 20
)

// Config configures a FileSystem.
type Config struct {
	// DBPath is the badger directory. Ignored when InMemory is set.
	DBPath string

	// InMemory runs badger without touching disk.
	InMemory bool

	// Content stores file data. Required.
	Content content.Store

	// Fsid is reported in every attribute set.
	Fsid uint64

	// MaxStorageBytes is reported as the filesystem size. 0 means 1TiB.
	MaxStorageBytes uint64

	// MaxFiles is reported as the inode capacity. 0 means 2^20.
	MaxFiles uint64

	// BadgerOptions overrides every option above that concerns badger.
	BadgerOptions *badger.Options
}

// FileSystem implements vfs.FileSystem on badger and a content store.
type FileSystem struct {
	db       *badger.DB
	seq      *badger.Sequence
	content  content.Store
	fsid     uint64
	capacity uint64
	maxFiles uint64

	mu sync.RWMutex
}

var (
	_ vfs.FileSystem      = (*FileSystem)(nil)
	_ vfs.SimpleDirReader = (*FileSystem)(nil)
	_ vfs.FSStatProvider  = (*FileSystem)(nil)
)

// New opens (or creates) the database and makes sure a root directory
// exists.
func New(ctx context.Context, cfg Config) (*FileSystem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Content == nil {
		return nil, fmt.Errorf("kvfs: content store is required")
	}

	var opts badger.Options
	if cfg.BadgerOptions != nil {
		opts = *cfg.BadgerOptions
	} else {
		if cfg.InMemory {
			opts = badger.DefaultOptions("").WithInMemory(true)
		} else {
			if cfg.DBPath == "" {
				return nil, fmt.Errorf("kvfs: db path is required")
			}
			opts = badger.DefaultOptions(cfg.DBPath)
		}
		opts = opts.WithLogger(badgerLogger{}).
			WithLoggingLevel(badger.WARNING).
			WithCompression(options.None)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.DBPath, err)
	}

	seq, err := db.GetSequence([]byte(keySequence), sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open id sequence: %w", err)
	}

	capacity := cfg.MaxStorageBytes
	if capacity == 0 {
		capacity = defaultCapacity
	}
	maxFiles := cfg.MaxFiles
	if maxFiles == 0 {
		maxFiles = defaultMaxFiles
	}

	fs := &FileSystem{
		db:       db,
		seq:      seq,
		content:  cfg.Content,
		fsid:     cfg.Fsid,
		capacity: capacity,
		maxFiles: maxFiles,
	}

	if err := fs.initializeRoot(); err != nil {
		_ = fs.Close()
		return nil, err
	}

	return fs, nil
}

func (f *FileSystem) initializeRoot() error {
	return f.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(keyInode(RootID))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("failed to check root: %w", err)
		}

		now := time.Now()
		logger.Info("kvfs: initializing empty filesystem")
		return putInode(txn, RootID, &inode{
			Type:   vfs.FileTypeDirectory,
			Mode:   defaultDirMode,
			Atime:  now,
			Mtime:  now,
			Ctime:  now,
			Parent: RootID,
		})
	})
}

// Close releases the id lease and closes the database. The content store is
// owned by the caller.
func (f *FileSystem) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	if err := f.seq.Release(); err != nil {
		firstErr = fmt.Errorf("failed to release id sequence: %w", err)
	}
	if err := f.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return firstErr
}

func (f *FileSystem) Capabilities() vfs.Capabilities {
	return vfs.ReadWrite
}

func (f *FileSystem) RootDir() vfs.FileID {
	return RootID
}

// nextID allocates a fresh FileID. Sequence values start at 0; ids start
// after the root.
func (f *FileSystem) nextID() (vfs.FileID, error) {
	n, err := f.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate file id: %w", err)
	}
	return vfs.FileID(n) + RootID + 1, nil
}

func (f *FileSystem) toAttr(id vfs.FileID, ino *inode) *vfs.FileAttr {
	nlink := uint32(1)
	if ino.Type == vfs.FileTypeDirectory {
		nlink = 2
	}

	size := ino.Size
	if ino.Type == vfs.FileTypeSymlink {
		size = uint64(len(ino.Target))
	}

	return &vfs.FileAttr{
		Type:   ino.Type,
		Mode:   ino.Mode & 07777,
		Nlink:  nlink,
		UID:    ino.UID,
		GID:    ino.GID,
		Size:   size,
		Used:   size,
		Fsid:   f.fsid,
		FileID: id,
		Atime:  ino.Atime,
		Mtime:  ino.Mtime,
		Ctime:  ino.Ctime,
	}
}

func (f *FileSystem) GetAttr(ctx context.Context, id vfs.FileID) (*vfs.FileAttr, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	var attr *vfs.FileAttr
	err := f.db.View(func(txn *badger.Txn) error {
		ino, err := getInode(txn, id)
		if err != nil {
			return err
		}
		attr = f.toAttr(id, ino)
		return nil
	})
	return attr, err
}

// FSStat reports content store usage against the configured capacity and
// counts inodes with a key-only scan.
func (f *FileSystem) FSStat(ctx context.Context, id vfs.FileID) (*vfs.FSStat, error) {
	if _, err := f.GetAttr(ctx, id); err != nil {
		return nil, err
	}

	stats, err := f.content.Stats(ctx)
	if err != nil {
		logger.Warn("kvfs: content stats unavailable: %v", err)
		stats = &content.StorageStats{}
	}

	f.mu.RLock()
	var files uint64
	err = f.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixInode)

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			files++
		}
		return nil
	})
	f.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	free := uint64(0)
	if stats.UsedSize < f.capacity {
		free = f.capacity - stats.UsedSize
	}
	freeFiles := uint64(0)
	if files < f.maxFiles {
		freeFiles = f.maxFiles - files
	}

	return &vfs.FSStat{
		TotalBytes: f.capacity,
		FreeBytes:  free,
		AvailBytes: free,
		TotalFiles: f.maxFiles,
		FreeFiles:  freeFiles,
		AvailFiles: freeFiles,
	}, nil
}

// ContentIDs returns the blob of every regular file. A blob that exists in
// the content store but is not returned here belongs to no file.
//
// The scan holds the read lock, so a file being created is either fully
// committed or its blob has not been written yet.
func (f *FileSystem) ContentIDs(ctx context.Context) ([]content.ID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	var ids []content.ID
	err := f.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixInode)

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var ino *inode
			err := it.Item().Value(func(val []byte) error {
				var err error
				ino, err = decodeInode(val)
				return err
			})
			if err != nil {
				return err
			}
			if ino.ContentID != "" {
				ids = append(ids, ino.ContentID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan inodes: %w", err)
	}
	return ids, nil
}

// badgerLogger routes badger's own logging through the process logger.
type badgerLogger struct{}

func badgerLine(format string, v ...any) string {
	return strings.TrimSpace(fmt.Sprintf(format, v...))
}

func (badgerLogger) Errorf(format string, v ...any) {
	logger.Error("badger: %s", badgerLine(format, v...))
}
func (badgerLogger) Warningf(format string, v ...any) {
	logger.Warn("badger: %s", badgerLine(format, v...))
}
func (badgerLogger) Infof(format string, v ...any) {
	logger.Info("badger: %s", badgerLine(format, v...))
}
func (badgerLogger) Debugf(format string, v ...any) {
	logger.Debug("badger: %s", badgerLine(format, v...))
}
