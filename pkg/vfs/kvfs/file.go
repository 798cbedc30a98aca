package kvfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/forgefs/pkg/content"
	"github.com/marmos91/forgefs/pkg/vfs"
)

const maxNameLen = 255

func checkName(name string) error {
	switch {
	case name == "":
		return vfs.StatusInval
	case name == "." || name == "..":
		return vfs.StatusExist
	case len(name) > maxNameLen:
		return vfs.StatusNameTooLong
	}
	return nil
}

// contentError maps content store failures to statuses. Context errors pass
// through untouched.
func contentError(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, content.ErrTooLarge):
		return vfs.StatusFBig
	case errors.Is(err, content.ErrUnavailable):
		return vfs.StatusJukebox
	}
	return fmt.Errorf("content store: %w", err)
}

// applySetAttr mutates ino in place. Size changes go to the content store
// before the inode is written back.
func (f *FileSystem) applySetAttr(ctx context.Context, ino *inode, sa vfs.SetAttr, now time.Time) error {
	if sa.IsEmpty() {
		return nil
	}

	if sa.Size != nil {
		switch ino.Type {
		case vfs.FileTypeDirectory:
			return vfs.StatusIsDir
		case vfs.FileTypeRegular:
		default:
			return vfs.StatusInval
		}

		if *sa.Size != ino.Size {
			if err := f.content.Truncate(ctx, ino.ContentID, *sa.Size); err != nil {
				return contentError(err)
			}
			ino.Size = *sa.Size
			ino.Mtime = now
		}
	}

	if sa.Mode != nil {
		ino.Mode = *sa.Mode & 07777
	}
	if sa.UID != nil {
		ino.UID = *sa.UID
	}
	if sa.GID != nil {
		ino.GID = *sa.GID
	}

	atime, mtime := sa.ResolveTimes(now)
	if atime != nil {
		ino.Atime = *atime
	}
	if mtime != nil {
		ino.Mtime = *mtime
	}

	ino.Ctime = now
	return nil
}

func (f *FileSystem) SetAttr(ctx context.Context, id vfs.FileID, sa vfs.SetAttr) (*vfs.FileAttr, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var attr *vfs.FileAttr
	err := f.db.Update(func(txn *badger.Txn) error {
		ino, err := getInode(txn, id)
		if err != nil {
			return err
		}

		if err := f.applySetAttr(ctx, ino, sa, time.Now()); err != nil {
			return err
		}
		if err := putInode(txn, id, ino); err != nil {
			return err
		}

		attr = f.toAttr(id, ino)
		return nil
	})
	return attr, err
}

func (f *FileSystem) Read(ctx context.Context, id vfs.FileID, offset uint64, count uint32) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	var ino *inode
	err := f.db.View(func(txn *badger.Txn) error {
		var err error
		ino, err = getInode(txn, id)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	switch ino.Type {
	case vfs.FileTypeDirectory:
		return nil, false, vfs.StatusIsDir
	case vfs.FileTypeRegular:
	default:
		return nil, false, vfs.StatusInval
	}

	if offset >= ino.Size {
		return []byte{}, true, nil
	}

	n := min(uint64(count), ino.Size-offset)
	buf := make([]byte, n)

	// A blob shorter than the inode size, or one never written, reads as
	// zeros beyond its end.
	_, err = f.content.ReadAt(ctx, ino.ContentID, buf, int64(offset))
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, content.ErrContentNotFound) {
		return nil, false, contentError(err)
	}

	return buf, offset+n >= ino.Size, nil
}

func (f *FileSystem) Write(ctx context.Context, id vfs.FileID, offset uint64, data []byte) (*vfs.FileAttr, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var attr *vfs.FileAttr
	err := f.db.Update(func(txn *badger.Txn) error {
		ino, err := getInode(txn, id)
		if err != nil {
			return err
		}

		switch ino.Type {
		case vfs.FileTypeDirectory:
			return vfs.StatusIsDir
		case vfs.FileTypeRegular:
		default:
			return vfs.StatusInval
		}

		if err := f.content.WriteAt(ctx, ino.ContentID, data, int64(offset)); err != nil {
			return contentError(err)
		}

		now := time.Now()
		if end := offset + uint64(len(data)); end > ino.Size {
			ino.Size = end
		}
		ino.Mtime = now
		ino.Ctime = now

		if err := putInode(txn, id, ino); err != nil {
			return err
		}
		attr = f.toAttr(id, ino)
		return nil
	})
	return attr, err
}

// link allocates an id for ino and enters it into dir as name. It fails with
// StatusExist when name is taken; the caller decides whether that is fatal.
func (f *FileSystem) link(txn *badger.Txn, dir vfs.FileID, name string, ino *inode, now time.Time) (vfs.FileID, error) {
	parent, err := f.lookupDir(txn, dir)
	if err != nil {
		return 0, err
	}
	if err := checkName(name); err != nil {
		return 0, err
	}

	if _, err := getChild(txn, dir, name); err == nil {
		return 0, vfs.StatusExist
	} else if !errors.Is(err, vfs.StatusNoEnt) {
		return 0, err
	}

	id, err := f.nextID()
	if err != nil {
		return 0, err
	}

	ino.Parent = dir
	ino.Name = name
	if err := putInode(txn, id, ino); err != nil {
		return 0, err
	}
	if err := txn.Set(keyChild(dir, name), encodeID(id)); err != nil {
		return 0, fmt.Errorf("failed to set entry %q: %w", name, err)
	}

	parent.Mtime = now
	parent.Ctime = now
	if err := putInode(txn, dir, parent); err != nil {
		return 0, err
	}
	return id, nil
}

func newInode(typ vfs.FileType, mode uint32, now time.Time) *inode {
	return &inode{
		Type:  typ,
		Mode:  mode,
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
}

func (f *FileSystem) Create(ctx context.Context, dir vfs.FileID, name string, sa vfs.SetAttr) (vfs.FileID, *vfs.FileAttr, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var (
		id   vfs.FileID
		attr *vfs.FileAttr
	)
	err := f.db.Update(func(txn *badger.Txn) error {
		now := time.Now()

		existing, err := getChild(txn, dir, name)
		switch {
		case err == nil:
			ino, err := getInode(txn, existing)
			if err != nil {
				return err
			}
			if ino.Type != vfs.FileTypeRegular {
				return vfs.StatusExist
			}
			if err := f.applySetAttr(ctx, ino, sa, now); err != nil {
				return err
			}
			if err := putInode(txn, existing, ino); err != nil {
				return err
			}
			id, attr = existing, f.toAttr(existing, ino)
			return nil

		case !errors.Is(err, vfs.StatusNoEnt):
			return err
		}

		ino := newInode(vfs.FileTypeRegular, defaultFileMode, now)
		ino.ContentID = content.NewID()

		if id, err = f.link(txn, dir, name, ino, now); err != nil {
			return err
		}
		if err := f.applySetAttr(ctx, ino, sa, now); err != nil {
			return err
		}
		if err := putInode(txn, id, ino); err != nil {
			return err
		}

		attr = f.toAttr(id, ino)
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return id, attr, nil
}

func (f *FileSystem) CreateExclusive(ctx context.Context, dir vfs.FileID, name string) (vfs.FileID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var id vfs.FileID
	err := f.db.Update(func(txn *badger.Txn) error {
		now := time.Now()
		ino := newInode(vfs.FileTypeRegular, defaultFileMode, now)
		ino.ContentID = content.NewID()

		var err error
		id, err = f.link(txn, dir, name, ino, now)
		return err
	})
	return id, err
}

func (f *FileSystem) Symlink(ctx context.Context, dir vfs.FileID, name string, target string, sa vfs.SetAttr) (vfs.FileID, *vfs.FileAttr, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var (
		id   vfs.FileID
		attr *vfs.FileAttr
	)
	err := f.db.Update(func(txn *badger.Txn) error {
		now := time.Now()
		ino := newInode(vfs.FileTypeSymlink, defaultSymlinkMode, now)
		ino.Target = target

		var err error
		if id, err = f.link(txn, dir, name, ino, now); err != nil {
			return err
		}

		// Size is meaningless for a link.
		sa.Size = nil
		if err := f.applySetAttr(ctx, ino, sa, now); err != nil {
			return err
		}
		if err := putInode(txn, id, ino); err != nil {
			return err
		}

		attr = f.toAttr(id, ino)
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return id, attr, nil
}

func (f *FileSystem) ReadLink(ctx context.Context, id vfs.FileID) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	var target string
	err := f.db.View(func(txn *badger.Txn) error {
		ino, err := getInode(txn, id)
		if err != nil {
			return err
		}
		if ino.Type != vfs.FileTypeSymlink {
			return vfs.StatusInval
		}
		target = ino.Target
		return nil
	})
	return target, err
}
