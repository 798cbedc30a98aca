package kvfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/forgefs/internal/logger"
	"github.com/marmos91/forgefs/pkg/content"
	"github.com/marmos91/forgefs/pkg/vfs"
)

// lookupDir loads dir and checks it is a directory.
func (f *FileSystem) lookupDir(txn *badger.Txn, dir vfs.FileID) (*inode, error) {
	ino, err := getInode(txn, dir)
	if err != nil {
		return nil, err
	}
	if ino.Type != vfs.FileTypeDirectory {
		return nil, vfs.StatusNotDir
	}
	return ino, nil
}

func (f *FileSystem) Lookup(ctx context.Context, dir vfs.FileID, name string) (vfs.FileID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	var id vfs.FileID
	err := f.db.View(func(txn *badger.Txn) error {
		parent, err := f.lookupDir(txn, dir)
		if err != nil {
			return err
		}

		switch name {
		case ".":
			id = dir
			return nil
		case "..":
			id = parent.Parent
			return nil
		}

		id, err = getChild(txn, dir, name)
		return err
	})
	return id, err
}

func (f *FileSystem) Mkdir(ctx context.Context, dir vfs.FileID, name string) (vfs.FileID, *vfs.FileAttr, error) {
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
		ino := newInode(vfs.FileTypeDirectory, defaultDirMode, now)

		var err error
		if id, err = f.link(txn, dir, name, ino, now); err != nil {
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

// unlink removes the entry name from dir and the inode it points to. It
// returns the blob to delete once the transaction commits, if any.
func (f *FileSystem) unlink(txn *badger.Txn, dir vfs.FileID, name string, id vfs.FileID, ino *inode) (content.ID, error) {
	if ino.Type == vfs.FileTypeDirectory && hasChildren(txn, id) {
		return "", vfs.StatusNotEmpty
	}

	if err := txn.Delete(keyChild(dir, name)); err != nil {
		return "", fmt.Errorf("failed to delete entry %q: %w", name, err)
	}
	if err := txn.Delete(keyInode(id)); err != nil {
		return "", fmt.Errorf("failed to delete inode %d: %w", id, err)
	}
	return ino.ContentID, nil
}

// touch updates a directory's modification and change times.
func touch(txn *badger.Txn, dir vfs.FileID, now time.Time) error {
	ino, err := getInode(txn, dir)
	if err != nil {
		return err
	}
	ino.Mtime = now
	ino.Ctime = now
	return putInode(txn, dir, ino)
}

// releaseContent deletes blobs orphaned by a committed transaction. Failures
// only leak space, so they are logged rather than reported.
func (f *FileSystem) releaseContent(ctx context.Context, id content.ID) {
	if id == "" {
		return
	}
	if err := f.content.Delete(ctx, id); err != nil {
		logger.Warn("kvfs: failed to delete content %s: %v", id, err)
	}
}

func (f *FileSystem) Remove(ctx context.Context, dir vfs.FileID, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var orphan content.ID
	err := f.db.Update(func(txn *badger.Txn) error {
		if _, err := f.lookupDir(txn, dir); err != nil {
			return err
		}
		if name == "." || name == ".." {
			return vfs.StatusInval
		}

		id, err := getChild(txn, dir, name)
		if err != nil {
			return err
		}
		ino, err := getInode(txn, id)
		if err != nil {
			return err
		}

		if orphan, err = f.unlink(txn, dir, name, id, ino); err != nil {
			return err
		}
		return touch(txn, dir, time.Now())
	})
	if err != nil {
		return err
	}

	f.releaseContent(ctx, orphan)
	return nil
}

// isAncestor reports whether dir is ancestor or equal to id, walking parent
// links up to the root.
func isAncestor(txn *badger.Txn, dir, id vfs.FileID) (bool, error) {
	for {
		if id == dir {
			return true, nil
		}
		if id == RootID {
			return false, nil
		}
		ino, err := getInode(txn, id)
		if err != nil {
			return false, err
		}
		id = ino.Parent
	}
}

func (f *FileSystem) Rename(ctx context.Context, fromDir vfs.FileID, fromName string, toDir vfs.FileID, toName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var orphan content.ID
	err := f.db.Update(func(txn *badger.Txn) error {
		if _, err := f.lookupDir(txn, fromDir); err != nil {
			return err
		}
		if _, err := f.lookupDir(txn, toDir); err != nil {
			return err
		}
		if fromName == "." || fromName == ".." {
			return vfs.StatusInval
		}
		if err := checkName(toName); err != nil {
			return err
		}

		srcID, err := getChild(txn, fromDir, fromName)
		if err != nil {
			return err
		}
		if fromDir == toDir && fromName == toName {
			return nil
		}

		src, err := getInode(txn, srcID)
		if err != nil {
			return err
		}

		if src.Type == vfs.FileTypeDirectory {
			inside, err := isAncestor(txn, srcID, toDir)
			if err != nil {
				return err
			}
			if inside {
				return vfs.StatusInval
			}
		}

		if dstID, err := getChild(txn, toDir, toName); err == nil {
			dst, err := getInode(txn, dstID)
			if err != nil {
				return err
			}
			switch {
			case dstID == srcID:
				return nil
			case dst.Type == vfs.FileTypeDirectory && src.Type != vfs.FileTypeDirectory:
				return vfs.StatusIsDir
			case dst.Type != vfs.FileTypeDirectory && src.Type == vfs.FileTypeDirectory:
				return vfs.StatusNotDir
			}
			if orphan, err = f.unlink(txn, toDir, toName, dstID, dst); err != nil {
				return err
			}
		} else if !errors.Is(err, vfs.StatusNoEnt) {
			return err
		}

		now := time.Now()
		if err := txn.Delete(keyChild(fromDir, fromName)); err != nil {
			return fmt.Errorf("failed to delete entry %q: %w", fromName, err)
		}
		if err := txn.Set(keyChild(toDir, toName), encodeID(srcID)); err != nil {
			return fmt.Errorf("failed to set entry %q: %w", toName, err)
		}

		src.Parent = toDir
		src.Name = toName
		src.Ctime = now
		if err := putInode(txn, srcID, src); err != nil {
			return err
		}

		if err := touch(txn, fromDir, now); err != nil {
			return err
		}
		if toDir != fromDir {
			return touch(txn, toDir, now)
		}
		return nil
	})
	if err != nil {
		return err
	}

	f.releaseContent(ctx, orphan)
	return nil
}

// scan visits the entries of dir in name order, starting after the entry
// for startAfter, until visit returns false. It reports whether the end of
// the directory was reached.
func (f *FileSystem) scan(txn *badger.Txn, dir vfs.FileID, startAfter vfs.FileID, visit func(name string, id vfs.FileID) bool) (bool, error) {
	if _, err := f.lookupDir(txn, dir); err != nil {
		return false, err
	}

	prefix := keyChildPrefix(dir)
	start := prefix
	var skip []byte

	if startAfter != 0 {
		after, err := getInode(txn, startAfter)
		if err != nil || after.Parent != dir || startAfter == dir {
			return false, vfs.StatusBadCookie
		}
		skip = keyChild(dir, after.Name)
		start = skip
	}

	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		if skip != nil && bytes.Equal(item.Key(), skip) {
			continue
		}

		var id vfs.FileID
		if err := item.Value(func(val []byte) error {
			id = decodeID(val)
			return nil
		}); err != nil {
			return false, err
		}

		if !visit(childName(item.KeyCopy(nil)), id) {
			return false, nil
		}
	}
	return true, nil
}

func (f *FileSystem) ReadDir(ctx context.Context, dir vfs.FileID, startAfter vfs.FileID, maxEntries int) (*vfs.ReadDirResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	result := &vfs.ReadDirResult{Entries: []vfs.DirEntry{}}
	err := f.db.View(func(txn *badger.Txn) error {
		var visitErr error
		eof, err := f.scan(txn, dir, startAfter, func(name string, id vfs.FileID) bool {
			if maxEntries > 0 && len(result.Entries) >= maxEntries {
				return false
			}
			ino, err := getInode(txn, id)
			if err != nil {
				visitErr = err
				return false
			}
			result.Entries = append(result.Entries, vfs.DirEntry{FileID: id, Name: name, Attr: *f.toAttr(id, ino)})
			return true
		})
		if visitErr != nil {
			return visitErr
		}
		result.EOF = eof
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (f *FileSystem) ReadDirSimple(ctx context.Context, dir vfs.FileID, startAfter vfs.FileID, maxEntries int) (*vfs.ReadDirSimpleResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	result := &vfs.ReadDirSimpleResult{Entries: []vfs.DirEntrySimple{}}
	err := f.db.View(func(txn *badger.Txn) error {
		eof, err := f.scan(txn, dir, startAfter, func(name string, id vfs.FileID) bool {
			if maxEntries > 0 && len(result.Entries) >= maxEntries {
				return false
			}
			result.Entries = append(result.Entries, vfs.DirEntrySimple{FileID: id, Name: name})
			return true
		})
		result.EOF = eof
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
