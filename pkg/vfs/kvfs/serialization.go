package kvfs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/forgefs/pkg/content"
	"github.com/marmos91/forgefs/pkg/vfs"
)

// inode is the persisted form of one filesystem object. JSON keeps the
// database inspectable with badger's CLI tools.
type inode struct {
	Type  vfs.FileType `json:"type"`
	Mode  uint32       `json:"mode"`
	UID   uint32       `json:"uid"`
	GID   uint32       `json:"gid"`
	Size  uint64       `json:"size"`
	Atime time.Time    `json:"atime"`
	Mtime time.Time    `json:"mtime"`
	Ctime time.Time    `json:"ctime"`

	// Parent and Name locate the single directory entry pointing here.
	// Hard links are not supported, so there is exactly one. The root is
	// its own parent.
	Parent vfs.FileID `json:"parent"`
	Name   string     `json:"name"`

	// ContentID names the blob holding a regular file's data. The blob is
	// created on first write or truncate.
	ContentID content.ID `json:"content_id,omitempty"`

	// Target is a symlink's target.
	Target string `json:"target,omitempty"`
}

func encodeInode(ino *inode) ([]byte, error) {
	data, err := json.Marshal(ino)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal inode: %w", err)
	}
	return data, nil
}

func decodeInode(data []byte) (*inode, error) {
	var ino inode
	if err := json.Unmarshal(data, &ino); err != nil {
		return nil, fmt.Errorf("failed to unmarshal inode: %w", err)
	}
	return &ino, nil
}

// getInode loads id. Unknown ids are stale handles.
func getInode(txn *badger.Txn, id vfs.FileID) (*inode, error) {
	item, err := txn.Get(keyInode(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, vfs.StatusStale
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get inode %d: %w", id, err)
	}

	var ino *inode
	err = item.Value(func(val []byte) error {
		ino, err = decodeInode(val)
		return err
	})
	return ino, err
}

func putInode(txn *badger.Txn, id vfs.FileID, ino *inode) error {
	data, err := encodeInode(ino)
	if err != nil {
		return err
	}
	if err := txn.Set(keyInode(id), data); err != nil {
		return fmt.Errorf("failed to put inode %d: %w", id, err)
	}
	return nil
}

// getChild returns the id name points to in dir, StatusNoEnt when absent.
func getChild(txn *badger.Txn, dir vfs.FileID, name string) (vfs.FileID, error) {
	item, err := txn.Get(keyChild(dir, name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, vfs.StatusNoEnt
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get entry %q: %w", name, err)
	}

	var id vfs.FileID
	err = item.Value(func(val []byte) error {
		id = decodeID(val)
		return nil
	})
	return id, err
}

// hasChildren reports whether dir has at least one entry.
func hasChildren(txn *badger.Txn, dir vfs.FileID) bool {
	prefix := keyChildPrefix(dir)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	it.Seek(prefix)
	return it.ValidForPrefix(prefix)
}
