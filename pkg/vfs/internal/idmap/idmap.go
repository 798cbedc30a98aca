// Package idmap interns slash-separated paths as FileIDs for path-based
// backends.
//
// Bindings are created lazily the first time a path is seen and live until
// the path is forgotten or renamed. IDs come from a counter and are never
// reused within one process. The table lock is held only while the maps are
// touched, never across filesystem I/O.
package idmap

import (
	"strings"
	"sync"

	"github.com/marmos91/forgefs/pkg/vfs"
)

// RootID is the FileID of the root directory ("").
const RootID vfs.FileID = 1

// Table is a bidirectional path <-> FileID map.
type Table struct {
	mu     sync.Mutex
	byID   map[vfs.FileID]string
	byPath map[string]vfs.FileID
	next   vfs.FileID
}

// New returns a table holding only the root binding.
func New() *Table {
	return &Table{
		byID:   map[vfs.FileID]string{RootID: ""},
		byPath: map[string]vfs.FileID{"": RootID},
		next:   RootID + 1,
	}
}

// Join appends name to a table path.
func Join(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// Intern returns the id bound to path, assigning a new one if needed.
func (t *Table) Intern(path string) vfs.FileID {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.byPath[path]; ok {
		return id
	}

	id := t.next
	t.next++
	t.byPath[path] = id
	t.byID[id] = path
	return id
}

// Path returns the path currently bound to id.
func (t *Table) Path(id vfs.FileID) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.byID[id]
	return p, ok
}

// ID returns the id bound to path without creating one.
func (t *Table) ID(path string) (vfs.FileID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.byPath[path]
	return id, ok
}

// Forget drops path and every binding below it.
func (t *Table) Forget(path string) {
	if path == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.dropLocked(path)
}

// Rename re-points path `from` (and its subtree) to `to`. Whatever was bound
// at `to` is dropped first, mirroring rename(2) replacing its target.
func (t *Table) Rename(from, to string) {
	if from == to || from == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.dropLocked(to)

	prefix := from + "/"
	moved := make(map[string]vfs.FileID)
	for p, id := range t.byPath {
		if p == from {
			moved[to] = id
		} else if strings.HasPrefix(p, prefix) {
			moved[to+"/"+p[len(prefix):]] = id
		} else {
			continue
		}
		delete(t.byPath, p)
	}

	for p, id := range moved {
		t.byPath[p] = id
		t.byID[id] = p
	}
}

// Len returns the number of live bindings, root included.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.byID)
}

func (t *Table) dropLocked(path string) {
	if id, ok := t.byPath[path]; ok {
		delete(t.byPath, path)
		delete(t.byID, id)
	}

	prefix := path + "/"
	for p, id := range t.byPath {
		if strings.HasPrefix(p, prefix) {
			delete(t.byPath, p)
			delete(t.byID, id)
		}
	}
}
