// Package localfs exports a directory of the host filesystem.
//
// FileIDs are interned paths relative to the export root (see idmap), so they
// are stable for the life of the process and survive renames done through
// the server. Changes made behind the server's back are picked up lazily: a
// path that vanished answers NOENT, and an id whose path was removed through
// the server answers STALE.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/marmos91/forgefs/internal/logger"
	"github.com/marmos91/forgefs/pkg/vfs"
	"github.com/marmos91/forgefs/pkg/vfs/internal/idmap"
)

// Default permissions for objects created without an explicit mode.
const (
	defaultFileMode = 0644
	defaultDirMode  = 0755
)

// FileSystem serves a local directory tree.
type FileSystem struct {
	root string
	ids  *idmap.Table
	fsid uint64
}

var (
	_ vfs.FileSystem      = (*FileSystem)(nil)
	_ vfs.SimpleDirReader = (*FileSystem)(nil)
	_ vfs.FSStatProvider  = (*FileSystem)(nil)
)

// New returns a FileSystem rooted at dir, which must be an existing
// directory.
func New(dir string) (*FileSystem, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve export root %q: %w", dir, err)
	}

	fi, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat export root: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("export root %s is not a directory", abs)
	}

	logger.Debug("localfs: exporting %s", abs)

	return &FileSystem{
		root: abs,
		ids:  idmap.New(),
		fsid: deviceOf(abs),
	}, nil
}

// Root returns the absolute host path being exported.
func (fs *FileSystem) Root() string {
	return fs.root
}

func (fs *FileSystem) Capabilities() vfs.Capabilities {
	return vfs.ReadWrite
}

func (fs *FileSystem) RootDir() vfs.FileID {
	return idmap.RootID
}

// resolve returns the table path bound to id and its host path.
func (fs *FileSystem) resolve(id vfs.FileID) (rel string, full string, err error) {
	rel, ok := fs.ids.Path(id)
	if !ok {
		return "", "", vfs.StatusStale
	}
	return rel, fs.hostPath(rel), nil
}

func (fs *FileSystem) hostPath(rel string) string {
	if rel == "" {
		return fs.root
	}
	return filepath.Join(fs.root, filepath.FromSlash(rel))
}

// child resolves dir and returns the table and host paths of name inside it.
func (fs *FileSystem) child(dir vfs.FileID, name string) (rel string, full string, err error) {
	dirRel, _, err := fs.resolve(dir)
	if err != nil {
		return "", "", err
	}
	rel = idmap.Join(dirRel, name)
	return rel, fs.hostPath(rel), nil
}

func (fs *FileSystem) Lookup(ctx context.Context, dir vfs.FileID, name string) (vfs.FileID, error) {
	dirRel, dirFull, err := fs.resolve(dir)
	if err != nil {
		return 0, err
	}

	if err := requireDir(dirFull); err != nil {
		return 0, err
	}

	switch name {
	case ".":
		return dir, nil
	case "..":
		if dirRel == "" {
			return idmap.RootID, nil
		}
		parent := path.Dir(dirRel)
		if parent == "." {
			parent = ""
		}
		return fs.ids.Intern(parent), nil
	}

	rel := idmap.Join(dirRel, name)
	if _, err := os.Lstat(fs.hostPath(rel)); err != nil {
		return 0, vfs.StatusFromOSError(err)
	}
	return fs.ids.Intern(rel), nil
}

func (fs *FileSystem) GetAttr(ctx context.Context, id vfs.FileID) (*vfs.FileAttr, error) {
	_, full, err := fs.resolve(id)
	if err != nil {
		return nil, err
	}
	return fs.stat(full, id)
}

// SetAttr applies size, mode, ownership and times in that order. Mode is
// ignored for symlinks, whose permission bits are meaningless on Linux.
func (fs *FileSystem) SetAttr(ctx context.Context, id vfs.FileID, attr vfs.SetAttr) (*vfs.FileAttr, error) {
	_, full, err := fs.resolve(id)
	if err != nil {
		return nil, err
	}

	fi, err := os.Lstat(full)
	if err != nil {
		return nil, vfs.StatusFromOSError(err)
	}

	if attr.Size != nil {
		if !fi.Mode().IsRegular() {
			if fi.IsDir() {
				return nil, vfs.StatusIsDir
			}
			return nil, vfs.StatusInval
		}
		if err := os.Truncate(full, int64(*attr.Size)); err != nil {
			return nil, vfs.StatusFromOSError(err)
		}
	}

	if attr.Mode != nil && fi.Mode()&os.ModeSymlink == 0 {
		if err := os.Chmod(full, unixMode(*attr.Mode)); err != nil {
			return nil, vfs.StatusFromOSError(err)
		}
	}

	if attr.UID != nil || attr.GID != nil {
		uid, gid := -1, -1
		if attr.UID != nil {
			uid = int(*attr.UID)
		}
		if attr.GID != nil {
			gid = int(*attr.GID)
		}
		if err := os.Lchown(full, uid, gid); err != nil {
			return nil, vfs.StatusFromOSError(err)
		}
	}

	if err := setTimes(full, attr); err != nil {
		return nil, vfs.StatusFromOSError(err)
	}

	return fs.stat(full, id)
}

func (fs *FileSystem) Read(ctx context.Context, id vfs.FileID, offset uint64, count uint32) ([]byte, bool, error) {
	_, full, err := fs.resolve(id)
	if err != nil {
		return nil, false, err
	}

	f, fi, err := openRegular(full, os.O_RDONLY)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	size := uint64(fi.Size())
	if offset >= size {
		return []byte{}, true, nil
	}

	want := uint64(count)
	if remaining := size - offset; want > remaining {
		want = remaining
	}

	buf := make([]byte, want)
	n, err := f.ReadAt(buf, int64(offset))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, false, vfs.StatusFromOSError(err)
	}

	return buf[:n], offset+uint64(n) >= size, nil
}

func (fs *FileSystem) Write(ctx context.Context, id vfs.FileID, offset uint64, data []byte) (*vfs.FileAttr, error) {
	_, full, err := fs.resolve(id)
	if err != nil {
		return nil, err
	}

	f, _, err := openRegular(full, os.O_WRONLY)
	if err != nil {
		return nil, err
	}

	if _, err := f.WriteAt(data, int64(offset)); err != nil {
		f.Close()
		return nil, vfs.StatusFromOSError(err)
	}

	// Writes are answered FILE_SYNC, so they must be durable before replying.
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, vfs.StatusFromOSError(err)
	}

	if err := f.Close(); err != nil {
		return nil, vfs.StatusFromOSError(err)
	}

	return fs.stat(full, id)
}

func (fs *FileSystem) Create(ctx context.Context, dir vfs.FileID, name string, attr vfs.SetAttr) (vfs.FileID, *vfs.FileAttr, error) {
	rel, full, err := fs.child(dir, name)
	if err != nil {
		return 0, nil, err
	}

	if fi, err := os.Lstat(full); err == nil && !fi.Mode().IsRegular() {
		return 0, nil, vfs.StatusExist
	}

	perm := os.FileMode(defaultFileMode)
	if attr.Mode != nil {
		perm = unixMode(*attr.Mode)
	}

	f, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY, perm)
	if err != nil {
		return 0, nil, vfs.StatusFromOSError(err)
	}
	if err := f.Close(); err != nil {
		return 0, nil, vfs.StatusFromOSError(err)
	}

	id := fs.ids.Intern(rel)

	if attr.IsEmpty() {
		a, err := fs.stat(full, id)
		return id, a, err
	}

	a, err := fs.SetAttr(ctx, id, attr)
	if err != nil {
		return 0, nil, err
	}
	return id, a, nil
}

func (fs *FileSystem) CreateExclusive(ctx context.Context, dir vfs.FileID, name string) (vfs.FileID, error) {
	rel, full, err := fs.child(dir, name)
	if err != nil {
		return 0, err
	}

	f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, defaultFileMode)
	if err != nil {
		return 0, vfs.StatusFromOSError(err)
	}
	if err := f.Close(); err != nil {
		return 0, vfs.StatusFromOSError(err)
	}

	return fs.ids.Intern(rel), nil
}

func (fs *FileSystem) Mkdir(ctx context.Context, dir vfs.FileID, name string) (vfs.FileID, *vfs.FileAttr, error) {
	rel, full, err := fs.child(dir, name)
	if err != nil {
		return 0, nil, err
	}

	if err := os.Mkdir(full, defaultDirMode); err != nil {
		return 0, nil, vfs.StatusFromOSError(err)
	}

	id := fs.ids.Intern(rel)
	a, err := fs.stat(full, id)
	if err != nil {
		return 0, nil, err
	}
	return id, a, nil
}

func (fs *FileSystem) Remove(ctx context.Context, dir vfs.FileID, name string) error {
	rel, full, err := fs.child(dir, name)
	if err != nil {
		return err
	}

	if err := os.Remove(full); err != nil {
		// rmdir(2) on a non-empty directory reports EEXIST on some systems.
		if fi, statErr := os.Lstat(full); statErr == nil && fi.IsDir() && errors.Is(err, os.ErrExist) {
			return vfs.StatusNotEmpty
		}
		return vfs.StatusFromOSError(err)
	}

	fs.ids.Forget(rel)
	return nil
}

func (fs *FileSystem) Rename(ctx context.Context, fromDir vfs.FileID, fromName string, toDir vfs.FileID, toName string) error {
	fromRel, fromFull, err := fs.child(fromDir, fromName)
	if err != nil {
		return err
	}
	toRel, toFull, err := fs.child(toDir, toName)
	if err != nil {
		return err
	}

	if toRel == fromRel {
		if _, err := os.Lstat(fromFull); err != nil {
			return vfs.StatusFromOSError(err)
		}
		return nil
	}
	if strings.HasPrefix(toRel, fromRel+"/") {
		return vfs.StatusInval
	}

	if err := os.Rename(fromFull, toFull); err != nil {
		return vfs.StatusFromOSError(err)
	}

	fs.ids.Rename(fromRel, toRel)
	return nil
}

// listing returns the children of dir that sort after startAfter, at most
// max of them, and whether the end of the directory was reached.
//
// os.ReadDir sorts by name, which gives the deterministic order cookies rely
// on. Resuming is done by name rather than by position so entries removed
// between pages do not shift the listing.
func (fs *FileSystem) listing(ctx context.Context, dir vfs.FileID, startAfter vfs.FileID, max int) (string, []os.DirEntry, bool, error) {
	dirRel, dirFull, err := fs.resolve(dir)
	if err != nil {
		return "", nil, false, err
	}

	entries, err := os.ReadDir(dirFull)
	if err != nil {
		return "", nil, false, vfs.StatusFromOSError(err)
	}

	start := 0
	if startAfter != 0 {
		after, ok := fs.ids.Path(startAfter)
		if !ok || path.Dir("/"+after) != path.Clean("/"+dirRel) {
			return "", nil, false, vfs.StatusBadCookie
		}
		afterName := path.Base(after)
		for start < len(entries) && entries[start].Name() <= afterName {
			start++
		}
	}

	if err := ctx.Err(); err != nil {
		return "", nil, false, err
	}

	end := len(entries)
	if max > 0 && start+max < end {
		end = start + max
	}

	return dirRel, entries[start:end], end == len(entries), nil
}

func (fs *FileSystem) ReadDir(ctx context.Context, dir vfs.FileID, startAfter vfs.FileID, maxEntries int) (*vfs.ReadDirResult, error) {
	dirRel, entries, eof, err := fs.listing(ctx, dir, startAfter, maxEntries)
	if err != nil {
		return nil, err
	}

	result := &vfs.ReadDirResult{
		Entries: make([]vfs.DirEntry, 0, len(entries)),
		EOF:     eof,
	}
	for _, e := range entries {
		rel := idmap.Join(dirRel, e.Name())
		id := fs.ids.Intern(rel)

		attr, err := fs.stat(fs.hostPath(rel), id)
		if err != nil {
			// Removed between the listing and the stat.
			logger.Debug("localfs: skipping %s: %v", rel, err)
			continue
		}

		result.Entries = append(result.Entries, vfs.DirEntry{FileID: id, Name: e.Name(), Attr: *attr})
	}
	return result, nil
}

func (fs *FileSystem) ReadDirSimple(ctx context.Context, dir vfs.FileID, startAfter vfs.FileID, maxEntries int) (*vfs.ReadDirSimpleResult, error) {
	dirRel, entries, eof, err := fs.listing(ctx, dir, startAfter, maxEntries)
	if err != nil {
		return nil, err
	}

	result := &vfs.ReadDirSimpleResult{
		Entries: make([]vfs.DirEntrySimple, 0, len(entries)),
		EOF:     eof,
	}
	for _, e := range entries {
		id := fs.ids.Intern(idmap.Join(dirRel, e.Name()))
		result.Entries = append(result.Entries, vfs.DirEntrySimple{FileID: id, Name: e.Name()})
	}
	return result, nil
}

func (fs *FileSystem) Symlink(ctx context.Context, dir vfs.FileID, name string, target string, attr vfs.SetAttr) (vfs.FileID, *vfs.FileAttr, error) {
	rel, full, err := fs.child(dir, name)
	if err != nil {
		return 0, nil, err
	}

	if err := os.Symlink(target, full); err != nil {
		return 0, nil, vfs.StatusFromOSError(err)
	}

	id := fs.ids.Intern(rel)

	attr.Mode = nil
	attr.Size = nil
	if attr.IsEmpty() {
		a, err := fs.stat(full, id)
		return id, a, err
	}

	a, err := fs.SetAttr(ctx, id, attr)
	if err != nil {
		return 0, nil, err
	}
	return id, a, nil
}

func (fs *FileSystem) ReadLink(ctx context.Context, id vfs.FileID) (string, error) {
	_, full, err := fs.resolve(id)
	if err != nil {
		return "", err
	}

	target, err := os.Readlink(full)
	if err != nil {
		return "", vfs.StatusFromOSError(err)
	}
	return target, nil
}

// openRegular opens full without following a final symlink. Anything but a
// regular file is refused, both before and after the open.
func openRegular(full string, flag int) (*os.File, os.FileInfo, error) {
	fi, err := os.Lstat(full)
	if err != nil {
		return nil, nil, vfs.StatusFromOSError(err)
	}
	if err := requireRegular(fi); err != nil {
		return nil, nil, err
	}

	f, err := os.OpenFile(full, flag|openNoFollow, 0)
	if err != nil {
		return nil, nil, vfs.StatusFromOSError(err)
	}

	fi, err = f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, vfs.StatusFromOSError(err)
	}
	if err := requireRegular(fi); err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, fi, nil
}

func requireRegular(fi os.FileInfo) error {
	switch {
	case fi.IsDir():
		return vfs.StatusIsDir
	case !fi.Mode().IsRegular():
		return vfs.StatusInval
	}
	return nil
}

func requireDir(full string) error {
	fi, err := os.Lstat(full)
	if err != nil {
		return vfs.StatusFromOSError(err)
	}
	if !fi.IsDir() {
		return vfs.StatusNotDir
	}
	return nil
}

// unixMode converts NFS permission bits (including setuid, setgid and
// sticky) to an os.FileMode.
func unixMode(mode uint32) os.FileMode {
	m := os.FileMode(mode & 0777)
	if mode&04000 != 0 {
		m |= os.ModeSetuid
	}
	if mode&02000 != 0 {
		m |= os.ModeSetgid
	}
	if mode&01000 != 0 {
		m |= os.ModeSticky
	}
	return m
}
