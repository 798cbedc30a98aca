// Package absvfs exports any absfs filesystem, most usefully the in-memory
// memfs used for scratch exports and tests.
//
// Like localfs it interns paths as FileIDs. absfs exposes neither inode
// numbers nor separate access and change times, so Atime and Ctime mirror the
// modification time and ownership is tracked only as far as the underlying
// filesystem reports it.
package absvfs

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/absfs/absfs"
	"github.com/absfs/memfs"

	"github.com/marmos91/forgefs/internal/logger"
	"github.com/marmos91/forgefs/pkg/vfs"
	"github.com/marmos91/forgefs/pkg/vfs/internal/idmap"
)

const (
	defaultFileMode = 0644
	defaultDirMode  = 0755
)

// FileSystem adapts an absfs.SymlinkFileSystem to vfs.FileSystem.
type FileSystem struct {
	fs   absfs.SymlinkFileSystem
	ids  *idmap.Table
	fsid uint64

	// opMu serializes namespace changes. absfs implementations make no
	// promises about check-then-act sequences such as exclusive create.
	opMu sync.Mutex
}

var (
	_ vfs.FileSystem      = (*FileSystem)(nil)
	_ vfs.SimpleDirReader = (*FileSystem)(nil)
)

// New wraps filer. Filers without native symlink support get absfs's
// symlink overlay.
func New(filer absfs.Filer) *FileSystem {
	return &FileSystem{
		fs:   absfs.ExtendSymlinkFiler(filer),
		ids:  idmap.New(),
		fsid: 0x6d656d, // "mem"
	}
}

// NewMemory returns a FileSystem backed by a fresh memfs.
func NewMemory() (*FileSystem, error) {
	mfs, err := memfs.NewFS()
	if err != nil {
		return nil, err
	}
	return New(mfs), nil
}

func (f *FileSystem) Capabilities() vfs.Capabilities {
	return vfs.ReadWrite
}

func (f *FileSystem) RootDir() vfs.FileID {
	return idmap.RootID
}

func absPath(rel string) string {
	return "/" + rel
}

func (f *FileSystem) resolve(id vfs.FileID) (string, error) {
	rel, ok := f.ids.Path(id)
	if !ok {
		return "", vfs.StatusStale
	}
	return rel, nil
}

func (f *FileSystem) lstat(rel string) (os.FileInfo, error) {
	fi, err := f.fs.Lstat(absPath(rel))
	if err != nil {
		return nil, vfs.StatusFromOSError(err)
	}
	return fi, nil
}

// requireRegular limits Read and Write to regular files. Symlinks are not
// followed.
func requireRegular(fi os.FileInfo) error {
	switch {
	case fi.IsDir():
		return vfs.StatusIsDir
	case !fi.Mode().IsRegular():
		return vfs.StatusInval
	}
	return nil
}

// dirChild resolves dir, checks that it is a directory, and returns the path
// of name inside it.
func (f *FileSystem) dirChild(dir vfs.FileID, name string) (string, error) {
	dirRel, err := f.resolve(dir)
	if err != nil {
		return "", err
	}
	fi, err := f.lstat(dirRel)
	if err != nil {
		return "", err
	}
	if !fi.IsDir() {
		return "", vfs.StatusNotDir
	}
	return idmap.Join(dirRel, name), nil
}

func (f *FileSystem) attr(rel string, id vfs.FileID) (*vfs.FileAttr, error) {
	fi, err := f.lstat(rel)
	if err != nil {
		return nil, err
	}
	return f.attrFromInfo(fi, id), nil
}

func (f *FileSystem) attrFromInfo(fi os.FileInfo, id vfs.FileID) *vfs.FileAttr {
	m := fi.Mode()

	mode := uint32(m.Perm())
	if m&os.ModeSetuid != 0 {
		mode |= 04000
	}
	if m&os.ModeSetgid != 0 {
		mode |= 02000
	}
	if m&os.ModeSticky != 0 {
		mode |= 01000
	}

	a := &vfs.FileAttr{
		Type:   fileType(m),
		Mode:   mode,
		Nlink:  1,
		Size:   uint64(fi.Size()),
		Used:   uint64(fi.Size()),
		Fsid:   f.fsid,
		FileID: id,
		Atime:  fi.ModTime(),
		Mtime:  fi.ModTime(),
		Ctime:  fi.ModTime(),
	}
	if m.IsDir() {
		a.Nlink = 2
		a.Size = 4096
		a.Used = 4096
	}
	return a
}

func fileType(m os.FileMode) vfs.FileType {
	switch {
	case m.IsDir():
		return vfs.FileTypeDirectory
	case m&os.ModeSymlink != 0:
		return vfs.FileTypeSymlink
	case m&os.ModeCharDevice != 0:
		return vfs.FileTypeChar
	case m&os.ModeDevice != 0:
		return vfs.FileTypeBlock
	case m&os.ModeSocket != 0:
		return vfs.FileTypeSocket
	case m&os.ModeNamedPipe != 0:
		return vfs.FileTypeFIFO
	default:
		return vfs.FileTypeRegular
	}
}

func (f *FileSystem) Lookup(ctx context.Context, dir vfs.FileID, name string) (vfs.FileID, error) {
	dirRel, err := f.resolve(dir)
	if err != nil {
		return 0, err
	}

	switch name {
	case ".":
		return dir, nil
	case "..":
		parent := path.Dir(dirRel)
		if dirRel == "" || parent == "." {
			return idmap.RootID, nil
		}
		return f.ids.Intern(parent), nil
	}

	rel, err := f.dirChild(dir, name)
	if err != nil {
		return 0, err
	}
	if _, err := f.lstat(rel); err != nil {
		return 0, err
	}
	return f.ids.Intern(rel), nil
}

func (f *FileSystem) GetAttr(ctx context.Context, id vfs.FileID) (*vfs.FileAttr, error) {
	rel, err := f.resolve(id)
	if err != nil {
		return nil, err
	}
	return f.attr(rel, id)
}

func (f *FileSystem) SetAttr(ctx context.Context, id vfs.FileID, sa vfs.SetAttr) (*vfs.FileAttr, error) {
	rel, err := f.resolve(id)
	if err != nil {
		return nil, err
	}
	p := absPath(rel)

	fi, err := f.lstat(rel)
	if err != nil {
		return nil, err
	}
	isLink := fi.Mode()&os.ModeSymlink != 0

	if sa.Size != nil {
		if fi.IsDir() {
			return nil, vfs.StatusIsDir
		}
		if !fi.Mode().IsRegular() {
			return nil, vfs.StatusInval
		}
		if err := f.fs.Truncate(p, int64(*sa.Size)); err != nil {
			return nil, vfs.StatusFromOSError(err)
		}
	}

	if sa.Mode != nil && !isLink {
		if err := f.fs.Chmod(p, fileMode(fi.Mode(), *sa.Mode)); err != nil {
			return nil, vfs.StatusFromOSError(err)
		}
	}

	if sa.UID != nil || sa.GID != nil {
		uid, gid := -1, -1
		if sa.UID != nil {
			uid = int(*sa.UID)
		}
		if sa.GID != nil {
			gid = int(*sa.GID)
		}
		chown := f.fs.Chown
		if isLink {
			chown = f.fs.Lchown
		}
		if err := chown(p, uid, gid); err != nil {
			return nil, vfs.StatusFromOSError(err)
		}
	}

	if atime, mtime := sa.ResolveTimes(time.Now()); (atime != nil || mtime != nil) && !isLink {
		if atime == nil {
			t := fi.ModTime()
			atime = &t
		}
		if mtime == nil {
			t := fi.ModTime()
			mtime = &t
		}
		if err := f.fs.Chtimes(p, *atime, *mtime); err != nil {
			return nil, vfs.StatusFromOSError(err)
		}
	}

	return f.attr(rel, id)
}

// fileMode keeps the type bits of current and replaces the permission bits.
func fileMode(current os.FileMode, mode uint32) os.FileMode {
	m := current.Type() | os.FileMode(mode&0777)
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

func (f *FileSystem) Read(ctx context.Context, id vfs.FileID, offset uint64, count uint32) ([]byte, bool, error) {
	rel, err := f.resolve(id)
	if err != nil {
		return nil, false, err
	}

	fi, err := f.lstat(rel)
	if err != nil {
		return nil, false, err
	}
	if err := requireRegular(fi); err != nil {
		return nil, false, err
	}

	size := uint64(fi.Size())
	if offset >= size {
		return []byte{}, true, nil
	}

	want := uint64(count)
	if remaining := size - offset; want > remaining {
		want = remaining
	}

	file, err := f.fs.Open(absPath(rel))
	if err != nil {
		return nil, false, vfs.StatusFromOSError(err)
	}
	defer file.Close()

	buf := make([]byte, want)
	n, err := file.ReadAt(buf, int64(offset))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, false, vfs.StatusFromOSError(err)
	}

	return buf[:n], offset+uint64(n) >= size, nil
}

func (f *FileSystem) Write(ctx context.Context, id vfs.FileID, offset uint64, data []byte) (*vfs.FileAttr, error) {
	rel, err := f.resolve(id)
	if err != nil {
		return nil, err
	}

	fi, err := f.lstat(rel)
	if err != nil {
		return nil, err
	}
	if err := requireRegular(fi); err != nil {
		return nil, err
	}

	file, err := f.fs.OpenFile(absPath(rel), os.O_RDWR, 0)
	if err != nil {
		return nil, vfs.StatusFromOSError(err)
	}

	// Pad explicitly: not every absfs implementation zero-fills holes.
	if size := uint64(fi.Size()); offset > size {
		if _, err := file.WriteAt(make([]byte, offset-size), int64(size)); err != nil {
			file.Close()
			return nil, vfs.StatusFromOSError(err)
		}
	}

	if _, err := file.WriteAt(data, int64(offset)); err != nil {
		file.Close()
		return nil, vfs.StatusFromOSError(err)
	}
	if err := file.Close(); err != nil {
		return nil, vfs.StatusFromOSError(err)
	}

	return f.attr(rel, id)
}

func (f *FileSystem) Create(ctx context.Context, dir vfs.FileID, name string, sa vfs.SetAttr) (vfs.FileID, *vfs.FileAttr, error) {
	f.opMu.Lock()
	defer f.opMu.Unlock()

	rel, err := f.dirChild(dir, name)
	if err != nil {
		return 0, nil, err
	}

	if fi, err := f.fs.Lstat(absPath(rel)); err == nil {
		if !fi.Mode().IsRegular() {
			return 0, nil, vfs.StatusExist
		}
	} else if err := f.createFile(rel, sa.Mode); err != nil {
		return 0, nil, err
	}

	id := f.ids.Intern(rel)
	if sa.IsEmpty() {
		a, err := f.attr(rel, id)
		return id, a, err
	}

	a, err := f.SetAttr(ctx, id, sa)
	if err != nil {
		return 0, nil, err
	}
	return id, a, nil
}

func (f *FileSystem) createFile(rel string, mode *uint32) error {
	perm := os.FileMode(defaultFileMode)
	if mode != nil {
		perm = fileMode(0, *mode)
	}

	file, err := f.fs.OpenFile(absPath(rel), os.O_CREATE|os.O_EXCL|os.O_RDWR, perm)
	if err != nil {
		return vfs.StatusFromOSError(err)
	}
	if err := file.Close(); err != nil {
		return vfs.StatusFromOSError(err)
	}
	return nil
}

func (f *FileSystem) CreateExclusive(ctx context.Context, dir vfs.FileID, name string) (vfs.FileID, error) {
	f.opMu.Lock()
	defer f.opMu.Unlock()

	rel, err := f.dirChild(dir, name)
	if err != nil {
		return 0, err
	}

	if _, err := f.fs.Lstat(absPath(rel)); err == nil {
		return 0, vfs.StatusExist
	}
	if err := f.createFile(rel, nil); err != nil {
		return 0, err
	}

	return f.ids.Intern(rel), nil
}

func (f *FileSystem) Mkdir(ctx context.Context, dir vfs.FileID, name string) (vfs.FileID, *vfs.FileAttr, error) {
	f.opMu.Lock()
	defer f.opMu.Unlock()

	rel, err := f.dirChild(dir, name)
	if err != nil {
		return 0, nil, err
	}

	if _, err := f.fs.Lstat(absPath(rel)); err == nil {
		return 0, nil, vfs.StatusExist
	}
	if err := f.fs.Mkdir(absPath(rel), defaultDirMode); err != nil {
		return 0, nil, vfs.StatusFromOSError(err)
	}

	id := f.ids.Intern(rel)
	a, err := f.attr(rel, id)
	if err != nil {
		return 0, nil, err
	}
	return id, a, nil
}

func (f *FileSystem) Remove(ctx context.Context, dir vfs.FileID, name string) error {
	f.opMu.Lock()
	defer f.opMu.Unlock()

	rel, err := f.dirChild(dir, name)
	if err != nil {
		return err
	}

	fi, err := f.lstat(rel)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		entries, err := f.fs.ReadDir(absPath(rel))
		if err != nil {
			return vfs.StatusFromOSError(err)
		}
		if len(entries) > 0 {
			return vfs.StatusNotEmpty
		}
	}

	if err := f.fs.Remove(absPath(rel)); err != nil {
		return vfs.StatusFromOSError(err)
	}

	f.ids.Forget(rel)
	return nil
}

func (f *FileSystem) Rename(ctx context.Context, fromDir vfs.FileID, fromName string, toDir vfs.FileID, toName string) error {
	f.opMu.Lock()
	defer f.opMu.Unlock()

	fromRel, err := f.dirChild(fromDir, fromName)
	if err != nil {
		return err
	}
	toRel, err := f.dirChild(toDir, toName)
	if err != nil {
		return err
	}

	src, err := f.lstat(fromRel)
	if err != nil {
		return err
	}
	if toRel == fromRel {
		return nil
	}
	if strings.HasPrefix(toRel, fromRel+"/") {
		return vfs.StatusInval
	}

	// Replace an existing target the way rename(2) does.
	if dst, err := f.fs.Lstat(absPath(toRel)); err == nil {
		switch {
		case dst.IsDir() && !src.IsDir():
			return vfs.StatusIsDir
		case !dst.IsDir() && src.IsDir():
			return vfs.StatusNotDir
		case dst.IsDir():
			entries, err := f.fs.ReadDir(absPath(toRel))
			if err != nil {
				return vfs.StatusFromOSError(err)
			}
			if len(entries) > 0 {
				return vfs.StatusNotEmpty
			}
		}
		if err := f.fs.Remove(absPath(toRel)); err != nil {
			return vfs.StatusFromOSError(err)
		}
	}

	if err := f.fs.Rename(absPath(fromRel), absPath(toRel)); err != nil {
		return vfs.StatusFromOSError(err)
	}

	f.ids.Rename(fromRel, toRel)
	return nil
}

// listing returns the sorted child names of dir after startAfter.
func (f *FileSystem) listing(ctx context.Context, dir vfs.FileID, startAfter vfs.FileID, max int) (string, []string, bool, error) {
	dirRel, err := f.resolve(dir)
	if err != nil {
		return "", nil, false, err
	}

	entries, err := f.fs.ReadDir(absPath(dirRel))
	if err != nil {
		return "", nil, false, vfs.StatusFromOSError(err)
	}

	all := make([]string, 0, len(entries))
	for _, e := range entries {
		if n := e.Name(); n != "." && n != ".." {
			all = append(all, n)
		}
	}
	sort.Strings(all)

	start := 0
	if startAfter != 0 {
		after, ok := f.ids.Path(startAfter)
		if !ok || path.Dir("/"+after) != path.Clean("/"+dirRel) {
			return "", nil, false, vfs.StatusBadCookie
		}
		start = sort.SearchStrings(all, path.Base(after))
		if start < len(all) && all[start] == path.Base(after) {
			start++
		}
	}

	if err := ctx.Err(); err != nil {
		return "", nil, false, err
	}

	end := len(all)
	if max > 0 && start+max < end {
		end = start + max
	}
	return dirRel, all[start:end], end == len(all), nil
}

func (f *FileSystem) ReadDir(ctx context.Context, dir vfs.FileID, startAfter vfs.FileID, maxEntries int) (*vfs.ReadDirResult, error) {
	dirRel, names, eof, err := f.listing(ctx, dir, startAfter, maxEntries)
	if err != nil {
		return nil, err
	}

	result := &vfs.ReadDirResult{Entries: make([]vfs.DirEntry, 0, len(names)), EOF: eof}
	for _, name := range names {
		rel := idmap.Join(dirRel, name)
		id := f.ids.Intern(rel)

		a, err := f.attr(rel, id)
		if err != nil {
			logger.Debug("absvfs: skipping %s: %v", rel, err)
			continue
		}
		result.Entries = append(result.Entries, vfs.DirEntry{FileID: id, Name: name, Attr: *a})
	}
	return result, nil
}

func (f *FileSystem) ReadDirSimple(ctx context.Context, dir vfs.FileID, startAfter vfs.FileID, maxEntries int) (*vfs.ReadDirSimpleResult, error) {
	dirRel, names, eof, err := f.listing(ctx, dir, startAfter, maxEntries)
	if err != nil {
		return nil, err
	}

	result := &vfs.ReadDirSimpleResult{Entries: make([]vfs.DirEntrySimple, 0, len(names)), EOF: eof}
	for _, name := range names {
		id := f.ids.Intern(idmap.Join(dirRel, name))
		result.Entries = append(result.Entries, vfs.DirEntrySimple{FileID: id, Name: name})
	}
	return result, nil
}

func (f *FileSystem) Symlink(ctx context.Context, dir vfs.FileID, name string, target string, sa vfs.SetAttr) (vfs.FileID, *vfs.FileAttr, error) {
	f.opMu.Lock()
	defer f.opMu.Unlock()

	rel, err := f.dirChild(dir, name)
	if err != nil {
		return 0, nil, err
	}

	if _, err := f.fs.Lstat(absPath(rel)); err == nil {
		return 0, nil, vfs.StatusExist
	}
	if err := f.fs.Symlink(target, absPath(rel)); err != nil {
		return 0, nil, vfs.StatusFromOSError(err)
	}

	id := f.ids.Intern(rel)

	sa.Mode = nil
	sa.Size = nil
	if sa.IsEmpty() {
		a, err := f.attr(rel, id)
		return id, a, err
	}

	a, err := f.SetAttr(ctx, id, sa)
	if err != nil {
		return 0, nil, err
	}
	return id, a, nil
}

func (f *FileSystem) ReadLink(ctx context.Context, id vfs.FileID) (string, error) {
	rel, err := f.resolve(id)
	if err != nil {
		return "", err
	}

	fi, err := f.lstat(rel)
	if err != nil {
		return "", err
	}
	if fi.Mode()&os.ModeSymlink == 0 {
		return "", vfs.StatusInval
	}

	target, err := f.fs.Readlink(absPath(rel))
	if err != nil {
		return "", vfs.StatusFromOSError(err)
	}
	return target, nil
}
