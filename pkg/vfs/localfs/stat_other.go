//go:build !linux

package localfs

import (
	"context"
	"os"
	"time"

	"github.com/marmos91/forgefs/pkg/vfs"
)

// stat builds attributes from os.Lstat. Ownership, link counts and device
// numbers are not available portably and are reported as zero.
func (fs *FileSystem) stat(full string, id vfs.FileID) (*vfs.FileAttr, error) {
	fi, err := os.Lstat(full)
	if err != nil {
		return nil, vfs.StatusFromOSError(err)
	}

	mode := uint32(fi.Mode().Perm())
	if fi.Mode()&os.ModeSetuid != 0 {
		mode |= 04000
	}
	if fi.Mode()&os.ModeSetgid != 0 {
		mode |= 02000
	}
	if fi.Mode()&os.ModeSticky != 0 {
		mode |= 01000
	}

	return &vfs.FileAttr{
		Type:   fileType(fi.Mode()),
		Mode:   mode,
		Nlink:  1,
		Size:   uint64(fi.Size()),
		Used:   uint64(fi.Size()),
		Fsid:   fs.fsid,
		FileID: id,
		Atime:  fi.ModTime(),
		Mtime:  fi.ModTime(),
		Ctime:  fi.ModTime(),
	}, nil
}

// openNoFollow is empty where O_NOFOLLOW is not portable; openRegular's
// Lstat check still applies.
const openNoFollow = 0

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

func setTimes(full string, attr vfs.SetAttr) error {
	atime, mtime := attr.ResolveTimes(time.Now())
	if atime == nil && mtime == nil {
		return nil
	}

	fi, err := os.Lstat(full)
	if err != nil {
		return err
	}
	if atime == nil {
		t := fi.ModTime()
		atime = &t
	}
	if mtime == nil {
		t := fi.ModTime()
		mtime = &t
	}
	return os.Chtimes(full, *atime, *mtime)
}

func deviceOf(string) uint64 {
	return 0
}

func (fs *FileSystem) FSStat(ctx context.Context, id vfs.FileID) (*vfs.FSStat, error) {
	return &vfs.FSStat{}, nil
}
