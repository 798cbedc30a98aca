//go:build linux

package localfs

import (
	"context"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/marmos91/forgefs/pkg/vfs"
)

// stat builds attributes from lstat(2). FileID is the interned id, not the
// inode number: clients use it as the READDIR cookie.
func (fs *FileSystem) stat(full string, id vfs.FileID) (*vfs.FileAttr, error) {
	var st unix.Stat_t
	if err := unix.Lstat(full, &st); err != nil {
		return nil, vfs.StatusFromOSError(&os.PathError{Op: "lstat", Path: full, Err: err})
	}

	return &vfs.FileAttr{
		Type:  fileType(st.Mode),
		Mode:  st.Mode & 07777,
		Nlink: uint32(st.Nlink),
		UID:   st.Uid,
		GID:   st.Gid,
		Size:  uint64(st.Size),
		Used:  uint64(st.Blocks) * 512,
		Rdev: vfs.SpecData{
			Major: unix.Major(uint64(st.Rdev)),
			Minor: unix.Minor(uint64(st.Rdev)),
		},
		Fsid:   fs.fsid,
		FileID: id,
		Atime:  time.Unix(st.Atim.Unix()),
		Mtime:  time.Unix(st.Mtim.Unix()),
		Ctime:  time.Unix(st.Ctim.Unix()),
	}, nil
}

// openNoFollow keeps open(2) off symlinks, and off FIFOs that have no writer.
const openNoFollow = unix.O_NOFOLLOW | unix.O_NONBLOCK

func fileType(mode uint32) vfs.FileType {
	switch mode & unix.S_IFMT {
	case unix.S_IFDIR:
		return vfs.FileTypeDirectory
	case unix.S_IFLNK:
		return vfs.FileTypeSymlink
	case unix.S_IFBLK:
		return vfs.FileTypeBlock
	case unix.S_IFCHR:
		return vfs.FileTypeChar
	case unix.S_IFSOCK:
		return vfs.FileTypeSocket
	case unix.S_IFIFO:
		return vfs.FileTypeFIFO
	default:
		return vfs.FileTypeRegular
	}
}

// setTimes updates atime and mtime without following symlinks. A time left
// at DONT_CHANGE is passed as UTIME_OMIT.
func setTimes(full string, attr vfs.SetAttr) error {
	atime, mtime := attr.ResolveTimes(time.Now())
	if atime == nil && mtime == nil {
		return nil
	}

	ts := []unix.Timespec{
		{Nsec: unix.UTIME_OMIT},
		{Nsec: unix.UTIME_OMIT},
	}
	if atime != nil {
		ts[0] = unix.NsecToTimespec(atime.UnixNano())
	}
	if mtime != nil {
		ts[1] = unix.NsecToTimespec(mtime.UnixNano())
	}

	if err := unix.UtimesNanoAt(unix.AT_FDCWD, full, ts, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return &os.PathError{Op: "utimensat", Path: full, Err: err}
	}
	return nil
}

func deviceOf(full string) uint64 {
	var st unix.Stat_t
	if err := unix.Stat(full, &st); err != nil {
		return 0
	}
	return uint64(st.Dev)
}

// FSStat reports usage of the filesystem holding the export root.
func (fs *FileSystem) FSStat(ctx context.Context, id vfs.FileID) (*vfs.FSStat, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(fs.root, &st); err != nil {
		return nil, vfs.StatusFromOSError(err)
	}

	bsize := uint64(st.Bsize)
	return &vfs.FSStat{
		TotalBytes: st.Blocks * bsize,
		FreeBytes:  st.Bfree * bsize,
		AvailBytes: st.Bavail * bsize,
		TotalFiles: st.Files,
		FreeFiles:  st.Ffree,
		AvailFiles: st.Ffree,
	}, nil
}
