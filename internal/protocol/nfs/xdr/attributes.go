package xdr

import (
	"time"

	"github.com/marmos91/forgefs/internal/protocol/nfs/types"
	"github.com/marmos91/forgefs/pkg/vfs"
)

// FileAttrToNFS converts backend attributes to fattr3. Mode is reduced to
// the permission bits; the file type travels separately.
func FileAttrToNFS(attr *vfs.FileAttr) *types.NFSFileAttr {
	if attr == nil {
		return nil
	}

	return &types.NFSFileAttr{
		Type:   uint32(attr.Type),
		Mode:   attr.Mode & 0o7777,
		Nlink:  attr.Nlink,
		UID:    attr.UID,
		GID:    attr.GID,
		Size:   attr.Size,
		Used:   attr.Used,
		Rdev:   types.SpecData{Major: attr.Rdev.Major, Minor: attr.Rdev.Minor},
		Fsid:   attr.Fsid,
		Fileid: uint64(attr.FileID),
		Atime:  TimeToTimeVal(attr.Atime),
		Mtime:  TimeToTimeVal(attr.Mtime),
		Ctime:  TimeToTimeVal(attr.Ctime),
	}
}

// CaptureWccAttr takes the pre-operation subset (size, mtime, ctime) of attr.
func CaptureWccAttr(attr *vfs.FileAttr) *types.WccAttr {
	if attr == nil {
		return nil
	}

	return &types.WccAttr{
		Size:  attr.Size,
		Mtime: TimeToTimeVal(attr.Mtime),
		Ctime: TimeToTimeVal(attr.Ctime),
	}
}

// TimeValToTime converts nfstime3 to time.Time.
func TimeValToTime(tv types.TimeVal) time.Time {
	return time.Unix(int64(tv.Seconds), int64(tv.Nseconds))
}

// TimeToTimeVal converts t to nfstime3. Times before the epoch encode as zero.
func TimeToTimeVal(t time.Time) types.TimeVal {
	if t.IsZero() || t.Unix() < 0 {
		return types.TimeVal{}
	}
	return types.TimeVal{
		Seconds:  uint32(t.Unix()),
		Nseconds: uint32(t.Nanosecond()),
	}
}
