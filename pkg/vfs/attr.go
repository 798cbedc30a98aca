package vfs

import "time"

// FileID names a filesystem object within one backend. 0 is never issued.
type FileID uint64

// FileType values match ftype3 on the wire.
type FileType uint32

const (
	FileTypeRegular   FileType = 1
	FileTypeDirectory FileType = 2
	FileTypeBlock     FileType = 3
	FileTypeChar      FileType = 4
	FileTypeSymlink   FileType = 5
	FileTypeSocket    FileType = 6
	FileTypeFIFO      FileType = 7
)

func (t FileType) String() string {
	switch t {
	case FileTypeRegular:
		return "REG"
	case FileTypeDirectory:
		return "DIR"
	case FileTypeBlock:
		return "BLK"
	case FileTypeChar:
		return "CHR"
	case FileTypeSymlink:
		return "LNK"
	case FileTypeSocket:
		return "SOCK"
	case FileTypeFIFO:
		return "FIFO"
	default:
		return "UNKNOWN"
	}
}

// SpecData carries the device numbers of block and character devices.
type SpecData struct {
	Major uint32
	Minor uint32
}

// FileAttr is a point-in-time snapshot of an object's attributes (fattr3).
type FileAttr struct {
	Type   FileType
	Mode   uint32 // permission bits only (07777)
	Nlink  uint32
	UID    uint32
	GID    uint32
	Size   uint64
	Used   uint64
	Rdev   SpecData
	Fsid   uint64
	FileID FileID
	Atime  time.Time
	Mtime  time.Time
	Ctime  time.Time
}

// TimeHow selects how SetAttr updates a timestamp (time_how in RFC 1813).
type TimeHow uint32

const (
	DontChange      TimeHow = 0
	SetToServerTime TimeHow = 1
	SetToClientTime TimeHow = 2
)

// SetAttr lists the attributes a client asked to change. Nil pointers are
// left untouched.
type SetAttr struct {
	Mode *uint32
	UID  *uint32
	GID  *uint32
	Size *uint64

	AtimeHow TimeHow
	Atime    time.Time // used when AtimeHow is SetToClientTime
	MtimeHow TimeHow
	Mtime    time.Time // used when MtimeHow is SetToClientTime
}

// IsEmpty reports whether no attribute change was requested.
func (s SetAttr) IsEmpty() bool {
	return s.Mode == nil && s.UID == nil && s.GID == nil && s.Size == nil &&
		s.AtimeHow == DontChange && s.MtimeHow == DontChange
}

// ResolveTimes returns the access and modification times to apply, with
// server-time requests resolved against now. A nil result means unchanged.
func (s SetAttr) ResolveTimes(now time.Time) (atime, mtime *time.Time) {
	switch s.AtimeHow {
	case SetToServerTime:
		atime = &now
	case SetToClientTime:
		t := s.Atime
		atime = &t
	}

	switch s.MtimeHow {
	case SetToServerTime:
		mtime = &now
	case SetToClientTime:
		t := s.Mtime
		mtime = &t
	}

	return atime, mtime
}

// DirEntry is one child returned by ReadDir. Attr is always populated.
type DirEntry struct {
	FileID FileID
	Name   string
	Attr   FileAttr
}

// DirEntrySimple is one child returned by ReadDirSimple.
type DirEntrySimple struct {
	FileID FileID
	Name   string
}

// ReadDirResult is one page of a directory listing.
type ReadDirResult struct {
	Entries []DirEntry
	EOF     bool
}

// ReadDirSimpleResult is one page of a name-only listing.
type ReadDirSimpleResult struct {
	Entries []DirEntrySimple
	EOF     bool
}

// FSInfo properties bits (FSF3_*).
const (
	FSFLink        uint32 = 0x0001
	FSFSymlink     uint32 = 0x0002
	FSFHomogeneous uint32 = 0x0008
	FSFCanSetTime  uint32 = 0x0010
)

// FSInfo describes static server limits (FSINFO3resok without attributes).
type FSInfo struct {
	RtMax       uint32
	RtPref      uint32
	RtMult      uint32
	WtMax       uint32
	WtPref      uint32
	WtMult      uint32
	DtPref      uint32
	MaxFileSize uint64
	TimeDelta   time.Duration
	Properties  uint32
}

// FSStat describes dynamic filesystem usage (FSSTAT3resok without attributes).
type FSStat struct {
	TotalBytes uint64
	FreeBytes  uint64
	AvailBytes uint64
	TotalFiles uint64
	FreeFiles  uint64
	AvailFiles uint64
	Invarsec   uint32
}
