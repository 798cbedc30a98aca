// Package types holds NFSv3 wire constants and the fixed-layout structures
// shared by the XDR codec and the procedure handlers (RFC 1813).
package types

import "github.com/marmos91/forgefs/pkg/vfs"

// NFS version 3 procedure numbers.
const (
	NFSProcNull        = 0
	NFSProcGetAttr     = 1
	NFSProcSetAttr     = 2
	NFSProcLookup      = 3
	NFSProcAccess      = 4
	NFSProcReadLink    = 5
	NFSProcRead        = 6
	NFSProcWrite       = 7
	NFSProcCreate      = 8
	NFSProcMkdir       = 9
	NFSProcSymlink     = 10
	NFSProcMknod       = 11
	NFSProcRemove      = 12
	NFSProcRmdir       = 13
	NFSProcRename      = 14
	NFSProcLink        = 15
	NFSProcReadDir     = 16
	NFSProcReadDirPlus = 17
	NFSProcFsStat      = 18
	NFSProcFsInfo      = 19
	NFSProcPathConf    = 20
	NFSProcCommit      = 21
)

// Status codes most often referenced by handlers, as raw wire values.
const (
	NFS3OK             = uint32(vfs.StatusOK)
	NFS3ErrNoEnt       = uint32(vfs.StatusNoEnt)
	NFS3ErrIO          = uint32(vfs.StatusIO)
	NFS3ErrExist       = uint32(vfs.StatusExist)
	NFS3ErrNotDir      = uint32(vfs.StatusNotDir)
	NFS3ErrIsDir       = uint32(vfs.StatusIsDir)
	NFS3ErrInval       = uint32(vfs.StatusInval)
	NFS3ErrRofs        = uint32(vfs.StatusROFS)
	NFS3ErrNameTooLong = uint32(vfs.StatusNameTooLong)
	NFS3ErrStale       = uint32(vfs.StatusStale)
	NFS3ErrBadHandle   = uint32(vfs.StatusBadHandle)
	NFS3ErrNotSync     = uint32(vfs.StatusNotSync)
	NFS3ErrBadCookie   = uint32(vfs.StatusBadCookie)
	NFS3ErrNotSupp     = uint32(vfs.StatusNotSupp)
	NFS3ErrServerFault = uint32(vfs.StatusServerFault)
)

// Protocol limits.
const (
	FHSize         = 64   // NFS3_FHSIZE
	MaxNameLen     = 255  // longest component name accepted
	MaxPathLen     = 4096 // longest symlink target accepted
	CookieVerfSize = 8
	WriteVerfSize  = 8
	CreateVerfSize = 8
)

// ACCESS3 bits.
const (
	AccessRead    = 0x0001
	AccessLookup  = 0x0002
	AccessModify  = 0x0004
	AccessExtend  = 0x0008
	AccessDelete  = 0x0010
	AccessExecute = 0x0020
)

// createmode3.
const (
	CreateUnchecked = 0
	CreateGuarded   = 1
	CreateExclusive = 2
)

// stable_how.
const (
	Unstable = 0
	DataSync = 1
	FileSync = 2
)

// TimeVal is nfstime3.
type TimeVal struct {
	Seconds  uint32
	Nseconds uint32
}

// SpecData is specdata3.
type SpecData struct {
	Major uint32
	Minor uint32
}

// NFSFileAttr is fattr3. Field order is the wire order.
type NFSFileAttr struct {
	Type   uint32
	Mode   uint32
	Nlink  uint32
	UID    uint32
	GID    uint32
	Size   uint64
	Used   uint64
	Rdev   SpecData
	Fsid   uint64
	Fileid uint64
	Atime  TimeVal
	Mtime  TimeVal
	Ctime  TimeVal
}

// WccAttr is wcc_attr: the subset of attributes captured before a mutation.
type WccAttr struct {
	Size  uint64
	Mtime TimeVal
	Ctime TimeVal
}

// FSStatResult is the fixed part of FSSTAT3resok.
type FSStatResult struct {
	TotalBytes uint64
	FreeBytes  uint64
	AvailBytes uint64
	TotalFiles uint64
	FreeFiles  uint64
	AvailFiles uint64
	Invarsec   uint32
}

// FSInfoResult is the fixed part of FSINFO3resok.
type FSInfoResult struct {
	RtMax       uint32
	RtPref      uint32
	RtMult      uint32
	WtMax       uint32
	WtPref      uint32
	WtMult      uint32
	DtPref      uint32
	MaxFileSize uint64
	TimeDelta   TimeVal
	Properties  uint32
}

// PathConfResult is the fixed part of PATHCONF3resok.
type PathConfResult struct {
	LinkMax         uint32
	NameMax         uint32
	NoTrunc         bool
	ChownRestricted bool
	CaseInsensitive bool
	CasePreserving  bool
}

// TimeGuard is sattrguard3.
type TimeGuard struct {
	Check bool
	Time  TimeVal
}
