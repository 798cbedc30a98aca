package vfs

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

// Status is an NFSv3 status code (nfsstat3, RFC 1813 section 2.6).
//
// Status implements error so backends can return it directly. StatusOK is
// never returned as an error; a nil error means success.
type Status uint32

const (
	StatusOK          Status = 0
	StatusPerm        Status = 1
	StatusNoEnt       Status = 2
	StatusIO          Status = 5
	StatusNXIO        Status = 6
	StatusAcces       Status = 13
	StatusExist       Status = 17
	StatusXDev        Status = 18
	StatusNoDev       Status = 19
	StatusNotDir      Status = 20
	StatusIsDir       Status = 21
	StatusInval       Status = 22
	StatusFBig        Status = 27
	StatusNoSpc       Status = 28
	StatusROFS        Status = 30
	StatusMLink       Status = 31
	StatusNameTooLong Status = 63
	StatusNotEmpty    Status = 66
	StatusDQuot       Status = 69
	StatusStale       Status = 70
	StatusRemote      Status = 71
	StatusBadHandle   Status = 10001
	StatusNotSync     Status = 10002
	StatusBadCookie   Status = 10003
	StatusNotSupp     Status = 10004
	StatusTooSmall    Status = 10005
	StatusServerFault Status = 10006
	StatusBadType     Status = 10007
	StatusJukebox     Status = 10008
)

func (s Status) Error() string {
	return s.String()
}

// String returns the RFC 1813 name of the status, suitable as a metric label.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "NFS3_OK"
	case StatusPerm:
		return "NFS3ERR_PERM"
	case StatusNoEnt:
		return "NFS3ERR_NOENT"
	case StatusIO:
		return "NFS3ERR_IO"
	case StatusNXIO:
		return "NFS3ERR_NXIO"
	case StatusAcces:
		return "NFS3ERR_ACCES"
	case StatusExist:
		return "NFS3ERR_EXIST"
	case StatusXDev:
		return "NFS3ERR_XDEV"
	case StatusNoDev:
		return "NFS3ERR_NODEV"
	case StatusNotDir:
		return "NFS3ERR_NOTDIR"
	case StatusIsDir:
		return "NFS3ERR_ISDIR"
	case StatusInval:
		return "NFS3ERR_INVAL"
	case StatusFBig:
		return "NFS3ERR_FBIG"
	case StatusNoSpc:
		return "NFS3ERR_NOSPC"
	case StatusROFS:
		return "NFS3ERR_ROFS"
	case StatusMLink:
		return "NFS3ERR_MLINK"
	case StatusNameTooLong:
		return "NFS3ERR_NAMETOOLONG"
	case StatusNotEmpty:
		return "NFS3ERR_NOTEMPTY"
	case StatusDQuot:
		return "NFS3ERR_DQUOT"
	case StatusStale:
		return "NFS3ERR_STALE"
	case StatusRemote:
		return "NFS3ERR_REMOTE"
	case StatusBadHandle:
		return "NFS3ERR_BADHANDLE"
	case StatusNotSync:
		return "NFS3ERR_NOT_SYNC"
	case StatusBadCookie:
		return "NFS3ERR_BAD_COOKIE"
	case StatusNotSupp:
		return "NFS3ERR_NOTSUPP"
	case StatusTooSmall:
		return "NFS3ERR_TOOSMALL"
	case StatusServerFault:
		return "NFS3ERR_SERVERFAULT"
	case StatusBadType:
		return "NFS3ERR_BADTYPE"
	case StatusJukebox:
		return "NFS3ERR_JUKEBOX"
	default:
		return fmt.Sprintf("UNKNOWN_%d", uint32(s))
	}
}

// IsClientError reports whether the status describes a problem with the
// request rather than with the server.
func (s Status) IsClientError() bool {
	switch s {
	case StatusIO, StatusNXIO, StatusServerFault, StatusJukebox, StatusNoSpc, StatusDQuot:
		return false
	default:
		return true
	}
}

// StatusOf reduces an error returned by a backend to the status sent on the
// wire. Errors that carry no Status map to StatusIO.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}

	var status Status
	if errors.As(err, &status) {
		return status
	}

	return StatusIO
}

// StatusFromOSError maps an error from the os package (or anything wrapping a
// syscall.Errno) to the closest status. Backends built on a real filesystem
// use it to translate failures.
func StatusFromOSError(err error) Status {
	if err == nil {
		return StatusOK
	}

	var status Status
	if errors.As(err, &status) {
		return status
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ENOENT:
			return StatusNoEnt
		case syscall.EEXIST:
			return StatusExist
		case syscall.EPERM:
			return StatusPerm
		case syscall.EACCES:
			return StatusAcces
		case syscall.ENOTDIR:
			return StatusNotDir
		case syscall.EISDIR:
			return StatusIsDir
		case syscall.EINVAL:
			return StatusInval
		case syscall.ENOTEMPTY:
			return StatusNotEmpty
		case syscall.ENAMETOOLONG:
			return StatusNameTooLong
		case syscall.ENOSPC:
			return StatusNoSpc
		case syscall.EROFS:
			return StatusROFS
		case syscall.EXDEV:
			return StatusXDev
		case syscall.EFBIG:
			return StatusFBig
		case syscall.EDQUOT:
			return StatusDQuot
		case syscall.EMLINK:
			return StatusMLink
		case syscall.ENXIO:
			return StatusNXIO
		case syscall.ENODEV:
			return StatusNoDev
		}
	}

	switch {
	case errors.Is(err, fs.ErrNotExist):
		return StatusNoEnt
	case errors.Is(err, fs.ErrExist):
		return StatusExist
	case errors.Is(err, fs.ErrPermission):
		return StatusAcces
	case errors.Is(err, fs.ErrInvalid):
		return StatusInval
	}

	return StatusIO
}
