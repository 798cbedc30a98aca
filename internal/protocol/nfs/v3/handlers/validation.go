package handlers

import (
	"fmt"
	"strings"

	"github.com/marmos91/forgefs/internal/protocol/nfs/types"
)

// validationError is a request that decoded fine but cannot be honoured.
// It carries the NFS status to return.
type validationError struct {
	message   string
	nfsStatus uint32
}

func (e *validationError) Error() string {
	return e.message
}

// validateFilename checks a component name taken from diropargs3.
// "." and ".." are only legal for lookups.
func validateFilename(name string, allowDots bool) *validationError {
	if name == "" {
		return &validationError{
			message:   "empty filename",
			nfsStatus: types.NFS3ErrInval,
		}
	}

	if len(name) > types.MaxNameLen {
		return &validationError{
			message:   fmt.Sprintf("filename too long: %d bytes (max %d)", len(name), types.MaxNameLen),
			nfsStatus: types.NFS3ErrNameTooLong,
		}
	}

	if strings.ContainsAny(name, "/\x00") {
		return &validationError{
			message:   "filename contains invalid characters (null or path separator)",
			nfsStatus: types.NFS3ErrInval,
		}
	}

	if !allowDots && (name == "." || name == "..") {
		return &validationError{
			message:   fmt.Sprintf("filename cannot be '%s'", name),
			nfsStatus: types.NFS3ErrInval,
		}
	}

	return nil
}
