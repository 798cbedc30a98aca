package xdr

import (
	"context"
	"errors"

	"github.com/marmos91/forgefs/internal/logger"
	"github.com/marmos91/forgefs/pkg/vfs"
)

// MapErrorToNFSStatus converts a backend error to an nfsstat3 value and logs
// it: client errors at DEBUG, server-side failures at ERROR.
func MapErrorToNFSStatus(err error, clientIP string, operation string) uint32 {
	if err == nil {
		return uint32(vfs.StatusOK)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		logger.Debug("%s cancelled: %v client=%s", operation, err, clientIP)
		return uint32(vfs.StatusIO)
	}

	status := vfs.StatusOf(err)
	if status.IsClientError() {
		logger.Debug("%s failed: %s client=%s", operation, status, clientIP)
	} else {
		logger.Error("%s failed: %v client=%s", operation, err, clientIP)
	}

	return uint32(status)
}
