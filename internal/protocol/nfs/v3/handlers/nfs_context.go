package handlers

import (
	"context"

	"github.com/marmos91/forgefs/pkg/vfs"
)

// NFSHandlerContext is the per-request context passed to every NFS v3
// procedure handler.
//
// It is built by the dispatcher for each call and never mutated afterwards.
type NFSHandlerContext struct {
	// Context carries cancellation from server shutdown and connection close.
	Context context.Context

	// ClientAddr is the remote "IP:port" of the connection.
	ClientAddr string

	// Generation is the server instance generation. File handles minted
	// under any other generation are STALE or BADHANDLE.
	Generation vfs.Generation

	// Export is the export name clients mount, used in logs.
	Export string

	// AuthFlavor is the RPC credential flavour (AUTH_NULL or AUTH_UNIX).
	AuthFlavor uint32

	// Unix credentials, nil unless AuthFlavor is AUTH_UNIX.
	UID  *uint32
	GID  *uint32
	GIDs []uint32
}

// GetContext returns the Go context for cancellation handling.
func (c *NFSHandlerContext) GetContext() context.Context {
	return c.Context
}

// GetClientAddr returns the client's network address.
func (c *NFSHandlerContext) GetClientAddr() string {
	return c.ClientAddr
}

// GetAuthFlavor returns the RPC authentication flavor.
func (c *NFSHandlerContext) GetAuthFlavor() uint32 {
	return c.AuthFlavor
}

// isCancelled returns the context error once the request has been
// cancelled.
func (c *NFSHandlerContext) isCancelled() error {
	select {
	case <-c.Context.Done():
		return c.Context.Err()
	default:
		return nil
	}
}
