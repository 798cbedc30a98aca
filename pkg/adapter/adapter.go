package adapter

import (
	"context"
	"net"
)

// Adapter is a protocol server managed by the forgefs server command.
//
// Lifecycle:
//  1. Creation: the adapter is built with its protocol configuration and
//     the filesystem it exports
//  2. Startup: Serve() binds and blocks until shutdown
//  3. Shutdown: Stop() or context cancellation starts a graceful shutdown
//
// Implementations must be safe for concurrent use. Stop() may be called
// concurrently with Serve().
type Adapter interface {
	// Serve starts the protocol server and blocks until the context is
	// cancelled or an unrecoverable error occurs.
	//
	// On cancellation Serve stops accepting connections, waits for active
	// ones (with timeout) and returns nil, or an error if connections had to
	// be force-closed.
	Serve(ctx context.Context) error

	// Stop initiates graceful shutdown and waits until ctx is done. It is
	// idempotent.
	Stop(ctx context.Context) error

	// Protocol returns the protocol name for logging and metrics, e.g. "NFS".
	Protocol() string

	// Addr returns the bound address, or nil before Serve has bound.
	Addr() net.Addr
}
