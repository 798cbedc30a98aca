// Package nfs routes ONC RPC calls to the NFS version 3 procedure handlers.
//
// # Layout
//
//   - rpc: call and reply headers, AUTH_UNIX credentials, record marking
//   - xdr: XDR helpers and attribute conversion shared by the handlers
//   - types: NFSv3 wire constants and structures
//   - v3/handlers: one file per NFSv3 procedure
//
// The Dispatcher in this package takes one reassembled RPC record and
// produces the reply message. It validates, in order, the RPC version, the
// credential flavour, the program number, the program version and the
// procedure number, then runs the matching handler.
//
// MKNOD, LINK and COMMIT are not served. Writes are always FILE_SYNC so
// COMMIT has nothing to flush, and the backends expose neither hard links nor
// device nodes.
//
// # Errors
//
// Handlers report filesystem failures as nfsstat3 values inside a successful
// RPC reply. A Go error from a handler means the server could not produce an
// answer at all and is sent as SYSTEM_ERR. Argument decode failures are sent
// as GARBAGE_ARGS.
package nfs
