package nfs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/forgefs/internal/logger"
	"github.com/marmos91/forgefs/internal/protocol/nfs/rpc"
	"github.com/marmos91/forgefs/internal/protocol/nfs/types"
	"github.com/marmos91/forgefs/internal/protocol/nfs/v3/handlers"
	"github.com/marmos91/forgefs/pkg/metrics"
	"github.com/marmos91/forgefs/pkg/vfs"
)

// ============================================================================
// Dispatcher
// ============================================================================

// Dispatcher turns complete RPC records into reply messages.
//
// It holds no per-call state: the backend, the server generation and the
// export name are fixed at construction, so one Dispatcher serves every
// connection concurrently.
type Dispatcher struct {
	handler    *handlers.Handler
	generation vfs.Generation
	export     string
	metrics    metrics.NFSMetrics
}

// NewDispatcher creates a Dispatcher serving fs. A nil m disables metrics.
func NewDispatcher(fs vfs.FileSystem, generation vfs.Generation, export string, m metrics.NFSMetrics) *Dispatcher {
	if m == nil {
		m = metrics.NewNoopNFSMetrics()
	}
	return &Dispatcher{
		handler:    handlers.NewHandler(fs),
		generation: generation,
		export:     export,
		metrics:    m,
	}
}

// Generation returns the server generation embedded in issued handles.
func (d *Dispatcher) Generation() vfs.Generation {
	return d.generation
}

// Dispatch processes one RPC record and returns the unframed reply.
//
// The order of checks is: RPC version, credentials, program, program
// version, procedure. A record whose header cannot be decoded has no
// trustworthy XID and yields a nil reply; the caller drops it.
func (d *Dispatcher) Dispatch(ctx context.Context, record []byte, clientAddr string) ([]byte, error) {
	call, args, err := rpc.ReadCall(record)
	if err != nil {
		logger.Debug("Dropping malformed RPC call from %s: %v", clientAddr, err)
		return nil, nil
	}

	logger.Debug("RPC Call: XID=0x%x Program=%d Version=%d Procedure=%d client=%s",
		call.XID, call.Program, call.Version, call.Procedure, clientAddr)

	if call.RPCVersion != rpc.RPCVersion {
		logger.Debug("RPC version mismatch: XID=0x%x version=%d client=%s", call.XID, call.RPCVersion, clientAddr)
		return rpc.MakeRPCMismatchReply(call.XID, rpc.RPCVersion, rpc.RPCVersion)
	}

	hctx, authStat := d.authContext(ctx, call, clientAddr)
	if authStat != rpc.AuthOK {
		logger.Debug("Rejecting credentials: XID=0x%x flavor=%d auth_stat=%d client=%s",
			call.XID, call.GetAuthFlavor(), authStat, clientAddr)
		return rpc.MakeAuthErrorReply(call.XID, authStat)
	}

	if call.Program != rpc.ProgramNFS {
		logger.Debug("Unknown program: %d client=%s", call.Program, clientAddr)
		return rpc.MakeErrorReply(call.XID, rpc.RPCProgUnavail)
	}

	if call.Version != rpc.NFSVersion3 {
		logger.Debug("Unsupported NFS version %d client=%s", call.Version, clientAddr)
		return rpc.MakeProgMismatchReply(call.XID, rpc.NFSVersion3, rpc.NFSVersion3)
	}

	procInfo, ok := dispatchTable[call.Procedure]
	if !ok {
		logger.Debug("Unavailable NFS procedure %d client=%s", call.Procedure, clientAddr)
		return rpc.MakeErrorReply(call.XID, rpc.RPCProcUnavail)
	}

	d.metrics.RecordRequestStart(procInfo.Name, d.export)
	defer d.metrics.RecordRequestEnd(procInfo.Name, d.export)

	startTime := time.Now()
	body, status, err := procInfo.Handler(d, hctx, args)
	duration := time.Since(startTime)

	if err != nil {
		var garbage *garbageArgsError
		if errors.As(err, &garbage) {
			logger.Debug("NFS %s: garbage arguments from %s: %v", procInfo.Name, clientAddr, garbage.err)
			d.metrics.RecordRequest(procInfo.Name, d.export, duration, "GARBAGE_ARGS")
			return rpc.MakeErrorReply(call.XID, rpc.RPCGarbageArgs)
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			logger.Debug("NFS %s cancelled: xid=0x%x client=%s error=%v", procInfo.Name, call.XID, clientAddr, err)
		} else {
			logger.Error("NFS %s failed: xid=0x%x client=%s error=%v", procInfo.Name, call.XID, clientAddr, err)
		}
		d.metrics.RecordRequest(procInfo.Name, d.export, duration, "SYSTEM_ERR")
		return rpc.MakeErrorReply(call.XID, rpc.RPCSystemErr)
	}

	d.metrics.RecordRequest(procInfo.Name, d.export, duration, vfs.Status(status).String())

	return rpc.MakeSuccessReply(call.XID, body)
}

// authContext validates the call's credentials and builds the handler
// context. AUTH_NULL and AUTH_UNIX are accepted; anything else is too weak.
func (d *Dispatcher) authContext(ctx context.Context, call *rpc.RPCCallMessage, clientAddr string) (*handlers.NFSHandlerContext, uint32) {
	hctx := &handlers.NFSHandlerContext{
		Context:    ctx,
		ClientAddr: clientAddr,
		Generation: d.generation,
		Export:     d.export,
		AuthFlavor: call.GetAuthFlavor(),
	}

	switch hctx.AuthFlavor {
	case rpc.AuthNull:
		return hctx, rpc.AuthOK

	case rpc.AuthUnix:
		unixAuth, err := rpc.ParseUnixAuth(call.GetAuthBody())
		if err != nil {
			logger.Warn("Failed to parse AUTH_UNIX credentials from %s: %v", clientAddr, err)
			return nil, rpc.AuthBadCred
		}

		logger.Debug("Parsed Unix auth: %s", unixAuth)

		hctx.UID = &unixAuth.UID
		hctx.GID = &unixAuth.GID
		hctx.GIDs = unixAuth.GIDs
		return hctx, rpc.AuthOK

	default:
		return nil, rpc.AuthTooWeak
	}
}

// ============================================================================
// Procedure Dispatch Table
// ============================================================================

// procedureHandler decodes the arguments, runs the procedure and encodes its
// result. It returns the nfsstat3 of the result for metrics.
type procedureHandler func(d *Dispatcher, hctx *handlers.NFSHandlerContext, data []byte) ([]byte, uint32, error)

// procedureInfo contains metadata about an NFS procedure for dispatch.
type procedureInfo struct {
	// Name is the procedure name for logging and metrics (e.g. "GETATTR").
	Name string

	// Handler is the function that processes this procedure.
	Handler procedureHandler
}

// dispatchTable maps NFS procedure numbers to their handlers. MKNOD, LINK
// and COMMIT are deliberately absent and answered with PROC_UNAVAIL.
var dispatchTable map[uint32]*procedureInfo

func init() {
	dispatchTable = map[uint32]*procedureInfo{
		types.NFSProcNull:        {Name: "NULL", Handler: handleNull},
		types.NFSProcGetAttr:     {Name: "GETATTR", Handler: handleGetAttr},
		types.NFSProcSetAttr:     {Name: "SETATTR", Handler: handleSetAttr},
		types.NFSProcLookup:      {Name: "LOOKUP", Handler: handleLookup},
		types.NFSProcAccess:      {Name: "ACCESS", Handler: handleAccess},
		types.NFSProcReadLink:    {Name: "READLINK", Handler: handleReadLink},
		types.NFSProcRead:        {Name: "READ", Handler: handleRead},
		types.NFSProcWrite:       {Name: "WRITE", Handler: handleWrite},
		types.NFSProcCreate:      {Name: "CREATE", Handler: handleCreate},
		types.NFSProcMkdir:       {Name: "MKDIR", Handler: handleMkdir},
		types.NFSProcSymlink:     {Name: "SYMLINK", Handler: handleSymlink},
		types.NFSProcRemove:      {Name: "REMOVE", Handler: handleRemove},
		types.NFSProcRmdir:       {Name: "RMDIR", Handler: handleRemove},
		types.NFSProcRename:      {Name: "RENAME", Handler: handleRename},
		types.NFSProcReadDir:     {Name: "READDIR", Handler: handleReadDir},
		types.NFSProcReadDirPlus: {Name: "READDIRPLUS", Handler: handleReadDirPlus},
		types.NFSProcFsStat:      {Name: "FSSTAT", Handler: handleFsStat},
		types.NFSProcFsInfo:      {Name: "FSINFO", Handler: handleFsInfo},
		types.NFSProcPathConf:    {Name: "PATHCONF", Handler: handlePathConf},
	}
}

// ============================================================================
// Generic request handling
// ============================================================================

// garbageArgsError marks an argument decode failure. The dispatcher answers
// it with GARBAGE_ARGS instead of SYSTEM_ERR.
type garbageArgsError struct {
	err error
}

func (e *garbageArgsError) Error() string {
	return fmt.Sprintf("garbage arguments: %v", e.err)
}

func (e *garbageArgsError) Unwrap() error {
	return e.err
}

type nfsResponse interface {
	Encode() ([]byte, error)
	GetStatus() uint32
}

// handleRequest runs the decode, handle, encode sequence shared by every
// procedure.
func handleRequest[Req any, Resp nfsResponse](
	data []byte,
	decode func([]byte) (Req, error),
	handle func(Req) (Resp, error),
) ([]byte, uint32, error) {
	req, err := decode(data)
	if err != nil {
		return nil, 0, &garbageArgsError{err: err}
	}

	resp, err := handle(req)
	if err != nil {
		return nil, 0, err
	}

	encoded, err := resp.Encode()
	if err != nil {
		return nil, 0, fmt.Errorf("encode response: %w", err)
	}

	return encoded, resp.GetStatus(), nil
}

// ============================================================================
// NFS Procedure Handlers
// ============================================================================

func handleNull(d *Dispatcher, hctx *handlers.NFSHandlerContext, data []byte) ([]byte, uint32, error) {
	return handleRequest(data, handlers.DecodeNullRequest,
		func(req *handlers.NullRequest) (*handlers.NullResponse, error) {
			return d.handler.Null(hctx, req)
		})
}

func handleGetAttr(d *Dispatcher, hctx *handlers.NFSHandlerContext, data []byte) ([]byte, uint32, error) {
	return handleRequest(data, handlers.DecodeGetAttrRequest,
		func(req *handlers.GetAttrRequest) (*handlers.GetAttrResponse, error) {
			return d.handler.GetAttr(hctx, req)
		})
}

func handleSetAttr(d *Dispatcher, hctx *handlers.NFSHandlerContext, data []byte) ([]byte, uint32, error) {
	return handleRequest(data, handlers.DecodeSetAttrRequest,
		func(req *handlers.SetAttrRequest) (*handlers.SetAttrResponse, error) {
			return d.handler.SetAttr(hctx, req)
		})
}

func handleLookup(d *Dispatcher, hctx *handlers.NFSHandlerContext, data []byte) ([]byte, uint32, error) {
	return handleRequest(data, handlers.DecodeLookupRequest,
		func(req *handlers.LookupRequest) (*handlers.LookupResponse, error) {
			return d.handler.Lookup(hctx, req)
		})
}

func handleAccess(d *Dispatcher, hctx *handlers.NFSHandlerContext, data []byte) ([]byte, uint32, error) {
	return handleRequest(data, handlers.DecodeAccessRequest,
		func(req *handlers.AccessRequest) (*handlers.AccessResponse, error) {
			return d.handler.Access(hctx, req)
		})
}

func handleReadLink(d *Dispatcher, hctx *handlers.NFSHandlerContext, data []byte) ([]byte, uint32, error) {
	return handleRequest(data, handlers.DecodeReadLinkRequest,
		func(req *handlers.ReadLinkRequest) (*handlers.ReadLinkResponse, error) {
			return d.handler.ReadLink(hctx, req)
		})
}

func handleRead(d *Dispatcher, hctx *handlers.NFSHandlerContext, data []byte) ([]byte, uint32, error) {
	return handleRequest(data, handlers.DecodeReadRequest,
		func(req *handlers.ReadRequest) (*handlers.ReadResponse, error) {
			resp, err := d.handler.Read(hctx, req)
			if err == nil && resp.Status == types.NFS3OK {
				d.metrics.RecordBytesTransferred("READ", d.export, "read", uint64(resp.Count))
			}
			return resp, err
		})
}

func handleWrite(d *Dispatcher, hctx *handlers.NFSHandlerContext, data []byte) ([]byte, uint32, error) {
	return handleRequest(data, handlers.DecodeWriteRequest,
		func(req *handlers.WriteRequest) (*handlers.WriteResponse, error) {
			resp, err := d.handler.Write(hctx, req)
			if err == nil && resp.Status == types.NFS3OK {
				d.metrics.RecordBytesTransferred("WRITE", d.export, "write", uint64(resp.Count))
			}
			return resp, err
		})
}

func handleCreate(d *Dispatcher, hctx *handlers.NFSHandlerContext, data []byte) ([]byte, uint32, error) {
	return handleRequest(data, handlers.DecodeCreateRequest,
		func(req *handlers.CreateRequest) (*handlers.CreateResponse, error) {
			return d.handler.Create(hctx, req)
		})
}

func handleMkdir(d *Dispatcher, hctx *handlers.NFSHandlerContext, data []byte) ([]byte, uint32, error) {
	return handleRequest(data, handlers.DecodeMkdirRequest,
		func(req *handlers.MkdirRequest) (*handlers.MkdirResponse, error) {
			return d.handler.Mkdir(hctx, req)
		})
}

func handleSymlink(d *Dispatcher, hctx *handlers.NFSHandlerContext, data []byte) ([]byte, uint32, error) {
	return handleRequest(data, handlers.DecodeSymlinkRequest,
		func(req *handlers.SymlinkRequest) (*handlers.SymlinkResponse, error) {
			return d.handler.Symlink(hctx, req)
		})
}

func handleRemove(d *Dispatcher, hctx *handlers.NFSHandlerContext, data []byte) ([]byte, uint32, error) {
	return handleRequest(data, handlers.DecodeRemoveRequest,
		func(req *handlers.RemoveRequest) (*handlers.RemoveResponse, error) {
			return d.handler.Remove(hctx, req)
		})
}

func handleRename(d *Dispatcher, hctx *handlers.NFSHandlerContext, data []byte) ([]byte, uint32, error) {
	return handleRequest(data, handlers.DecodeRenameRequest,
		func(req *handlers.RenameRequest) (*handlers.RenameResponse, error) {
			return d.handler.Rename(hctx, req)
		})
}

func handleReadDir(d *Dispatcher, hctx *handlers.NFSHandlerContext, data []byte) ([]byte, uint32, error) {
	return handleRequest(data, handlers.DecodeReadDirRequest,
		func(req *handlers.ReadDirRequest) (*handlers.ReadDirResponse, error) {
			return d.handler.ReadDir(hctx, req)
		})
}

func handleReadDirPlus(d *Dispatcher, hctx *handlers.NFSHandlerContext, data []byte) ([]byte, uint32, error) {
	return handleRequest(data, handlers.DecodeReadDirPlusRequest,
		func(req *handlers.ReadDirPlusRequest) (*handlers.ReadDirPlusResponse, error) {
			return d.handler.ReadDirPlus(hctx, req)
		})
}

func handleFsStat(d *Dispatcher, hctx *handlers.NFSHandlerContext, data []byte) ([]byte, uint32, error) {
	return handleRequest(data, handlers.DecodeFsStatRequest,
		func(req *handlers.FsStatRequest) (*handlers.FsStatResponse, error) {
			return d.handler.FsStat(hctx, req)
		})
}

func handleFsInfo(d *Dispatcher, hctx *handlers.NFSHandlerContext, data []byte) ([]byte, uint32, error) {
	return handleRequest(data, handlers.DecodeFsInfoRequest,
		func(req *handlers.FsInfoRequest) (*handlers.FsInfoResponse, error) {
			return d.handler.FsInfo(hctx, req)
		})
}

func handlePathConf(d *Dispatcher, hctx *handlers.NFSHandlerContext, data []byte) ([]byte, uint32, error) {
	return handleRequest(data, handlers.DecodePathConfRequest,
		func(req *handlers.PathConfRequest) (*handlers.PathConfResponse, error) {
			return d.handler.PathConf(hctx, req)
		})
}
