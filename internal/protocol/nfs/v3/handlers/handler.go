package handlers

import (
	"github.com/marmos91/forgefs/internal/protocol/nfs/types"
	"github.com/marmos91/forgefs/internal/protocol/nfs/xdr"
	"github.com/marmos91/forgefs/pkg/vfs"
)

// Handler implements the NFS version 3 procedures on top of a vfs.FileSystem.
//
// Handler keeps no per-request state: everything a call needs (generation,
// client, cancellation) arrives in the NFSHandlerContext, so one Handler is
// shared by every connection.
type Handler struct {
	FS vfs.FileSystem
}

// NewHandler returns a Handler serving fs.
func NewHandler(fs vfs.FileSystem) *Handler {
	return &Handler{FS: fs}
}

// readOnly reports whether mutating procedures must answer ROFS.
func (h *Handler) readOnly() bool {
	return h.FS.Capabilities() == vfs.ReadOnly
}

// fileID translates a wire handle. The status is NFS3_OK, NFS3ERR_STALE or
// NFS3ERR_BADHANDLE.
func (h *Handler) fileID(ctx *NFSHandlerContext, fh []byte) (vfs.FileID, uint32) {
	id, err := vfs.HandleToID(h.FS, ctx.Generation, fh)
	if err != nil {
		return 0, uint32(vfs.StatusOf(err))
	}
	return id, types.NFS3OK
}

func (h *Handler) fileHandle(ctx *NFSHandlerContext, id vfs.FileID) []byte {
	return vfs.IDToHandle(h.FS, ctx.Generation, id)
}

// attrs fetches id's attributes, returning nil when they are unavailable so
// the post_op_attr is encoded as absent.
func (h *Handler) attrs(ctx *NFSHandlerContext, id vfs.FileID) *vfs.FileAttr {
	attr, err := h.FS.GetAttr(ctx.Context, id)
	if err != nil {
		return nil
	}
	return attr
}

func (h *Handler) postOpAttr(ctx *NFSHandlerContext, id vfs.FileID) *types.NFSFileAttr {
	return xdr.FileAttrToNFS(h.attrs(ctx, id))
}

func (h *Handler) preOpAttr(ctx *NFSHandlerContext, id vfs.FileID) *types.WccAttr {
	return xdr.CaptureWccAttr(h.attrs(ctx, id))
}
