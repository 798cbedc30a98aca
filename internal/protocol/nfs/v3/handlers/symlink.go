package handlers

import (
	"bytes"
	"fmt"

	"github.com/marmos91/forgefs/internal/logger"
	"github.com/marmos91/forgefs/internal/protocol/nfs/types"
	"github.com/marmos91/forgefs/internal/protocol/nfs/xdr"
	"github.com/marmos91/forgefs/pkg/vfs"
)

// SymlinkRequest represents a SYMLINK request (RFC 1813 Section 3.3.10).
//
//	SYMLINK3res NFSPROC3_SYMLINK(SYMLINK3args) = 10;
type SymlinkRequest struct {
	DirHandle []byte
	Name      string
	Attr      vfs.SetAttr
	Target    string
}

// SymlinkResponse has the same shape as CreateResponse.
type SymlinkResponse struct {
	NFSResponseBase
	FileHandle []byte
	Attr       *types.NFSFileAttr
	DirBefore  *types.WccAttr
	DirAfter   *types.NFSFileAttr
}

// Symlink handles NFSPROC3_SYMLINK. The target is stored verbatim; it is
// never resolved by the server.
func (h *Handler) Symlink(ctx *NFSHandlerContext, req *SymlinkRequest) (*SymlinkResponse, error) {
	if err := ctx.isCancelled(); err != nil {
		return nil, err
	}

	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Info("SYMLINK: name='%s' target='%s' dir=%x client=%s auth=%d",
		req.Name, req.Target, req.DirHandle, clientIP, ctx.AuthFlavor)

	dirID, st := h.fileID(ctx, req.DirHandle)
	if st != types.NFS3OK {
		return &SymlinkResponse{NFSResponseBase: respStatus(st)}, nil
	}

	dirBefore := h.preOpAttr(ctx, dirID)

	fail := func(code uint32) *SymlinkResponse {
		return &SymlinkResponse{
			NFSResponseBase: respStatus(code),
			DirBefore:       dirBefore,
			DirAfter:        h.postOpAttr(ctx, dirID),
		}
	}

	if verr := validateFilename(req.Name, false); verr != nil {
		logger.Debug("SYMLINK validation failed: name='%s' error=%s", req.Name, verr.message)
		return fail(verr.nfsStatus), nil
	}

	if h.readOnly() {
		return fail(types.NFS3ErrRofs), nil
	}

	id, attr, err := h.FS.Symlink(ctx.Context, dirID, req.Name, req.Target, req.Attr)
	if err != nil {
		if ctxErr := ctx.isCancelled(); ctxErr != nil {
			return nil, ctxErr
		}
		return fail(xdr.MapErrorToNFSStatus(err, clientIP, "SYMLINK")), nil
	}

	return &SymlinkResponse{
		NFSResponseBase: respStatus(types.NFS3OK),
		FileHandle:      h.fileHandle(ctx, id),
		Attr:            xdr.FileAttrToNFS(attr),
		DirBefore:       dirBefore,
		DirAfter:        h.postOpAttr(ctx, dirID),
	}, nil
}

// DecodeSymlinkRequest decodes SYMLINK3args: where, then symlinkdata3
// (attributes followed by the target path).
func DecodeSymlinkRequest(data []byte) (*SymlinkRequest, error) {
	reader := bytes.NewReader(data)

	handle, name, err := xdr.DecodeDirOpArgs(reader)
	if err != nil {
		return nil, fmt.Errorf("decode where: %w", err)
	}

	attr, err := xdr.DecodeSetAttrs(reader)
	if err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}

	target, err := xdr.DecodeOpaqueMax(reader, types.MaxPathLen)
	if err != nil {
		return nil, fmt.Errorf("decode target: %w", err)
	}

	return &SymlinkRequest{DirHandle: handle, Name: name, Attr: attr, Target: string(target)}, nil
}

// Encode serializes SYMLINK3res.
func (resp *SymlinkResponse) Encode() ([]byte, error) {
	return encodeNewObject(resp.Status, resp.FileHandle, resp.Attr, resp.DirBefore, resp.DirAfter)
}
