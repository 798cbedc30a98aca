package handlers

import (
	"bytes"
	"fmt"

	"github.com/marmos91/forgefs/internal/logger"
	"github.com/marmos91/forgefs/internal/protocol/nfs/types"
	"github.com/marmos91/forgefs/internal/protocol/nfs/xdr"
	"github.com/marmos91/forgefs/pkg/vfs"
)

// ============================================================================
// Request and Response Structures
// ============================================================================

// MkdirRequest represents a MKDIR request (RFC 1813 Section 3.3.9).
//
//	MKDIR3res NFSPROC3_MKDIR(MKDIR3args) = 9;
type MkdirRequest struct {
	DirHandle []byte
	Name      string

	// Attr is decoded for wire compatibility. The mode is applied after
	// creation when set.
	Attr vfs.SetAttr
}

// MkdirResponse has the same shape as CreateResponse.
type MkdirResponse struct {
	NFSResponseBase
	FileHandle []byte
	Attr       *types.NFSFileAttr
	DirBefore  *types.WccAttr
	DirAfter   *types.NFSFileAttr
}

// ============================================================================
// Protocol Handler
// ============================================================================

// Mkdir handles NFSPROC3_MKDIR.
func (h *Handler) Mkdir(ctx *NFSHandlerContext, req *MkdirRequest) (*MkdirResponse, error) {
	if err := ctx.isCancelled(); err != nil {
		return nil, err
	}

	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Info("MKDIR: name='%s' dir=%x client=%s auth=%d",
		req.Name, req.DirHandle, clientIP, ctx.AuthFlavor)

	dirID, st := h.fileID(ctx, req.DirHandle)
	if st != types.NFS3OK {
		logger.Debug("MKDIR failed: dir=%x status=%d client=%s", req.DirHandle, st, clientIP)
		return &MkdirResponse{NFSResponseBase: respStatus(st)}, nil
	}

	dirBefore := h.preOpAttr(ctx, dirID)

	fail := func(code uint32) *MkdirResponse {
		return &MkdirResponse{
			NFSResponseBase: respStatus(code),
			DirBefore:       dirBefore,
			DirAfter:        h.postOpAttr(ctx, dirID),
		}
	}

	if verr := validateFilename(req.Name, false); verr != nil {
		logger.Debug("MKDIR validation failed: name='%s' error=%s", req.Name, verr.message)
		return fail(verr.nfsStatus), nil
	}

	if h.readOnly() {
		return fail(types.NFS3ErrRofs), nil
	}

	id, attr, err := h.FS.Mkdir(ctx.Context, dirID, req.Name)
	if err != nil {
		if ctxErr := ctx.isCancelled(); ctxErr != nil {
			return nil, ctxErr
		}
		return fail(xdr.MapErrorToNFSStatus(err, clientIP, "MKDIR")), nil
	}

	if req.Attr.Mode != nil {
		if updated, err := h.FS.SetAttr(ctx.Context, id, vfs.SetAttr{Mode: req.Attr.Mode}); err == nil {
			attr = updated
		} else {
			logger.Debug("MKDIR: applying mode to '%s' failed: %v", req.Name, err)
		}
	}

	logger.Info("MKDIR successful: name='%s' fileid=%d client=%s", req.Name, id, clientIP)

	return &MkdirResponse{
		NFSResponseBase: respStatus(types.NFS3OK),
		FileHandle:      h.fileHandle(ctx, id),
		Attr:            xdr.FileAttrToNFS(attr),
		DirBefore:       dirBefore,
		DirAfter:        h.postOpAttr(ctx, dirID),
	}, nil
}

// ============================================================================
// XDR Decoding / Encoding
// ============================================================================

// DecodeMkdirRequest decodes MKDIR3args: where, attributes.
func DecodeMkdirRequest(data []byte) (*MkdirRequest, error) {
	reader := bytes.NewReader(data)

	handle, name, err := xdr.DecodeDirOpArgs(reader)
	if err != nil {
		return nil, fmt.Errorf("decode where: %w", err)
	}

	attr, err := xdr.DecodeSetAttrs(reader)
	if err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}

	return &MkdirRequest{DirHandle: handle, Name: name, Attr: attr}, nil
}

// Encode serializes MKDIR3res.
func (resp *MkdirResponse) Encode() ([]byte, error) {
	return encodeNewObject(resp.Status, resp.FileHandle, resp.Attr, resp.DirBefore, resp.DirAfter)
}

// encodeNewObject writes the result shape shared by CREATE, MKDIR and
// SYMLINK: status, then post_op_fh3 and post_op_attr on success, then the
// directory wcc_data.
func encodeNewObject(status uint32, fh []byte, attr *types.NFSFileAttr, before *types.WccAttr, after *types.NFSFileAttr) ([]byte, error) {
	var buf bytes.Buffer

	if err := xdr.EncodeUint32(&buf, status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}

	if status == types.NFS3OK {
		if err := xdr.EncodeOptionalOpaque(&buf, fh); err != nil {
			return nil, fmt.Errorf("encode handle: %w", err)
		}
		if err := xdr.EncodeOptionalFileAttr(&buf, attr); err != nil {
			return nil, fmt.Errorf("encode attributes: %w", err)
		}
	}

	if err := xdr.EncodeWccData(&buf, before, after); err != nil {
		return nil, fmt.Errorf("encode directory wcc: %w", err)
	}

	return buf.Bytes(), nil
}
