package handlers

import (
	"bytes"
	"fmt"

	"github.com/marmos91/forgefs/internal/logger"
	"github.com/marmos91/forgefs/internal/protocol/nfs/types"
	"github.com/marmos91/forgefs/internal/protocol/nfs/xdr"
)

// ============================================================================
// Request and Response Structures
// ============================================================================

// RemoveRequest represents a REMOVE or RMDIR request (RFC 1813 Sections
// 3.3.12 and 3.3.13). Both procedures take a diropargs3.
//
//	REMOVE3res NFSPROC3_REMOVE(REMOVE3args) = 12;
//	RMDIR3res  NFSPROC3_RMDIR(RMDIR3args)   = 13;
type RemoveRequest struct {
	DirHandle []byte
	Filename  string
}

// RemoveResponse carries the directory wcc_data in both arms.
type RemoveResponse struct {
	NFSResponseBase
	DirBefore *types.WccAttr
	DirAfter  *types.NFSFileAttr
}

// ============================================================================
// Protocol Handler
// ============================================================================

// Remove handles both NFSPROC3_REMOVE and NFSPROC3_RMDIR. The backend's
// Remove deletes files and empty directories alike, so one code path serves
// both procedures.
func (h *Handler) Remove(ctx *NFSHandlerContext, req *RemoveRequest) (*RemoveResponse, error) {
	if err := ctx.isCancelled(); err != nil {
		return nil, err
	}

	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Info("REMOVE: name='%s' dir=%x client=%s auth=%d",
		req.Filename, req.DirHandle, clientIP, ctx.AuthFlavor)

	dirID, st := h.fileID(ctx, req.DirHandle)
	if st != types.NFS3OK {
		logger.Debug("REMOVE failed: dir=%x status=%d client=%s", req.DirHandle, st, clientIP)
		return &RemoveResponse{NFSResponseBase: respStatus(st)}, nil
	}

	dirBefore := h.preOpAttr(ctx, dirID)

	fail := func(code uint32) *RemoveResponse {
		return &RemoveResponse{
			NFSResponseBase: respStatus(code),
			DirBefore:       dirBefore,
			DirAfter:        h.postOpAttr(ctx, dirID),
		}
	}

	if verr := validateFilename(req.Filename, false); verr != nil {
		logger.Debug("REMOVE validation failed: name='%s' error=%s", req.Filename, verr.message)
		return fail(verr.nfsStatus), nil
	}

	if h.readOnly() {
		return fail(types.NFS3ErrRofs), nil
	}

	if err := h.FS.Remove(ctx.Context, dirID, req.Filename); err != nil {
		if ctxErr := ctx.isCancelled(); ctxErr != nil {
			return nil, ctxErr
		}
		return fail(xdr.MapErrorToNFSStatus(err, clientIP, "REMOVE")), nil
	}

	logger.Info("REMOVE successful: name='%s' client=%s", req.Filename, clientIP)

	return &RemoveResponse{
		NFSResponseBase: respStatus(types.NFS3OK),
		DirBefore:       dirBefore,
		DirAfter:        h.postOpAttr(ctx, dirID),
	}, nil
}

// ============================================================================
// XDR Decoding / Encoding
// ============================================================================

// DecodeRemoveRequest decodes REMOVE3args and RMDIR3args.
func DecodeRemoveRequest(data []byte) (*RemoveRequest, error) {
	handle, name, err := xdr.DecodeDirOpArgs(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode REMOVE: %w", err)
	}
	return &RemoveRequest{DirHandle: handle, Filename: name}, nil
}

// Encode serializes REMOVE3res and RMDIR3res.
func (resp *RemoveResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer

	if err := xdr.EncodeUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}

	if err := xdr.EncodeWccData(&buf, resp.DirBefore, resp.DirAfter); err != nil {
		return nil, fmt.Errorf("encode directory wcc: %w", err)
	}

	return buf.Bytes(), nil
}
