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

// RenameRequest represents a RENAME request (RFC 1813 Section 3.3.14).
//
//	RENAME3res NFSPROC3_RENAME(RENAME3args) = 14;
type RenameRequest struct {
	FromDirHandle []byte
	FromName      string
	ToDirHandle   []byte
	ToName        string
}

// RenameResponse carries wcc_data for both directories in both arms.
type RenameResponse struct {
	NFSResponseBase
	FromDirBefore *types.WccAttr
	FromDirAfter  *types.NFSFileAttr
	ToDirBefore   *types.WccAttr
	ToDirAfter    *types.NFSFileAttr
}

// ============================================================================
// Protocol Handler
// ============================================================================

// Rename handles NFSPROC3_RENAME.
//
// An existing target is replaced by the backend. Renaming onto the same
// name in the same directory is a successful no-op.
func (h *Handler) Rename(ctx *NFSHandlerContext, req *RenameRequest) (*RenameResponse, error) {
	if err := ctx.isCancelled(); err != nil {
		return nil, err
	}

	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Info("RENAME: from='%s' dir=%x to='%s' dir=%x client=%s auth=%d",
		req.FromName, req.FromDirHandle, req.ToName, req.ToDirHandle, clientIP, ctx.AuthFlavor)

	fromID, st := h.fileID(ctx, req.FromDirHandle)
	if st != types.NFS3OK {
		return &RenameResponse{NFSResponseBase: respStatus(st)}, nil
	}

	toID, st := h.fileID(ctx, req.ToDirHandle)
	if st != types.NFS3OK {
		return &RenameResponse{NFSResponseBase: respStatus(st)}, nil
	}

	fromBefore := h.preOpAttr(ctx, fromID)
	toBefore := h.preOpAttr(ctx, toID)

	result := func(code uint32) *RenameResponse {
		return &RenameResponse{
			NFSResponseBase: respStatus(code),
			FromDirBefore:   fromBefore,
			FromDirAfter:    h.postOpAttr(ctx, fromID),
			ToDirBefore:     toBefore,
			ToDirAfter:      h.postOpAttr(ctx, toID),
		}
	}

	for _, name := range []string{req.FromName, req.ToName} {
		if verr := validateFilename(name, false); verr != nil {
			logger.Debug("RENAME validation failed: name='%s' error=%s", name, verr.message)
			return result(verr.nfsStatus), nil
		}
	}

	if h.readOnly() {
		return result(types.NFS3ErrRofs), nil
	}

	if fromID == toID && req.FromName == req.ToName {
		if _, err := h.FS.Lookup(ctx.Context, fromID, req.FromName); err != nil {
			return result(uint32(vfs.StatusOf(err))), nil
		}
		return result(types.NFS3OK), nil
	}

	if err := h.FS.Rename(ctx.Context, fromID, req.FromName, toID, req.ToName); err != nil {
		if ctxErr := ctx.isCancelled(); ctxErr != nil {
			return nil, ctxErr
		}
		return result(xdr.MapErrorToNFSStatus(err, clientIP, "RENAME")), nil
	}

	logger.Info("RENAME successful: '%s' -> '%s' client=%s", req.FromName, req.ToName, clientIP)

	return result(types.NFS3OK), nil
}

// ============================================================================
// XDR Decoding / Encoding
// ============================================================================

// DecodeRenameRequest decodes RENAME3args: from, to (two diropargs3).
func DecodeRenameRequest(data []byte) (*RenameRequest, error) {
	reader := bytes.NewReader(data)

	fromDir, fromName, err := xdr.DecodeDirOpArgs(reader)
	if err != nil {
		return nil, fmt.Errorf("decode from: %w", err)
	}

	toDir, toName, err := xdr.DecodeDirOpArgs(reader)
	if err != nil {
		return nil, fmt.Errorf("decode to: %w", err)
	}

	return &RenameRequest{
		FromDirHandle: fromDir,
		FromName:      fromName,
		ToDirHandle:   toDir,
		ToName:        toName,
	}, nil
}

// Encode serializes RENAME3res: fromdir_wcc, todir_wcc.
func (resp *RenameResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer

	if err := xdr.EncodeUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}

	if err := xdr.EncodeWccData(&buf, resp.FromDirBefore, resp.FromDirAfter); err != nil {
		return nil, fmt.Errorf("encode from directory wcc: %w", err)
	}

	if err := xdr.EncodeWccData(&buf, resp.ToDirBefore, resp.ToDirAfter); err != nil {
		return nil, fmt.Errorf("encode to directory wcc: %w", err)
	}

	return buf.Bytes(), nil
}
