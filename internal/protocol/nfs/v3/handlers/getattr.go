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

// GetAttrRequest represents a GETATTR request (RFC 1813 Section 3.3.1).
//
//	GETATTR3res NFSPROC3_GETATTR(GETATTR3args) = 1;
type GetAttrRequest struct {
	// Handle is the object whose attributes are requested.
	Handle []byte
}

// GetAttrResponse carries fattr3 on success and nothing otherwise.
type GetAttrResponse struct {
	NFSResponseBase
	Attr *types.NFSFileAttr
}

// ============================================================================
// Protocol Handler
// ============================================================================

// GetAttr handles NFSPROC3_GETATTR.
//
// Clients call GETATTR constantly to revalidate caches, so the path is kept
// short: translate the handle, stat once, encode.
func (h *Handler) GetAttr(ctx *NFSHandlerContext, req *GetAttrRequest) (*GetAttrResponse, error) {
	if err := ctx.isCancelled(); err != nil {
		return nil, err
	}

	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Debug("GETATTR: handle=%x client=%s", req.Handle, clientIP)

	id, st := h.fileID(ctx, req.Handle)
	if st != types.NFS3OK {
		logger.Debug("GETATTR failed: handle=%x status=%d client=%s", req.Handle, st, clientIP)
		return &GetAttrResponse{NFSResponseBase: respStatus(st)}, nil
	}

	attr, err := h.FS.GetAttr(ctx.Context, id)
	if err != nil {
		if ctxErr := ctx.isCancelled(); ctxErr != nil {
			return nil, ctxErr
		}
		return &GetAttrResponse{NFSResponseBase: respStatus(xdr.MapErrorToNFSStatus(err, clientIP, "GETATTR"))}, nil
	}

	return &GetAttrResponse{
		NFSResponseBase: respStatus(types.NFS3OK),
		Attr:            xdr.FileAttrToNFS(attr),
	}, nil
}

// ============================================================================
// XDR Decoding / Encoding
// ============================================================================

// DecodeGetAttrRequest decodes GETATTR3args: a single nfs_fh3.
func DecodeGetAttrRequest(data []byte) (*GetAttrRequest, error) {
	handle, err := xdr.DecodeFileHandle(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode GETATTR: %w", err)
	}
	return &GetAttrRequest{Handle: handle}, nil
}

// Encode serializes GETATTR3res.
func (resp *GetAttrResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer

	if err := xdr.EncodeUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}

	if resp.Status == types.NFS3OK {
		if err := xdr.EncodeFileAttr(&buf, resp.Attr); err != nil {
			return nil, fmt.Errorf("encode attributes: %w", err)
		}
	}

	return buf.Bytes(), nil
}
