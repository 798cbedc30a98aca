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

// SetAttrRequest represents a SETATTR request (RFC 1813 Section 3.3.2).
//
//	SETATTR3res NFSPROC3_SETATTR(SETATTR3args) = 2;
type SetAttrRequest struct {
	// Handle is the object to modify.
	Handle []byte

	// NewAttr holds the requested changes. Unset fields are left alone.
	NewAttr vfs.SetAttr

	// Guard, when Check is set, makes the call conditional on the object's
	// current ctime matching Guard.Time exactly.
	Guard types.TimeGuard
}

// SetAttrResponse carries the object's wcc_data in both the success and
// failure arms.
type SetAttrResponse struct {
	NFSResponseBase
	Before *types.WccAttr
	After  *types.NFSFileAttr
}

// ============================================================================
// Protocol Handler
// ============================================================================

// SetAttr handles NFSPROC3_SETATTR.
//
// The ctime guard is evaluated against attributes fetched just before the
// mutation. On a mismatch NOT_SYNC is returned and nothing is changed; the
// wcc before side is the pre-op snapshot and the after side the current
// attributes.
func (h *Handler) SetAttr(ctx *NFSHandlerContext, req *SetAttrRequest) (*SetAttrResponse, error) {
	if err := ctx.isCancelled(); err != nil {
		return nil, err
	}

	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Info("SETATTR: handle=%x guard=%t client=%s auth=%d",
		req.Handle, req.Guard.Check, clientIP, ctx.AuthFlavor)

	id, st := h.fileID(ctx, req.Handle)
	if st != types.NFS3OK {
		logger.Debug("SETATTR failed: handle=%x status=%d client=%s", req.Handle, st, clientIP)
		return &SetAttrResponse{NFSResponseBase: respStatus(st)}, nil
	}

	current := h.attrs(ctx, id)
	before := xdr.CaptureWccAttr(current)

	if h.readOnly() {
		logger.Debug("SETATTR rejected: read-only export client=%s", clientIP)
		return &SetAttrResponse{
			NFSResponseBase: respStatus(types.NFS3ErrRofs),
			Before:          before,
			After:           xdr.FileAttrToNFS(current),
		}, nil
	}

	if req.Guard.Check {
		if current == nil {
			return &SetAttrResponse{NFSResponseBase: respStatus(types.NFS3ErrIO)}, nil
		}
		if xdr.TimeToTimeVal(current.Ctime) != req.Guard.Time {
			logger.Debug("SETATTR guard mismatch: handle=%x client=%s", req.Handle, clientIP)
			return &SetAttrResponse{
				NFSResponseBase: respStatus(types.NFS3ErrNotSync),
				Before:          before,
				After:           xdr.FileAttrToNFS(current),
			}, nil
		}
	}

	updated, err := h.FS.SetAttr(ctx.Context, id, req.NewAttr)
	if err != nil {
		if ctxErr := ctx.isCancelled(); ctxErr != nil {
			return nil, ctxErr
		}
		return &SetAttrResponse{
			NFSResponseBase: respStatus(xdr.MapErrorToNFSStatus(err, clientIP, "SETATTR")),
			Before:          before,
			After:           h.postOpAttr(ctx, id),
		}, nil
	}

	after := xdr.FileAttrToNFS(updated)
	if after == nil {
		after = h.postOpAttr(ctx, id)
	}

	return &SetAttrResponse{
		NFSResponseBase: respStatus(types.NFS3OK),
		Before:          before,
		After:           after,
	}, nil
}

// ============================================================================
// XDR Decoding / Encoding
// ============================================================================

// DecodeSetAttrRequest decodes SETATTR3args: object, new_attributes, guard.
func DecodeSetAttrRequest(data []byte) (*SetAttrRequest, error) {
	reader := bytes.NewReader(data)

	handle, err := xdr.DecodeFileHandle(reader)
	if err != nil {
		return nil, fmt.Errorf("decode handle: %w", err)
	}

	attr, err := xdr.DecodeSetAttrs(reader)
	if err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}

	guard, err := xdr.DecodeTimeGuard(reader)
	if err != nil {
		return nil, fmt.Errorf("decode guard: %w", err)
	}

	return &SetAttrRequest{Handle: handle, NewAttr: attr, Guard: guard}, nil
}

// Encode serializes SETATTR3res.
func (resp *SetAttrResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer

	if err := xdr.EncodeUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}

	if err := xdr.EncodeWccData(&buf, resp.Before, resp.After); err != nil {
		return nil, fmt.Errorf("encode wcc data: %w", err)
	}

	return buf.Bytes(), nil
}
