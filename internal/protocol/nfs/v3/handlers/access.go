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

// AccessRequest represents an ACCESS request (RFC 1813 Section 3.3.4).
//
//	ACCESS3res NFSPROC3_ACCESS(ACCESS3args) = 4;
type AccessRequest struct {
	Handle []byte

	// Access is a bitmap of ACCESS3_* rights the client wants checked.
	Access uint32
}

// AccessResponse returns the granted subset of the requested rights.
type AccessResponse struct {
	NFSResponseBase
	Attr   *types.NFSFileAttr
	Access uint32
}

// readOnlyAccess is every right a read-only export can honour.
const readOnlyAccess = types.AccessRead | types.AccessLookup

// ============================================================================
// Protocol Handler
// ============================================================================

// Access handles NFSPROC3_ACCESS.
//
// Permission bits are not evaluated: any right the backend could carry out is
// granted. On a read-only export the answer is limited to READ and LOOKUP.
func (h *Handler) Access(ctx *NFSHandlerContext, req *AccessRequest) (*AccessResponse, error) {
	if err := ctx.isCancelled(); err != nil {
		return nil, err
	}

	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Info("ACCESS: handle=%x access=0x%x client=%s auth=%d",
		req.Handle, req.Access, clientIP, ctx.AuthFlavor)

	id, st := h.fileID(ctx, req.Handle)
	if st != types.NFS3OK {
		logger.Debug("ACCESS failed: handle=%x status=%d client=%s", req.Handle, st, clientIP)
		return &AccessResponse{NFSResponseBase: respStatus(st)}, nil
	}

	attr, err := h.FS.GetAttr(ctx.Context, id)
	if err != nil {
		if ctxErr := ctx.isCancelled(); ctxErr != nil {
			return nil, ctxErr
		}
		return &AccessResponse{NFSResponseBase: respStatus(xdr.MapErrorToNFSStatus(err, clientIP, "ACCESS"))}, nil
	}

	granted := req.Access
	if h.readOnly() {
		granted &= readOnlyAccess
	}

	logger.Debug("ACCESS granted: handle=%x requested=0x%x granted=0x%x", req.Handle, req.Access, granted)

	return &AccessResponse{
		NFSResponseBase: respStatus(types.NFS3OK),
		Attr:            xdr.FileAttrToNFS(attr),
		Access:          granted,
	}, nil
}

// ============================================================================
// XDR Decoding / Encoding
// ============================================================================

// DecodeAccessRequest decodes ACCESS3args: object, access.
func DecodeAccessRequest(data []byte) (*AccessRequest, error) {
	reader := bytes.NewReader(data)

	handle, err := xdr.DecodeFileHandle(reader)
	if err != nil {
		return nil, fmt.Errorf("decode handle: %w", err)
	}

	access, err := xdr.DecodeUint32(reader)
	if err != nil {
		return nil, fmt.Errorf("decode access: %w", err)
	}

	return &AccessRequest{Handle: handle, Access: access}, nil
}

// Encode serializes ACCESS3res. The attributes are present in both arms.
func (resp *AccessResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer

	if err := xdr.EncodeUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}

	if err := xdr.EncodeOptionalFileAttr(&buf, resp.Attr); err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}

	if resp.Status == types.NFS3OK {
		if err := xdr.EncodeUint32(&buf, resp.Access); err != nil {
			return nil, fmt.Errorf("write access: %w", err)
		}
	}

	return buf.Bytes(), nil
}
