package handlers

import (
	"bytes"
	"fmt"

	"github.com/marmos91/forgefs/internal/logger"
	"github.com/marmos91/forgefs/internal/protocol/nfs/types"
	"github.com/marmos91/forgefs/internal/protocol/nfs/xdr"
)

// ReadLinkRequest represents a READLINK request (RFC 1813 Section 3.3.5).
type ReadLinkRequest struct {
	Handle []byte
}

// ReadLinkResponse carries the link target on success. Attributes of the
// link are returned in both arms.
type ReadLinkResponse struct {
	NFSResponseBase
	Attr   *types.NFSFileAttr
	Target string
}

// ReadLink handles NFSPROC3_READLINK. A handle that is not a symlink yields
// INVAL from the backend.
func (h *Handler) ReadLink(ctx *NFSHandlerContext, req *ReadLinkRequest) (*ReadLinkResponse, error) {
	if err := ctx.isCancelled(); err != nil {
		return nil, err
	}

	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Info("READLINK: handle=%x client=%s auth=%d", req.Handle, clientIP, ctx.AuthFlavor)

	id, st := h.fileID(ctx, req.Handle)
	if st != types.NFS3OK {
		return &ReadLinkResponse{NFSResponseBase: respStatus(st)}, nil
	}

	target, err := h.FS.ReadLink(ctx.Context, id)
	if err != nil {
		if ctxErr := ctx.isCancelled(); ctxErr != nil {
			return nil, ctxErr
		}
		return &ReadLinkResponse{
			NFSResponseBase: respStatus(xdr.MapErrorToNFSStatus(err, clientIP, "READLINK")),
			Attr:            h.postOpAttr(ctx, id),
		}, nil
	}

	return &ReadLinkResponse{
		NFSResponseBase: respStatus(types.NFS3OK),
		Attr:            h.postOpAttr(ctx, id),
		Target:          target,
	}, nil
}

// DecodeReadLinkRequest decodes READLINK3args.
func DecodeReadLinkRequest(data []byte) (*ReadLinkRequest, error) {
	handle, err := xdr.DecodeFileHandle(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode READLINK: %w", err)
	}
	return &ReadLinkRequest{Handle: handle}, nil
}

// Encode serializes READLINK3res.
func (resp *ReadLinkResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer

	if err := xdr.EncodeUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}

	if err := xdr.EncodeOptionalFileAttr(&buf, resp.Attr); err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}

	if resp.Status == types.NFS3OK {
		if err := xdr.EncodeString(&buf, resp.Target); err != nil {
			return nil, fmt.Errorf("encode target: %w", err)
		}
	}

	return buf.Bytes(), nil
}
