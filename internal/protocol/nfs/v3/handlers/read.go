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

// ReadRequest represents a READ request (RFC 1813 Section 3.3.6).
//
//	READ3res NFSPROC3_READ(READ3args) = 6;
type ReadRequest struct {
	Handle []byte

	// Offset is the byte position to start reading from.
	Offset uint64

	// Count is the number of bytes requested. Requests larger than the
	// advertised rtmax are clamped.
	Count uint32
}

// ReadResponse represents a READ result.
type ReadResponse struct {
	NFSResponseBase
	Attr  *types.NFSFileAttr
	Count uint32
	Eof   bool
	Data  []byte
}

// ============================================================================
// Protocol Handler
// ============================================================================

// Read handles NFSPROC3_READ.
func (h *Handler) Read(ctx *NFSHandlerContext, req *ReadRequest) (*ReadResponse, error) {
	if err := ctx.isCancelled(); err != nil {
		return nil, err
	}

	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Info("READ: handle=%x offset=%d count=%d client=%s auth=%d",
		req.Handle, req.Offset, req.Count, clientIP, ctx.AuthFlavor)

	id, st := h.fileID(ctx, req.Handle)
	if st != types.NFS3OK {
		logger.Debug("READ failed: handle=%x status=%d client=%s", req.Handle, st, clientIP)
		return &ReadResponse{NFSResponseBase: respStatus(st)}, nil
	}

	count := req.Count
	if count > vfs.DefaultTransferSize {
		count = vfs.DefaultTransferSize
	}

	data, eof, err := h.FS.Read(ctx.Context, id, req.Offset, count)
	if err != nil {
		if ctxErr := ctx.isCancelled(); ctxErr != nil {
			return nil, ctxErr
		}
		return &ReadResponse{
			NFSResponseBase: respStatus(xdr.MapErrorToNFSStatus(err, clientIP, "READ")),
			Attr:            h.postOpAttr(ctx, id),
		}, nil
	}

	logger.Debug("READ successful: handle=%x offset=%d read=%d eof=%t", req.Handle, req.Offset, len(data), eof)

	return &ReadResponse{
		NFSResponseBase: respStatus(types.NFS3OK),
		Attr:            h.postOpAttr(ctx, id),
		Count:           uint32(len(data)),
		Eof:             eof,
		Data:            data,
	}, nil
}

// ============================================================================
// XDR Decoding / Encoding
// ============================================================================

// DecodeReadRequest decodes READ3args: file, offset, count.
func DecodeReadRequest(data []byte) (*ReadRequest, error) {
	reader := bytes.NewReader(data)

	handle, err := xdr.DecodeFileHandle(reader)
	if err != nil {
		return nil, fmt.Errorf("decode handle: %w", err)
	}

	offset, err := xdr.DecodeUint64(reader)
	if err != nil {
		return nil, fmt.Errorf("decode offset: %w", err)
	}

	count, err := xdr.DecodeUint32(reader)
	if err != nil {
		return nil, fmt.Errorf("decode count: %w", err)
	}

	return &ReadRequest{Handle: handle, Offset: offset, Count: count}, nil
}

// Encode serializes READ3res.
func (resp *ReadResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(128 + len(resp.Data))

	if err := xdr.EncodeUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}

	if err := xdr.EncodeOptionalFileAttr(&buf, resp.Attr); err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}

	if resp.Status != types.NFS3OK {
		return buf.Bytes(), nil
	}

	if err := xdr.EncodeUint32(&buf, resp.Count); err != nil {
		return nil, fmt.Errorf("write count: %w", err)
	}
	if err := xdr.EncodeBool(&buf, resp.Eof); err != nil {
		return nil, fmt.Errorf("write eof: %w", err)
	}
	if err := xdr.EncodeOpaque(&buf, resp.Data); err != nil {
		return nil, fmt.Errorf("encode data: %w", err)
	}

	return buf.Bytes(), nil
}
