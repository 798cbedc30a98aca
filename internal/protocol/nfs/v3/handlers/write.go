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

// WriteRequest represents a WRITE request (RFC 1813 Section 3.3.7).
//
//	WRITE3res NFSPROC3_WRITE(WRITE3args) = 7;
//
// The decoder guarantees Count == len(Data).
type WriteRequest struct {
	Handle []byte
	Offset uint64
	Count  uint32

	// Stable is the client's requested stable_how. Every write is answered
	// as FILE_SYNC regardless.
	Stable uint32

	Data []byte
}

// WriteResponse represents a WRITE result.
type WriteResponse struct {
	NFSResponseBase
	Before    *types.WccAttr
	After     *types.NFSFileAttr
	Count     uint32
	Committed uint32
	Verf      [types.WriteVerfSize]byte
}

// countMismatchError is returned by DecodeWriteRequest when the declared
// count does not match the opaque data length. The dispatcher answers it
// with GARBAGE_ARGS.
type countMismatchError struct {
	count  uint32
	length int
}

func (e *countMismatchError) Error() string {
	return fmt.Sprintf("write count %d does not match data length %d", e.count, e.length)
}

// ============================================================================
// Protocol Handler
// ============================================================================

// Write handles NFSPROC3_WRITE.
//
// Writes are synchronous: the reply always reports FILE_SYNC and the server
// id as the verifier, so clients never need COMMIT.
func (h *Handler) Write(ctx *NFSHandlerContext, req *WriteRequest) (*WriteResponse, error) {
	if err := ctx.isCancelled(); err != nil {
		return nil, err
	}

	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Info("WRITE: handle=%x offset=%d count=%d stable=%d client=%s auth=%d",
		req.Handle, req.Offset, req.Count, req.Stable, clientIP, ctx.AuthFlavor)

	id, st := h.fileID(ctx, req.Handle)
	if st != types.NFS3OK {
		logger.Debug("WRITE failed: handle=%x status=%d client=%s", req.Handle, st, clientIP)
		return &WriteResponse{NFSResponseBase: respStatus(st)}, nil
	}

	current := h.attrs(ctx, id)
	before := xdr.CaptureWccAttr(current)

	if h.readOnly() {
		logger.Debug("WRITE rejected: read-only export client=%s", clientIP)
		return &WriteResponse{
			NFSResponseBase: respStatus(types.NFS3ErrRofs),
			Before:          before,
			After:           xdr.FileAttrToNFS(current),
		}, nil
	}

	updated, err := h.FS.Write(ctx.Context, id, req.Offset, req.Data)
	if err != nil {
		if ctxErr := ctx.isCancelled(); ctxErr != nil {
			return nil, ctxErr
		}
		return &WriteResponse{
			NFSResponseBase: respStatus(xdr.MapErrorToNFSStatus(err, clientIP, "WRITE")),
			Before:          before,
			After:           h.postOpAttr(ctx, id),
		}, nil
	}

	after := xdr.FileAttrToNFS(updated)
	if after == nil {
		after = h.postOpAttr(ctx, id)
	}

	logger.Debug("WRITE successful: handle=%x offset=%d written=%d", req.Handle, req.Offset, len(req.Data))

	return &WriteResponse{
		NFSResponseBase: respStatus(types.NFS3OK),
		Before:          before,
		After:           after,
		Count:           uint32(len(req.Data)),
		Committed:       types.FileSync,
		Verf:            vfs.ServerID(h.FS, ctx.Generation),
	}, nil
}

// ============================================================================
// XDR Decoding / Encoding
// ============================================================================

// DecodeWriteRequest decodes WRITE3args: file, offset, count, stable, data.
func DecodeWriteRequest(data []byte) (*WriteRequest, error) {
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

	stable, err := xdr.DecodeUint32(reader)
	if err != nil {
		return nil, fmt.Errorf("decode stable: %w", err)
	}

	payload, err := xdr.DecodeOpaque(reader)
	if err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}

	if int(count) != len(payload) {
		return nil, &countMismatchError{count: count, length: len(payload)}
	}

	return &WriteRequest{
		Handle: handle,
		Offset: offset,
		Count:  count,
		Stable: stable,
		Data:   payload,
	}, nil
}

// Encode serializes WRITE3res.
func (resp *WriteResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer

	if err := xdr.EncodeUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}

	if err := xdr.EncodeWccData(&buf, resp.Before, resp.After); err != nil {
		return nil, fmt.Errorf("encode wcc data: %w", err)
	}

	if resp.Status != types.NFS3OK {
		return buf.Bytes(), nil
	}

	if err := xdr.EncodeUint32(&buf, resp.Count); err != nil {
		return nil, fmt.Errorf("write count: %w", err)
	}
	if err := xdr.EncodeUint32(&buf, resp.Committed); err != nil {
		return nil, fmt.Errorf("write committed: %w", err)
	}
	if err := xdr.EncodeFixedOpaque(&buf, resp.Verf[:]); err != nil {
		return nil, fmt.Errorf("write verifier: %w", err)
	}

	return buf.Bytes(), nil
}
