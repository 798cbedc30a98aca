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

// FsStatRequest represents an FSSTAT request from an NFS client.
//
// RFC 1813 Section 3.3.18 specifies the FSSTAT procedure as:
//
//	FSSTAT3res NFSPROC3_FSSTAT(FSSTAT3args) = 18;
//
// The handle is typically the export root.
type FsStatRequest struct {
	Handle []byte
}

// FsStatResponse represents the response to an FSSTAT request.
type FsStatResponse struct {
	NFSResponseBase

	// Attr contains the post-operation attributes for the handle. Present in
	// both arms.
	Attr *types.NFSFileAttr

	// Stat holds the usage figures. Only encoded on success.
	Stat types.FSStatResult
}

// ============================================================================
// Protocol Handler
// ============================================================================

// FsStat handles NFSPROC3_FSSTAT. Backends that do not report usage answer
// with zeroes.
func (h *Handler) FsStat(ctx *NFSHandlerContext, req *FsStatRequest) (*FsStatResponse, error) {
	if err := ctx.isCancelled(); err != nil {
		return nil, err
	}

	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Info("FSSTAT: handle=%x client=%s auth=%d", req.Handle, clientIP, ctx.AuthFlavor)

	id, st := h.fileID(ctx, req.Handle)
	if st != types.NFS3OK {
		logger.Debug("FSSTAT failed: handle=%x status=%d client=%s", req.Handle, st, clientIP)
		return &FsStatResponse{NFSResponseBase: respStatus(st)}, nil
	}

	attr := h.postOpAttr(ctx, id)

	stat, err := vfs.GetFSStat(ctx.Context, h.FS, id)
	if err != nil {
		if ctxErr := ctx.isCancelled(); ctxErr != nil {
			return nil, ctxErr
		}
		return &FsStatResponse{
			NFSResponseBase: respStatus(xdr.MapErrorToNFSStatus(err, clientIP, "FSSTAT")),
			Attr:            attr,
		}, nil
	}

	logger.Debug("FSSTAT successful: total=%d free=%d avail=%d files=%d",
		stat.TotalBytes, stat.FreeBytes, stat.AvailBytes, stat.TotalFiles)

	return &FsStatResponse{
		NFSResponseBase: respStatus(types.NFS3OK),
		Attr:            attr,
		Stat: types.FSStatResult{
			TotalBytes: stat.TotalBytes,
			FreeBytes:  stat.FreeBytes,
			AvailBytes: stat.AvailBytes,
			TotalFiles: stat.TotalFiles,
			FreeFiles:  stat.FreeFiles,
			AvailFiles: stat.AvailFiles,
			Invarsec:   stat.Invarsec,
		},
	}, nil
}

// ============================================================================
// XDR Decoding / Encoding
// ============================================================================

// DecodeFsStatRequest decodes FSSTAT3args.
func DecodeFsStatRequest(data []byte) (*FsStatRequest, error) {
	handle, err := xdr.DecodeFileHandle(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode FSSTAT: %w", err)
	}
	return &FsStatRequest{Handle: handle}, nil
}

// Encode serializes FSSTAT3res.
func (resp *FsStatResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer

	if err := xdr.EncodeUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}

	if err := xdr.EncodeOptionalFileAttr(&buf, resp.Attr); err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}

	if resp.Status == types.NFS3OK {
		if err := xdr.EncodeFixed(&buf, &resp.Stat); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}
