package handlers

import (
	"bytes"
	"fmt"

	"github.com/marmos91/forgefs/internal/logger"
	"github.com/marmos91/forgefs/internal/protocol/nfs/types"
	"github.com/marmos91/forgefs/internal/protocol/nfs/xdr"
	"github.com/marmos91/forgefs/pkg/vfs"
)

// FsInfoRequest represents an FSINFO request (RFC 1813 Section 3.3.19).
//
//	FSINFO3res NFSPROC3_FSINFO(FSINFO3args) = 19;
type FsInfoRequest struct {
	Handle []byte
}

// FsInfoResponse carries the static server limits.
type FsInfoResponse struct {
	NFSResponseBase
	Attr *types.NFSFileAttr
	Info types.FSInfoResult
}

// FsInfo handles NFSPROC3_FSINFO. Clients size their READ, WRITE and
// READDIR requests from the answer.
func (h *Handler) FsInfo(ctx *NFSHandlerContext, req *FsInfoRequest) (*FsInfoResponse, error) {
	if err := ctx.isCancelled(); err != nil {
		return nil, err
	}

	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Info("FSINFO: handle=%x client=%s auth=%d", req.Handle, clientIP, ctx.AuthFlavor)

	id, st := h.fileID(ctx, req.Handle)
	if st != types.NFS3OK {
		return &FsInfoResponse{NFSResponseBase: respStatus(st)}, nil
	}

	attr := h.postOpAttr(ctx, id)

	info, err := vfs.GetFSInfo(ctx.Context, h.FS, id)
	if err != nil {
		if ctxErr := ctx.isCancelled(); ctxErr != nil {
			return nil, ctxErr
		}
		return &FsInfoResponse{
			NFSResponseBase: respStatus(xdr.MapErrorToNFSStatus(err, clientIP, "FSINFO")),
			Attr:            attr,
		}, nil
	}

	return &FsInfoResponse{
		NFSResponseBase: respStatus(types.NFS3OK),
		Attr:            attr,
		Info: types.FSInfoResult{
			RtMax:       info.RtMax,
			RtPref:      info.RtPref,
			RtMult:      info.RtMult,
			WtMax:       info.WtMax,
			WtPref:      info.WtPref,
			WtMult:      info.WtMult,
			DtPref:      info.DtPref,
			MaxFileSize: info.MaxFileSize,
			TimeDelta: types.TimeVal{
				Seconds:  uint32(info.TimeDelta / 1e9),
				Nseconds: uint32(info.TimeDelta % 1e9),
			},
			Properties: info.Properties,
		},
	}, nil
}

// DecodeFsInfoRequest decodes FSINFO3args.
func DecodeFsInfoRequest(data []byte) (*FsInfoRequest, error) {
	handle, err := xdr.DecodeFileHandle(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode FSINFO: %w", err)
	}
	return &FsInfoRequest{Handle: handle}, nil
}

// Encode serializes FSINFO3res.
func (resp *FsInfoResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer

	if err := xdr.EncodeUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}

	if err := xdr.EncodeOptionalFileAttr(&buf, resp.Attr); err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}

	if resp.Status == types.NFS3OK {
		if err := xdr.EncodeFixed(&buf, &resp.Info); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}
