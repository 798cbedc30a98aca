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

// PathConfRequest represents a PATHCONF request (RFC 1813 Section 3.3.20).
//
//	PATHCONF3res NFSPROC3_PATHCONF(PATHCONF3args) = 20;
type PathConfRequest struct {
	Handle []byte
}

// PathConfResponse carries the POSIX pathconf values for the export.
type PathConfResponse struct {
	NFSResponseBase
	Attr *types.NFSFileAttr
	Conf types.PathConfResult
}

// exportPathConf is the same for every object: hard links are not
// supported, long names are rejected rather than truncated, and names are
// case sensitive.
var exportPathConf = types.PathConfResult{
	LinkMax:         1,
	NameMax:         types.MaxNameLen,
	NoTrunc:         true,
	ChownRestricted: true,
	CaseInsensitive: false,
	CasePreserving:  true,
}

// ============================================================================
// Protocol Handler
// ============================================================================

// PathConf handles NFSPROC3_PATHCONF.
func (h *Handler) PathConf(ctx *NFSHandlerContext, req *PathConfRequest) (*PathConfResponse, error) {
	if err := ctx.isCancelled(); err != nil {
		return nil, err
	}

	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Info("PATHCONF: handle=%x client=%s auth=%d", req.Handle, clientIP, ctx.AuthFlavor)

	id, st := h.fileID(ctx, req.Handle)
	if st != types.NFS3OK {
		logger.Debug("PATHCONF failed: handle=%x status=%d client=%s", req.Handle, st, clientIP)
		return &PathConfResponse{NFSResponseBase: respStatus(st)}, nil
	}

	attr, err := h.FS.GetAttr(ctx.Context, id)
	if err != nil {
		if ctxErr := ctx.isCancelled(); ctxErr != nil {
			return nil, ctxErr
		}
		return &PathConfResponse{NFSResponseBase: respStatus(xdr.MapErrorToNFSStatus(err, clientIP, "PATHCONF"))}, nil
	}

	return &PathConfResponse{
		NFSResponseBase: respStatus(types.NFS3OK),
		Attr:            xdr.FileAttrToNFS(attr),
		Conf:            exportPathConf,
	}, nil
}

// ============================================================================
// XDR Decoding / Encoding
// ============================================================================

// DecodePathConfRequest decodes PATHCONF3args.
func DecodePathConfRequest(data []byte) (*PathConfRequest, error) {
	handle, err := xdr.DecodeFileHandle(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode PATHCONF: %w", err)
	}
	return &PathConfRequest{Handle: handle}, nil
}

// Encode serializes PATHCONF3res.
//
//	struct PATHCONF3resok {
//	    post_op_attr obj_attributes;
//	    uint32       linkmax;
//	    uint32       name_max;
//	    bool         no_trunc;
//	    bool         chown_restricted;
//	    bool         case_insensitive;
//	    bool         case_preserving;
//	};
func (resp *PathConfResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer

	if err := xdr.EncodeUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}

	if err := xdr.EncodeOptionalFileAttr(&buf, resp.Attr); err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}

	if resp.Status == types.NFS3OK {
		if err := xdr.EncodeFixed(&buf, &resp.Conf); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}
