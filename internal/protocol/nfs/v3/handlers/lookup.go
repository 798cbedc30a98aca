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

// LookupRequest represents a LOOKUP request (RFC 1813 Section 3.3.3).
//
//	LOOKUP3res NFSPROC3_LOOKUP(LOOKUP3args) = 3;
type LookupRequest struct {
	// DirHandle is the directory to search.
	DirHandle []byte

	// Filename is a single path component. "." and ".." are accepted.
	Filename string
}

// LookupResponse represents a LOOKUP result.
//
// On success it carries the object handle, the object's attributes and the
// directory's attributes. On failure only the directory attributes.
type LookupResponse struct {
	NFSResponseBase
	FileHandle []byte
	Attr       *types.NFSFileAttr
	DirAttr    *types.NFSFileAttr
}

// ============================================================================
// Protocol Handler
// ============================================================================

// Lookup handles NFSPROC3_LOOKUP.
//
// "." resolves to the directory itself without asking the backend. ".." is
// passed through: backends know their own parent relation.
func (h *Handler) Lookup(ctx *NFSHandlerContext, req *LookupRequest) (*LookupResponse, error) {
	if err := ctx.isCancelled(); err != nil {
		return nil, err
	}

	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Info("LOOKUP: name='%s' dir=%x client=%s auth=%d",
		req.Filename, req.DirHandle, clientIP, ctx.AuthFlavor)

	dirID, st := h.fileID(ctx, req.DirHandle)
	if st != types.NFS3OK {
		logger.Debug("LOOKUP failed: dir=%x status=%d client=%s", req.DirHandle, st, clientIP)
		return &LookupResponse{NFSResponseBase: respStatus(st)}, nil
	}

	if verr := validateFilename(req.Filename, true); verr != nil {
		logger.Debug("LOOKUP validation failed: name='%s' error=%s", req.Filename, verr.message)
		return &LookupResponse{
			NFSResponseBase: respStatus(verr.nfsStatus),
			DirAttr:         h.postOpAttr(ctx, dirID),
		}, nil
	}

	childID := dirID
	if req.Filename != "." {
		var err error
		childID, err = h.FS.Lookup(ctx.Context, dirID, req.Filename)
		if err != nil {
			if ctxErr := ctx.isCancelled(); ctxErr != nil {
				return nil, ctxErr
			}
			return &LookupResponse{
				NFSResponseBase: respStatus(xdr.MapErrorToNFSStatus(err, clientIP, "LOOKUP")),
				DirAttr:         h.postOpAttr(ctx, dirID),
			}, nil
		}
	}

	logger.Debug("LOOKUP successful: name='%s' fileid=%d client=%s", req.Filename, childID, clientIP)

	return &LookupResponse{
		NFSResponseBase: respStatus(types.NFS3OK),
		FileHandle:      h.fileHandle(ctx, childID),
		Attr:            h.postOpAttr(ctx, childID),
		DirAttr:         h.postOpAttr(ctx, dirID),
	}, nil
}

// ============================================================================
// XDR Decoding / Encoding
// ============================================================================

// DecodeLookupRequest decodes LOOKUP3args (a diropargs3).
func DecodeLookupRequest(data []byte) (*LookupRequest, error) {
	handle, name, err := xdr.DecodeDirOpArgs(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode LOOKUP: %w", err)
	}
	return &LookupRequest{DirHandle: handle, Filename: name}, nil
}

// Encode serializes LOOKUP3res.
func (resp *LookupResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer

	if err := xdr.EncodeUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}

	if resp.Status == types.NFS3OK {
		if err := xdr.EncodeOpaque(&buf, resp.FileHandle); err != nil {
			return nil, fmt.Errorf("encode handle: %w", err)
		}
		if err := xdr.EncodeOptionalFileAttr(&buf, resp.Attr); err != nil {
			return nil, fmt.Errorf("encode object attributes: %w", err)
		}
	}

	if err := xdr.EncodeOptionalFileAttr(&buf, resp.DirAttr); err != nil {
		return nil, fmt.Errorf("encode directory attributes: %w", err)
	}

	return buf.Bytes(), nil
}
