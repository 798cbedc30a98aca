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

// CreateRequest represents an NFS CREATE request (RFC 1813 Section 3.3.8).
//
// The CREATE procedure creates a new regular file in a specified directory.
// It supports three creation modes:
//   - UNCHECKED: create the file, or apply Attr to an existing one
//   - GUARDED: fail with EXIST if the name is already taken
//   - EXCLUSIVE: atomic create; the verifier is accepted but not stored
//
// Wire signature:
//
//	CREATE3res NFSPROC3_CREATE(CREATE3args) = 8;
type CreateRequest struct {
	// DirHandle is the parent directory.
	DirHandle []byte

	// Filename is the name of the new file. At most 255 bytes.
	Filename string

	// Mode is the createmode3 discriminant.
	Mode uint32

	// Attr holds the initial attributes for UNCHECKED and GUARDED.
	Attr vfs.SetAttr

	// Verf is the createverf3 for EXCLUSIVE.
	Verf [types.CreateVerfSize]byte
}

// CreateResponse represents an NFS CREATE result.
//
// The directory wcc_data is present in both arms so clients can keep their
// directory cache coherent even when the create fails.
type CreateResponse struct {
	NFSResponseBase

	// FileHandle and Attr describe the created object. Attr is absent for
	// EXCLUSIVE creates.
	FileHandle []byte
	Attr       *types.NFSFileAttr

	DirBefore *types.WccAttr
	DirAfter  *types.NFSFileAttr
}

// ============================================================================
// Protocol Handler
// ============================================================================

// Create handles NFSPROC3_CREATE.
//
// Process:
//  1. Translate the directory handle and validate the name
//  2. Capture the directory's pre-op attributes
//  3. Refuse with ROFS on a read-only export
//  4. For GUARDED, look the name up first and answer EXIST if present
//  5. Call Create or CreateExclusive on the backend
//  6. Capture the directory's post-op attributes
func (h *Handler) Create(ctx *NFSHandlerContext, req *CreateRequest) (*CreateResponse, error) {
	if err := ctx.isCancelled(); err != nil {
		return nil, err
	}

	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Info("CREATE: file='%s' dir=%x mode=%s client=%s auth=%d",
		req.Filename, req.DirHandle, createModeName(req.Mode), clientIP, ctx.AuthFlavor)

	dirID, st := h.fileID(ctx, req.DirHandle)
	if st != types.NFS3OK {
		logger.Debug("CREATE failed: dir=%x status=%d client=%s", req.DirHandle, st, clientIP)
		return &CreateResponse{NFSResponseBase: respStatus(st)}, nil
	}

	dirBefore := h.preOpAttr(ctx, dirID)

	fail := func(code uint32) *CreateResponse {
		return &CreateResponse{
			NFSResponseBase: respStatus(code),
			DirBefore:       dirBefore,
			DirAfter:        h.postOpAttr(ctx, dirID),
		}
	}

	if verr := validateFilename(req.Filename, false); verr != nil {
		logger.Debug("CREATE validation failed: name='%s' error=%s", req.Filename, verr.message)
		return fail(verr.nfsStatus), nil
	}

	if h.readOnly() {
		logger.Debug("CREATE rejected: read-only export client=%s", clientIP)
		return fail(types.NFS3ErrRofs), nil
	}

	if req.Mode == types.CreateGuarded {
		_, err := h.FS.Lookup(ctx.Context, dirID, req.Filename)
		switch {
		case err == nil:
			logger.Debug("CREATE failed: '%s' already exists client=%s", req.Filename, clientIP)
			return fail(types.NFS3ErrExist), nil
		case vfs.StatusOf(err) != vfs.StatusNoEnt:
			if ctxErr := ctx.isCancelled(); ctxErr != nil {
				return nil, ctxErr
			}
			return fail(xdr.MapErrorToNFSStatus(err, clientIP, "CREATE")), nil
		}
	}

	var (
		id   vfs.FileID
		attr *vfs.FileAttr
		err  error
	)
	if req.Mode == types.CreateExclusive {
		id, err = h.FS.CreateExclusive(ctx.Context, dirID, req.Filename)
	} else {
		id, attr, err = h.FS.Create(ctx.Context, dirID, req.Filename, req.Attr)
	}
	if err != nil {
		if ctxErr := ctx.isCancelled(); ctxErr != nil {
			return nil, ctxErr
		}
		return fail(xdr.MapErrorToNFSStatus(err, clientIP, "CREATE")), nil
	}

	logger.Info("CREATE successful: file='%s' fileid=%d mode=%s client=%s",
		req.Filename, id, createModeName(req.Mode), clientIP)

	return &CreateResponse{
		NFSResponseBase: respStatus(types.NFS3OK),
		FileHandle:      h.fileHandle(ctx, id),
		Attr:            xdr.FileAttrToNFS(attr),
		DirBefore:       dirBefore,
		DirAfter:        h.postOpAttr(ctx, dirID),
	}, nil
}

func createModeName(mode uint32) string {
	switch mode {
	case types.CreateUnchecked:
		return "UNCHECKED"
	case types.CreateGuarded:
		return "GUARDED"
	case types.CreateExclusive:
		return "EXCLUSIVE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", mode)
	}
}

// ============================================================================
// XDR Decoding / Encoding
// ============================================================================

// DecodeCreateRequest decodes CREATE3args.
//
//	struct CREATE3args {
//	    diropargs3   where;
//	    createhow3   how;
//	};
//
// An unknown createmode3 is a decode error.
func DecodeCreateRequest(data []byte) (*CreateRequest, error) {
	reader := bytes.NewReader(data)

	handle, name, err := xdr.DecodeDirOpArgs(reader)
	if err != nil {
		return nil, fmt.Errorf("decode where: %w", err)
	}

	mode, err := xdr.DecodeUint32(reader)
	if err != nil {
		return nil, fmt.Errorf("decode mode: %w", err)
	}

	req := &CreateRequest{DirHandle: handle, Filename: name, Mode: mode}

	switch mode {
	case types.CreateUnchecked, types.CreateGuarded:
		if req.Attr, err = xdr.DecodeSetAttrs(reader); err != nil {
			return nil, fmt.Errorf("decode attributes: %w", err)
		}
	case types.CreateExclusive:
		verf, err := xdr.DecodeFixedOpaque(reader, types.CreateVerfSize)
		if err != nil {
			return nil, fmt.Errorf("decode verifier: %w", err)
		}
		copy(req.Verf[:], verf)
	default:
		return nil, fmt.Errorf("invalid create mode %d", mode)
	}

	return req, nil
}

// Encode serializes CREATE3res.
func (resp *CreateResponse) Encode() ([]byte, error) {
	return encodeNewObject(resp.Status, resp.FileHandle, resp.Attr, resp.DirBefore, resp.DirAfter)
}
