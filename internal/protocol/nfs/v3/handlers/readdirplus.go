package handlers

import (
	"bytes"
	"fmt"

	"github.com/marmos91/forgefs/internal/bufpool"
	"github.com/marmos91/forgefs/internal/logger"
	"github.com/marmos91/forgefs/internal/protocol/nfs/types"
	"github.com/marmos91/forgefs/internal/protocol/nfs/xdr"
	"github.com/marmos91/forgefs/pkg/vfs"
)

// ============================================================================
// Request and Response Structures
// ============================================================================

// ReadDirPlusRequest represents a READDIRPLUS request (RFC 1813 Section
// 3.3.17).
//
// READDIRPLUS returns directory entries together with their attributes and
// file handles, saving the client a LOOKUP per entry.
//
//	READDIRPLUS3res NFSPROC3_READDIRPLUS(READDIRPLUS3args) = 17;
type ReadDirPlusRequest struct {
	// DirHandle is the directory to list.
	DirHandle []byte

	// Cookie is 0 for the first page, otherwise the cookie of the last
	// entry the client received.
	Cookie uint64

	// CookieVerf must echo the verifier from the previous page when Cookie
	// is non-zero.
	CookieVerf [types.CookieVerfSize]byte

	// DirCount bounds the directory information (fileid, name, cookie)
	// returned, excluding attributes and handles.
	DirCount uint32

	// MaxCount bounds the whole reply.
	MaxCount uint32
}

// DirPlusEntry is one entryplus3.
type DirPlusEntry struct {
	FileID uint64
	Name   string
	Cookie uint64

	// Attr and FileHandle are optional on the wire (post_op_attr and
	// post_op_fh3).
	Attr       *types.NFSFileAttr
	FileHandle []byte
}

// ReadDirPlusResponse represents a READDIRPLUS result.
type ReadDirPlusResponse struct {
	NFSResponseBase
	DirAttr    *types.NFSFileAttr
	CookieVerf [types.CookieVerfSize]byte
	Entries    []DirPlusEntry
	Eof        bool
}

// ============================================================================
// Protocol Handler
// ============================================================================

// ReadDirPlus handles NFSPROC3_READDIRPLUS.
//
// Budgeting:
//   - the encoded result body never exceeds maxcount-128 bytes
//   - each entry is charged 8+4+len(name)+8 bytes against dircount
//   - each entry is encoded into a scratch buffer and committed only if both
//     budgets still hold; the first entry that does not fit ends the page
//     with eof=false
//   - the backend is asked for dircount/16 entries (at least one)
//
// The backend's eof is only reported when every entry it returned made it
// into the reply.
func (h *Handler) ReadDirPlus(ctx *NFSHandlerContext, req *ReadDirPlusRequest) (*ReadDirPlusResponse, error) {
	if err := ctx.isCancelled(); err != nil {
		return nil, err
	}

	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Info("READDIRPLUS: dir=%x cookie=%d dircount=%d maxcount=%d client=%s auth=%d",
		req.DirHandle, req.Cookie, req.DirCount, req.MaxCount, clientIP, ctx.AuthFlavor)

	dirID, st := h.fileID(ctx, req.DirHandle)
	if st != types.NFS3OK {
		logger.Debug("READDIRPLUS failed: dir=%x status=%d client=%s", req.DirHandle, st, clientIP)
		return &ReadDirPlusResponse{NFSResponseBase: respStatus(st)}, nil
	}

	dirAttr := h.postOpAttr(ctx, dirID)

	if !h.checkCookieVerf(ctx, req.Cookie, req.CookieVerf) {
		logger.Debug("READDIRPLUS bad cookie verifier: dir=%x client=%s", req.DirHandle, clientIP)
		return &ReadDirPlusResponse{NFSResponseBase: respStatus(types.NFS3ErrBadCookie), DirAttr: dirAttr}, nil
	}

	page, err := h.FS.ReadDir(ctx.Context, dirID, vfs.FileID(req.Cookie), backendBatch(req.DirCount))
	if err != nil {
		if ctxErr := ctx.isCancelled(); ctxErr != nil {
			return nil, ctxErr
		}
		return &ReadDirPlusResponse{
			NFSResponseBase: respStatus(xdr.MapErrorToNFSStatus(err, clientIP, "READDIRPLUS")),
			DirAttr:         dirAttr,
		}, nil
	}

	resp := &ReadDirPlusResponse{
		NFSResponseBase: respStatus(types.NFS3OK),
		DirAttr:         dirAttr,
		CookieVerf:      vfs.ServerID(h.FS, ctx.Generation),
	}

	body := bufpool.GetBuffer()
	defer bufpool.PutBuffer(body)
	scratch := bufpool.GetBuffer()
	defer bufpool.PutBuffer(scratch)

	if err := resp.encodeHeader(body); err != nil {
		return nil, err
	}

	budget := newDirBudget(req.MaxCount, req.DirCount)
	complete := true
	for i := range page.Entries {
		e := &page.Entries[i]
		entry := DirPlusEntry{
			FileID:     uint64(e.FileID),
			Name:       e.Name,
			Cookie:     uint64(e.FileID),
			Attr:       xdr.FileAttrToNFS(&e.Attr),
			FileHandle: h.fileHandle(ctx, e.FileID),
		}

		scratch.Reset()
		if err := encodeDirPlusEntry(scratch, &entry); err != nil {
			return nil, err
		}
		if !budget.admit(body.Len(), scratch.Len(), e.Name) {
			complete = false
			break
		}

		body.Write(scratch.Bytes())
		resp.Entries = append(resp.Entries, entry)
	}
	resp.Eof = complete && page.EOF

	logger.Debug("READDIRPLUS: dir=%x returned=%d of %d eof=%t bytes=%d client=%s",
		req.DirHandle, len(resp.Entries), len(page.Entries), resp.Eof, body.Len()+listTrailer, clientIP)

	return resp, nil
}

// ============================================================================
// XDR Decoding / Encoding
// ============================================================================

// DecodeReadDirPlusRequest decodes READDIRPLUS3args.
//
//	struct READDIRPLUS3args {
//	    nfs_fh3      dir;
//	    cookie3      cookie;
//	    cookieverf3  cookieverf;
//	    count3       dircount;
//	    count3       maxcount;
//	};
func DecodeReadDirPlusRequest(data []byte) (*ReadDirPlusRequest, error) {
	reader := bytes.NewReader(data)

	handle, err := xdr.DecodeFileHandle(reader)
	if err != nil {
		return nil, fmt.Errorf("decode handle: %w", err)
	}

	cookie, err := xdr.DecodeUint64(reader)
	if err != nil {
		return nil, fmt.Errorf("decode cookie: %w", err)
	}

	verf, err := xdr.DecodeFixedOpaque(reader, types.CookieVerfSize)
	if err != nil {
		return nil, fmt.Errorf("decode cookieverf: %w", err)
	}

	dircount, err := xdr.DecodeUint32(reader)
	if err != nil {
		return nil, fmt.Errorf("decode dircount: %w", err)
	}

	maxcount, err := xdr.DecodeUint32(reader)
	if err != nil {
		return nil, fmt.Errorf("decode maxcount: %w", err)
	}

	req := &ReadDirPlusRequest{
		DirHandle: handle,
		Cookie:    cookie,
		DirCount:  dircount,
		MaxCount:  maxcount,
	}
	copy(req.CookieVerf[:], verf)

	return req, nil
}

func (resp *ReadDirPlusResponse) encodeHeader(buf *bytes.Buffer) error {
	if err := xdr.EncodeUint32(buf, resp.Status); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	if err := xdr.EncodeOptionalFileAttr(buf, resp.DirAttr); err != nil {
		return fmt.Errorf("encode directory attributes: %w", err)
	}
	if resp.Status != types.NFS3OK {
		return nil
	}
	return xdr.EncodeFixedOpaque(buf, resp.CookieVerf[:])
}

// encodeDirPlusEntry writes value_follows=TRUE followed by entryplus3.
func encodeDirPlusEntry(buf *bytes.Buffer, e *DirPlusEntry) error {
	if err := xdr.EncodeBool(buf, true); err != nil {
		return err
	}
	if err := xdr.EncodeUint64(buf, e.FileID); err != nil {
		return err
	}
	if err := xdr.EncodeString(buf, e.Name); err != nil {
		return err
	}
	if err := xdr.EncodeUint64(buf, e.Cookie); err != nil {
		return err
	}
	if err := xdr.EncodeOptionalFileAttr(buf, e.Attr); err != nil {
		return err
	}
	return xdr.EncodeOptionalOpaque(buf, e.FileHandle)
}

// Encode serializes READDIRPLUS3res.
func (resp *ReadDirPlusResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer

	if err := resp.encodeHeader(&buf); err != nil {
		return nil, err
	}

	if resp.Status != types.NFS3OK {
		return buf.Bytes(), nil
	}

	for i := range resp.Entries {
		if err := encodeDirPlusEntry(&buf, &resp.Entries[i]); err != nil {
			return nil, fmt.Errorf("encode entry %q: %w", resp.Entries[i].Name, err)
		}
	}

	if err := encodeListTrailer(&buf, resp.Eof); err != nil {
		return nil, fmt.Errorf("encode trailer: %w", err)
	}

	return buf.Bytes(), nil
}
