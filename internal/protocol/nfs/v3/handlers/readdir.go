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

// Directory listing budgets.
const (
	// replyOverhead is reserved out of maxcount for the RPC reply header and
	// record mark.
	replyOverhead = 128

	// listTrailer is the final value_follows=FALSE plus the eof flag.
	listTrailer = 8

	// minEntryCost is the smallest dircount an entry can consume; the
	// backend is asked for dircount/minEntryCost entries.
	minEntryCost = 16
)

// dirBudget tracks the two limits a directory listing must respect: the
// encoded size of the whole result body (maxcount less the reply overhead)
// and the client's dircount, charged per entry as fileid + name length +
// name + cookie.
type dirBudget struct {
	limit    int
	dircount uint64
	used     uint64
}

func newDirBudget(maxcount, dircount uint32) *dirBudget {
	limit := 0
	if maxcount > replyOverhead {
		limit = int(maxcount) - replyOverhead
	}
	return &dirBudget{limit: limit, dircount: uint64(dircount)}
}

// admit reports whether an entry named name, encoded as entryLen bytes,
// can be appended to a body of bodyLen bytes. Admitted entries are charged.
func (b *dirBudget) admit(bodyLen, entryLen int, name string) bool {
	cost := uint64(8 + 4 + len(name) + 8)
	if b.used+cost > b.dircount {
		return false
	}
	if bodyLen+entryLen+listTrailer > b.limit {
		return false
	}
	b.used += cost
	return true
}

// backendBatch converts dircount into the number of entries requested from
// the backend.
func backendBatch(dircount uint32) int {
	n := int(dircount / minEntryCost)
	if n < 1 {
		n = 1
	}
	return n
}

// checkCookieVerf validates the cookie verifier a client echoes back. A
// zero cookie or a zero verifier is always accepted.
func (h *Handler) checkCookieVerf(ctx *NFSHandlerContext, cookie uint64, verf [types.CookieVerfSize]byte) bool {
	if cookie == 0 || verf == ([types.CookieVerfSize]byte{}) {
		return true
	}
	return verf == vfs.ServerID(h.FS, ctx.Generation)
}

// ============================================================================
// Request and Response Structures
// ============================================================================

// ReadDirRequest represents a READDIR request (RFC 1813 Section 3.3.16).
//
//	READDIR3res NFSPROC3_READDIR(READDIR3args) = 16;
type ReadDirRequest struct {
	DirHandle []byte

	// Cookie is 0 to start, otherwise the cookie of the last entry seen.
	Cookie uint64

	CookieVerf [types.CookieVerfSize]byte

	// Count bounds the whole reply. It also serves as the dircount budget.
	Count uint32
}

// DirEntry is one entry3.
type DirEntry struct {
	FileID uint64
	Name   string
	Cookie uint64
}

// ReadDirResponse represents a READDIR result.
type ReadDirResponse struct {
	NFSResponseBase
	DirAttr    *types.NFSFileAttr
	CookieVerf [types.CookieVerfSize]byte
	Entries    []DirEntry
	Eof        bool
}

// ============================================================================
// Protocol Handler
// ============================================================================

// ReadDir handles NFSPROC3_READDIR.
//
// Each child's FileID doubles as its cookie. Entries are committed one at a
// time while they fit both budgets; the first one that does not fit ends the
// page with eof=false.
func (h *Handler) ReadDir(ctx *NFSHandlerContext, req *ReadDirRequest) (*ReadDirResponse, error) {
	if err := ctx.isCancelled(); err != nil {
		return nil, err
	}

	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Info("READDIR: dir=%x cookie=%d count=%d client=%s auth=%d",
		req.DirHandle, req.Cookie, req.Count, clientIP, ctx.AuthFlavor)

	dirID, st := h.fileID(ctx, req.DirHandle)
	if st != types.NFS3OK {
		logger.Debug("READDIR failed: dir=%x status=%d client=%s", req.DirHandle, st, clientIP)
		return &ReadDirResponse{NFSResponseBase: respStatus(st)}, nil
	}

	dirAttr := h.postOpAttr(ctx, dirID)

	if !h.checkCookieVerf(ctx, req.Cookie, req.CookieVerf) {
		logger.Debug("READDIR bad cookie verifier: dir=%x client=%s", req.DirHandle, clientIP)
		return &ReadDirResponse{NFSResponseBase: respStatus(types.NFS3ErrBadCookie), DirAttr: dirAttr}, nil
	}

	page, err := vfs.ReadDirSimple(ctx.Context, h.FS, dirID, vfs.FileID(req.Cookie), backendBatch(req.Count))
	if err != nil {
		if ctxErr := ctx.isCancelled(); ctxErr != nil {
			return nil, ctxErr
		}
		return &ReadDirResponse{
			NFSResponseBase: respStatus(xdr.MapErrorToNFSStatus(err, clientIP, "READDIR")),
			DirAttr:         dirAttr,
		}, nil
	}

	resp := &ReadDirResponse{
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

	budget := newDirBudget(req.Count, req.Count)
	complete := true
	for _, e := range page.Entries {
		entry := DirEntry{FileID: uint64(e.FileID), Name: e.Name, Cookie: uint64(e.FileID)}

		scratch.Reset()
		if err := encodeDirEntry(scratch, &entry); err != nil {
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

	logger.Debug("READDIR: dir=%x returned=%d eof=%t client=%s", req.DirHandle, len(resp.Entries), resp.Eof, clientIP)

	return resp, nil
}

// ============================================================================
// XDR Decoding / Encoding
// ============================================================================

// DecodeReadDirRequest decodes READDIR3args: dir, cookie, cookieverf, count.
func DecodeReadDirRequest(data []byte) (*ReadDirRequest, error) {
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

	count, err := xdr.DecodeUint32(reader)
	if err != nil {
		return nil, fmt.Errorf("decode count: %w", err)
	}

	req := &ReadDirRequest{DirHandle: handle, Cookie: cookie, Count: count}
	copy(req.CookieVerf[:], verf)
	return req, nil
}

func (resp *ReadDirResponse) encodeHeader(buf *bytes.Buffer) error {
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

// encodeDirEntry writes value_follows=TRUE followed by entry3.
func encodeDirEntry(buf *bytes.Buffer, e *DirEntry) error {
	if err := xdr.EncodeBool(buf, true); err != nil {
		return err
	}
	if err := xdr.EncodeUint64(buf, e.FileID); err != nil {
		return err
	}
	if err := xdr.EncodeString(buf, e.Name); err != nil {
		return err
	}
	return xdr.EncodeUint64(buf, e.Cookie)
}

// encodeListTrailer ends an entry list.
func encodeListTrailer(buf *bytes.Buffer, eof bool) error {
	if err := xdr.EncodeBool(buf, false); err != nil {
		return err
	}
	return xdr.EncodeBool(buf, eof)
}

// Encode serializes READDIR3res.
func (resp *ReadDirResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer

	if err := resp.encodeHeader(&buf); err != nil {
		return nil, err
	}

	if resp.Status != types.NFS3OK {
		return buf.Bytes(), nil
	}

	for i := range resp.Entries {
		if err := encodeDirEntry(&buf, &resp.Entries[i]); err != nil {
			return nil, fmt.Errorf("encode entry %q: %w", resp.Entries[i].Name, err)
		}
	}

	if err := encodeListTrailer(&buf, resp.Eof); err != nil {
		return nil, fmt.Errorf("encode trailer: %w", err)
	}

	return buf.Bytes(), nil
}
