package handlers

import (
	"github.com/marmos91/forgefs/internal/logger"
)

// ============================================================================
// Request and Response Structures
// ============================================================================

// NullRequest represents a NULL request. The procedure takes no arguments.
//
//	void NFSPROC3_NULL(void) = 0;
//
// Clients use it to probe the server and to validate the RPC path before
// issuing real calls.
type NullRequest struct{}

// NullResponse is empty on the wire.
type NullResponse struct {
	NFSResponseBase
}

// ============================================================================
// Protocol Handler
// ============================================================================

// Null handles NFSPROC3_NULL. It never touches the backend.
func (h *Handler) Null(ctx *NFSHandlerContext, req *NullRequest) (*NullResponse, error) {
	if err := ctx.isCancelled(); err != nil {
		return nil, err
	}

	logger.Debug("NULL: client=%s", ctx.ClientAddr)

	return &NullResponse{}, nil
}

// DecodeNullRequest accepts and ignores any argument bytes.
func DecodeNullRequest(data []byte) (*NullRequest, error) {
	return &NullRequest{}, nil
}

// Encode returns the empty NULL result.
func (resp *NullResponse) Encode() ([]byte, error) {
	return []byte{}, nil
}
