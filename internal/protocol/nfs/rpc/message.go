package rpc

// RPCCallMessage is the header of every RPC call.
//
// Wire Format (XDR encoding):
//   - XID:        4 bytes
//   - MsgType:    4 bytes (0 for CALL)
//   - RPCVersion: 4 bytes (2)
//   - Program:    4 bytes
//   - Version:    4 bytes
//   - Procedure:  4 bytes
//   - Cred:       opaque_auth
//   - Verf:       opaque_auth
//   - [procedure-specific parameters follow]
//
// Reference: RFC 5531 Section 9
type RPCCallMessage struct {
	// XID is echoed unchanged in the reply so the client can match it.
	XID uint32

	MsgType    uint32
	RPCVersion uint32
	Program    uint32
	Version    uint32
	Procedure  uint32

	// Cred identifies the caller. AUTH_NULL and AUTH_UNIX are understood.
	Cred OpaqueAuth

	// Verf is ignored for the flavours this server accepts.
	Verf OpaqueAuth
}

// RPCReplyMessage is the header of an accepted reply. Procedure results or
// mismatch info follow AcceptStat.
type RPCReplyMessage struct {
	XID        uint32
	MsgType    uint32
	ReplyState uint32
	Verf       OpaqueAuth
	AcceptStat uint32
}

// mismatchInfo follows PROG_MISMATCH and RPC_MISMATCH.
type mismatchInfo struct {
	Low  uint32
	High uint32
}

// rejectedReply is the header of a MSG_DENIED reply.
type rejectedReply struct {
	XID        uint32
	MsgType    uint32
	ReplyState uint32
	RejectStat uint32
}

// OpaqueAuth carries a credential or verifier. The RPC layer does not
// interpret Body; its format depends on Flavor.
//
// Reference: RFC 5531 Section 8
type OpaqueAuth struct {
	Flavor uint32
	Body   []byte `xdr:"opaque"`
}

// GetAuthFlavor returns the credential flavour of the call.
func (c *RPCCallMessage) GetAuthFlavor() uint32 {
	return c.Cred.Flavor
}

// GetAuthBody returns the raw credential body. For AUTH_UNIX decode it with
// ParseUnixAuth.
func (c *RPCCallMessage) GetAuthBody() []byte {
	return c.Cred.Body
}
