package rpc

// RPC protocol version (RFC 5531). Calls with any other rpcvers are answered
// with MSG_DENIED / RPC_MISMATCH.
const RPCVersion = 2

// RPC Program Numbers
const (
	// ProgramNFS is the NFS program number (RFC 1813).
	ProgramNFS = 100003

	// NFSVersion3 is the only NFS program version served.
	NFSVersion3 = 3
)

// RPC Message Types
//
// Reference: RFC 5531 Section 9
const (
	RPCCall  = 0
	RPCReply = 1
)

// RPC Reply States
const (
	// RPCMsgAccepted means the server recognised the call and the accept_stat
	// says what happened.
	RPCMsgAccepted = 0

	// RPCMsgDenied means the call was rejected: RPC version mismatch or an
	// authentication failure.
	RPCMsgDenied = 1
)

// RPC Accept Status
//
// Reference: RFC 5531 Section 9
const (
	RPCSuccess = 0

	// RPCProgUnavail: the program is not exported by this server.
	RPCProgUnavail = 1

	// RPCProgMismatch: the program is served but not at the requested
	// version. The reply carries the supported low and high versions.
	RPCProgMismatch = 2

	// RPCProcUnavail: the procedure number is unknown or not implemented.
	RPCProcUnavail = 3

	// RPCGarbageArgs: the procedure arguments could not be decoded.
	RPCGarbageArgs = 4

	// RPCSystemErr: the server failed for reasons unrelated to the call,
	// such as rate limiting or cancellation.
	RPCSystemErr = 5
)

// RPC Reject Status
const (
	RPCMismatch = 0
	AuthError   = 1
)

// Authentication flavours.
const (
	AuthNull  = 0
	AuthUnix  = 1
	AuthShort = 2
	AuthDES   = 3
)

// Authentication status carried by AUTH_ERROR replies.
const (
	AuthOK           = 0
	AuthBadCred      = 1
	AuthRejectedCred = 2
	AuthBadVerf      = 3
	AuthRejectedVerf = 4
	AuthTooWeak      = 5
)

// MaxAuthBytes is the largest credential or verifier body (RFC 5531).
const MaxAuthBytes = 400
