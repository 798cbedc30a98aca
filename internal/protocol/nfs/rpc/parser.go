package rpc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// ErrMalformedCall is returned by ReadCall for headers that cannot be
// decoded. Such calls have no trustworthy XID and are dropped.
var ErrMalformedCall = errors.New("rpc: malformed call header")

// callHeaderSize covers XID through Procedure.
const callHeaderSize = 24

// versionHeaderSize covers XID, message type and RPC version, which is all
// an RPC_MISMATCH reply needs.
const versionHeaderSize = 12

// ReadCall decodes the RPC call header from a complete record and returns
// it together with the procedure arguments that follow.
//
// A call for another RPC version is returned with only XID, MsgType and
// RPCVersion set and no arguments, since the rest of its layout is unknown.
// The caller answers it with RPC_MISMATCH.
//
// Cred and verifier lengths are bounds-checked against the raw bytes before
// decoding, so a hostile length never drives an allocation.
func ReadCall(data []byte) (*RPCCallMessage, []byte, error) {
	if len(data) < versionHeaderSize {
		return nil, nil, fmt.Errorf("short call header (%d bytes): %w", len(data), ErrMalformedCall)
	}

	msgType := binary.BigEndian.Uint32(data[4:])
	if msgType != RPCCall {
		return nil, nil, fmt.Errorf("expected CALL (0), got %d: %w", msgType, ErrMalformedCall)
	}

	if rpcvers := binary.BigEndian.Uint32(data[8:]); rpcvers != RPCVersion {
		return &RPCCallMessage{
			XID:        binary.BigEndian.Uint32(data),
			MsgType:    msgType,
			RPCVersion: rpcvers,
		}, nil, nil
	}

	if err := checkAuthBounds(data); err != nil {
		return nil, nil, err
	}

	call := &RPCCallMessage{}
	n, err := xdr.Unmarshal(bytes.NewReader(data), call)
	if err != nil {
		return nil, nil, fmt.Errorf("unmarshal RPC call: %w", errors.Join(ErrMalformedCall, err))
	}

	return call, data[n:], nil
}

func checkAuthBounds(data []byte) error {
	offset := callHeaderSize
	for _, what := range []string{"credential", "verifier"} {
		if len(data) < offset+8 {
			return fmt.Errorf("short %s: %w", what, ErrMalformedCall)
		}
		length := binary.BigEndian.Uint32(data[offset+4:])
		if length > MaxAuthBytes {
			return fmt.Errorf("%s body %d exceeds %d bytes: %w", what, length, MaxAuthBytes, ErrMalformedCall)
		}
		offset += 8 + int(length+XdrPadding(length))
	}
	if len(data) < offset {
		return fmt.Errorf("truncated verifier: %w", ErrMalformedCall)
	}
	return nil
}

// ============================================================================
// Reply builders
//
// All builders return the unframed reply message; the transport adds the
// record mark.
// ============================================================================

func acceptedHeader(xid, acceptStat uint32) RPCReplyMessage {
	return RPCReplyMessage{
		XID:        xid,
		MsgType:    RPCReply,
		ReplyState: RPCMsgAccepted,
		Verf: OpaqueAuth{
			Flavor: AuthNull,
			Body:   []byte{},
		},
		AcceptStat: acceptStat,
	}
}

// replyHeaderSize is the size of an accepted reply header with an AUTH_NULL
// verifier.
const replyHeaderSize = 24

// MakeSuccessReply builds an accepted SUCCESS reply carrying the already
// encoded procedure results.
func MakeSuccessReply(xid uint32, data []byte) ([]byte, error) {
	reply := acceptedHeader(xid, RPCSuccess)

	buf := bytes.NewBuffer(make([]byte, 0, replyHeaderSize+len(data)))
	if _, err := xdr.Marshal(buf, &reply); err != nil {
		return nil, fmt.Errorf("marshal reply: %w", err)
	}
	buf.Write(data)

	return buf.Bytes(), nil
}

// MakeErrorReply builds an accepted reply with an error accept_stat such as
// PROG_UNAVAIL, PROC_UNAVAIL, GARBAGE_ARGS or SYSTEM_ERR.
func MakeErrorReply(xid uint32, acceptStat uint32) ([]byte, error) {
	reply := acceptedHeader(xid, acceptStat)

	buf := bytes.NewBuffer(make([]byte, 0, replyHeaderSize))
	if _, err := xdr.Marshal(buf, &reply); err != nil {
		return nil, fmt.Errorf("marshal error reply: %w", err)
	}

	return buf.Bytes(), nil
}

// MakeProgMismatchReply builds an accepted PROG_MISMATCH reply advertising
// the supported version range.
func MakeProgMismatchReply(xid uint32, low, high uint32) ([]byte, error) {
	reply := acceptedHeader(xid, RPCProgMismatch)

	buf := bytes.NewBuffer(make([]byte, 0, replyHeaderSize+8))
	if _, err := xdr.Marshal(buf, &reply); err != nil {
		return nil, fmt.Errorf("marshal prog mismatch reply: %w", err)
	}
	if _, err := xdr.Marshal(buf, &mismatchInfo{Low: low, High: high}); err != nil {
		return nil, fmt.Errorf("marshal mismatch info: %w", err)
	}

	return buf.Bytes(), nil
}

// MakeRPCMismatchReply builds a MSG_DENIED / RPC_MISMATCH reply.
func MakeRPCMismatchReply(xid uint32, low, high uint32) ([]byte, error) {
	reply := rejectedReply{
		XID:        xid,
		MsgType:    RPCReply,
		ReplyState: RPCMsgDenied,
		RejectStat: RPCMismatch,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 24))
	if _, err := xdr.Marshal(buf, &reply); err != nil {
		return nil, fmt.Errorf("marshal rpc mismatch reply: %w", err)
	}
	if _, err := xdr.Marshal(buf, &mismatchInfo{Low: low, High: high}); err != nil {
		return nil, fmt.Errorf("marshal mismatch info: %w", err)
	}

	return buf.Bytes(), nil
}

// MakeAuthErrorReply builds a MSG_DENIED / AUTH_ERROR reply.
func MakeAuthErrorReply(xid uint32, authStat uint32) ([]byte, error) {
	reply := rejectedReply{
		XID:        xid,
		MsgType:    RPCReply,
		ReplyState: RPCMsgDenied,
		RejectStat: AuthError,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 20))
	if _, err := xdr.Marshal(buf, &reply); err != nil {
		return nil, fmt.Errorf("marshal auth error reply: %w", err)
	}
	if err := binary.Write(buf, binary.BigEndian, authStat); err != nil {
		return nil, fmt.Errorf("write auth stat: %w", err)
	}

	return buf.Bytes(), nil
}

// XdrPadding returns the number of zero bytes (0-3) that align length to a
// 4-byte boundary.
func XdrPadding(length uint32) uint32 {
	return (4 - (length % 4)) % 4
}
