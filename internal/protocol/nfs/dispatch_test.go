package nfs

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/forgefs/internal/protocol/nfs/rpc"
	"github.com/marmos91/forgefs/internal/protocol/nfs/types"
	"github.com/marmos91/forgefs/internal/protocol/nfs/xdr"
	"github.com/marmos91/forgefs/pkg/vfs"
	"github.com/marmos91/forgefs/pkg/vfs/absvfs"
	xdr2 "github.com/rasky/go-xdr/xdr2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

const testGeneration = vfs.Generation(1_700_000_000_000)

// writeCounter records backend writes.
type writeCounter struct {
	vfs.FileSystem
	writes int
}

func (w *writeCounter) Write(ctx context.Context, id vfs.FileID, offset uint64, data []byte) (*vfs.FileAttr, error) {
	w.writes++
	return w.FileSystem.Write(ctx, id, offset, data)
}

// recordingMetrics captures the status label of every finished request.
type recordingMetrics struct {
	mu       sync.Mutex
	statuses map[string]string
	bytes    map[string]uint64
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{statuses: map[string]string{}, bytes: map[string]uint64{}}
}

func (m *recordingMetrics) RecordRequest(procedure string, export string, duration time.Duration, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[procedure] = status
}

func (m *recordingMetrics) RecordRequestStart(procedure string, export string) {}
func (m *recordingMetrics) RecordRequestEnd(procedure string, export string)   {}

func (m *recordingMetrics) RecordBytesTransferred(procedure string, export string, direction string, bytes uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytes[direction] += bytes
}

func (m *recordingMetrics) SetActiveConnections(count int32) {}
func (m *recordingMetrics) RecordConnectionAccepted()        {}
func (m *recordingMetrics) RecordConnectionClosed()          {}
func (m *recordingMetrics) RecordConnectionForceClosed()     {}
func (m *recordingMetrics) RecordRateLimited()               {}

type dispatchEnv struct {
	fs         *writeCounter
	metrics    *recordingMetrics
	dispatcher *Dispatcher
}

func newDispatchEnv(t *testing.T) *dispatchEnv {
	t.Helper()

	mem, err := absvfs.NewMemory()
	require.NoError(t, err)

	fs := &writeCounter{FileSystem: mem}
	m := newRecordingMetrics()
	return &dispatchEnv{
		fs:         fs,
		metrics:    m,
		dispatcher: NewDispatcher(fs, testGeneration, "/", m),
	}
}

type callOptions struct {
	rpcVersion uint32
	program    uint32
	version    uint32
	cred       rpc.OpaqueAuth
}

func defaultCall() callOptions {
	return callOptions{
		rpcVersion: rpc.RPCVersion,
		program:    rpc.ProgramNFS,
		version:    rpc.NFSVersion3,
		cred:       rpc.OpaqueAuth{Flavor: rpc.AuthNull, Body: []byte{}},
	}
}

func buildCall(t *testing.T, xid, proc uint32, opts callOptions, args []byte) []byte {
	t.Helper()

	call := rpc.RPCCallMessage{
		XID:        xid,
		MsgType:    rpc.RPCCall,
		RPCVersion: opts.rpcVersion,
		Program:    opts.program,
		Version:    opts.version,
		Procedure:  proc,
		Cred:       opts.cred,
		Verf:       rpc.OpaqueAuth{Flavor: rpc.AuthNull, Body: []byte{}},
	}

	var buf bytes.Buffer
	_, err := xdr2.Marshal(&buf, &call)
	require.NoError(t, err)
	buf.Write(args)
	return buf.Bytes()
}

func u32(b []byte, off int) uint32 {
	return binary.BigEndian.Uint32(b[off : off+4])
}

// acceptStat returns the accept_stat of an accepted reply and the bytes that
// follow it.
func acceptStat(t *testing.T, reply []byte) (uint32, []byte) {
	t.Helper()

	require.GreaterOrEqual(t, len(reply), 24)
	require.Equal(t, uint32(rpc.RPCMsgAccepted), u32(reply, 8))
	off := 20 + int(u32(reply, 16))
	return u32(reply, off), reply[off+4:]
}

// ============================================================================
// RPC Header Checks
// ============================================================================

func TestDispatchNull(t *testing.T) {
	env := newDispatchEnv(t)

	reply, err := env.dispatcher.Dispatch(t.Context(), buildCall(t, 42, types.NFSProcNull, defaultCall(), nil), "10.0.0.1:700")
	require.NoError(t, err)

	assert.Equal(t, uint32(42), u32(reply, 0))
	assert.Equal(t, uint32(rpc.RPCReply), u32(reply, 4))
	stat, body := acceptStat(t, reply)
	assert.Equal(t, uint32(rpc.RPCSuccess), stat)
	assert.Empty(t, body)
}

func TestDispatchRPCVersionMismatch(t *testing.T) {
	env := newDispatchEnv(t)
	opts := defaultCall()
	opts.rpcVersion = 3

	reply, err := env.dispatcher.Dispatch(t.Context(), buildCall(t, 7, types.NFSProcNull, opts, nil), "10.0.0.1:700")
	require.NoError(t, err)

	assert.Equal(t, uint32(rpc.RPCMsgDenied), u32(reply, 8))
	assert.Equal(t, uint32(rpc.RPCMismatch), u32(reply, 12))
	assert.Equal(t, uint32(2), u32(reply, 16), "low")
	assert.Equal(t, uint32(2), u32(reply, 20), "high")
}

func TestDispatchRPCVersionMismatchWithForeignBody(t *testing.T) {
	env := newDispatchEnv(t)

	// xid=11, CALL, rpcvers=4, then bytes that are no valid v2 credential.
	record := []byte{0, 0, 0, 11, 0, 0, 0, 0, 0, 0, 0, 4, 0, 0, 0, 1, 0xff, 0xff, 0xff, 0xff}

	reply, err := env.dispatcher.Dispatch(t.Context(), record, "10.0.0.1:700")
	require.NoError(t, err)
	require.Len(t, reply, 24)

	assert.Equal(t, uint32(11), u32(reply, 0))
	assert.Equal(t, uint32(rpc.RPCMsgDenied), u32(reply, 8))
	assert.Equal(t, uint32(rpc.RPCMismatch), u32(reply, 12))
}

func TestDispatchAuthTooWeak(t *testing.T) {
	env := newDispatchEnv(t)
	opts := defaultCall()
	opts.cred = rpc.OpaqueAuth{Flavor: rpc.AuthDES, Body: []byte{}}

	reply, err := env.dispatcher.Dispatch(t.Context(), buildCall(t, 8, types.NFSProcNull, opts, nil), "10.0.0.1:700")
	require.NoError(t, err)

	assert.Equal(t, uint32(rpc.RPCMsgDenied), u32(reply, 8))
	assert.Equal(t, uint32(rpc.AuthError), u32(reply, 12))
	assert.Equal(t, uint32(rpc.AuthTooWeak), u32(reply, 16))
}

func TestDispatchAuthUnix(t *testing.T) {
	env := newDispatchEnv(t)

	var body bytes.Buffer
	require.NoError(t, xdr.EncodeUint32(&body, 1))
	require.NoError(t, xdr.EncodeString(&body, "ci-runner"))
	require.NoError(t, xdr.EncodeUint32(&body, 1000))
	require.NoError(t, xdr.EncodeUint32(&body, 1000))
	require.NoError(t, xdr.EncodeUint32(&body, 0))

	opts := defaultCall()
	opts.cred = rpc.OpaqueAuth{Flavor: rpc.AuthUnix, Body: body.Bytes()}

	reply, err := env.dispatcher.Dispatch(t.Context(), buildCall(t, 9, types.NFSProcNull, opts, nil), "10.0.0.1:700")
	require.NoError(t, err)
	stat, _ := acceptStat(t, reply)
	assert.Equal(t, uint32(rpc.RPCSuccess), stat)
}

func TestDispatchProgramChecks(t *testing.T) {
	env := newDispatchEnv(t)

	t.Run("UnknownProgram", func(t *testing.T) {
		opts := defaultCall()
		opts.program = 100005 // mountd

		reply, err := env.dispatcher.Dispatch(t.Context(), buildCall(t, 1, 0, opts, nil), "10.0.0.1:700")
		require.NoError(t, err)
		stat, _ := acceptStat(t, reply)
		assert.Equal(t, uint32(rpc.RPCProgUnavail), stat)
	})

	t.Run("WrongVersion", func(t *testing.T) {
		opts := defaultCall()
		opts.version = 4

		reply, err := env.dispatcher.Dispatch(t.Context(), buildCall(t, 2, 0, opts, nil), "10.0.0.1:700")
		require.NoError(t, err)
		stat, rest := acceptStat(t, reply)
		assert.Equal(t, uint32(rpc.RPCProgMismatch), stat)
		require.Len(t, rest, 8)
		assert.Equal(t, uint32(3), u32(rest, 0))
		assert.Equal(t, uint32(3), u32(rest, 4))
	})

	for _, proc := range []uint32{types.NFSProcMknod, types.NFSProcLink, types.NFSProcCommit, 22} {
		t.Run("Unavailable", func(t *testing.T) {
			reply, err := env.dispatcher.Dispatch(t.Context(), buildCall(t, 3, proc, defaultCall(), nil), "10.0.0.1:700")
			require.NoError(t, err)
			stat, _ := acceptStat(t, reply)
			assert.Equal(t, uint32(rpc.RPCProcUnavail), stat, "procedure %d", proc)
		})
	}
}

func TestDispatchMalformedCallIsDropped(t *testing.T) {
	env := newDispatchEnv(t)

	reply, err := env.dispatcher.Dispatch(t.Context(), []byte{0, 0, 0, 1, 0, 0}, "10.0.0.1:700")
	assert.NoError(t, err)
	assert.Nil(t, reply)
}

// ============================================================================
// Argument Decoding
// ============================================================================

func TestDispatchTruncatedArgsAreGarbage(t *testing.T) {
	env := newDispatchEnv(t)

	reply, err := env.dispatcher.Dispatch(t.Context(), buildCall(t, 5, types.NFSProcGetAttr, defaultCall(), []byte{0, 0}), "10.0.0.1:700")
	require.NoError(t, err)
	stat, _ := acceptStat(t, reply)
	assert.Equal(t, uint32(rpc.RPCGarbageArgs), stat)
	assert.Equal(t, "GARBAGE_ARGS", env.metrics.statuses["GETATTR"])
}

func TestDispatchWriteCountMismatch(t *testing.T) {
	env := newDispatchEnv(t)
	ctx := t.Context()

	id, _, err := env.fs.FileSystem.Create(ctx, env.fs.RootDir(), "HEAD", vfs.SetAttr{})
	require.NoError(t, err)

	var args bytes.Buffer
	require.NoError(t, xdr.EncodeOpaque(&args, vfs.EncodeHandle(testGeneration, id)))
	require.NoError(t, xdr.EncodeUint64(&args, 0))
	require.NoError(t, xdr.EncodeUint32(&args, 100))
	require.NoError(t, xdr.EncodeUint32(&args, types.FileSync))
	require.NoError(t, xdr.EncodeOpaque(&args, []byte("ref: refs/heads/main\n")))

	reply, err := env.dispatcher.Dispatch(ctx, buildCall(t, 6, types.NFSProcWrite, defaultCall(), args.Bytes()), "10.0.0.1:700")
	require.NoError(t, err)

	stat, _ := acceptStat(t, reply)
	assert.Equal(t, uint32(rpc.RPCGarbageArgs), stat)
	assert.Equal(t, 0, env.fs.writes)

	attr, err := env.fs.GetAttr(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), attr.Size)
}

func TestDispatchWriteRecordsBytes(t *testing.T) {
	env := newDispatchEnv(t)
	ctx := t.Context()

	id, _, err := env.fs.FileSystem.Create(ctx, env.fs.RootDir(), "HEAD", vfs.SetAttr{})
	require.NoError(t, err)

	payload := []byte("ref: refs/heads/main\n")
	var args bytes.Buffer
	require.NoError(t, xdr.EncodeOpaque(&args, vfs.EncodeHandle(testGeneration, id)))
	require.NoError(t, xdr.EncodeUint64(&args, 0))
	require.NoError(t, xdr.EncodeUint32(&args, uint32(len(payload))))
	require.NoError(t, xdr.EncodeUint32(&args, types.FileSync))
	require.NoError(t, xdr.EncodeOpaque(&args, payload))

	reply, err := env.dispatcher.Dispatch(ctx, buildCall(t, 10, types.NFSProcWrite, defaultCall(), args.Bytes()), "10.0.0.1:700")
	require.NoError(t, err)

	stat, body := acceptStat(t, reply)
	require.Equal(t, uint32(rpc.RPCSuccess), stat)
	assert.Equal(t, types.NFS3OK, u32(body, 0))
	assert.Equal(t, 1, env.fs.writes)
	assert.Equal(t, uint64(len(payload)), env.metrics.bytes["write"])
	assert.Equal(t, "NFS3_OK", env.metrics.statuses["WRITE"])
}

func TestDispatchStaleHandleStatusLabel(t *testing.T) {
	env := newDispatchEnv(t)

	var args bytes.Buffer
	require.NoError(t, xdr.EncodeOpaque(&args, vfs.EncodeHandle(testGeneration-1, env.fs.RootDir())))

	reply, err := env.dispatcher.Dispatch(t.Context(), buildCall(t, 11, types.NFSProcGetAttr, defaultCall(), args.Bytes()), "10.0.0.1:700")
	require.NoError(t, err)

	stat, body := acceptStat(t, reply)
	require.Equal(t, uint32(rpc.RPCSuccess), stat)
	assert.Equal(t, types.NFS3ErrStale, u32(body, 0))
	assert.Equal(t, "NFS3ERR_STALE", env.metrics.statuses["GETATTR"])
}
