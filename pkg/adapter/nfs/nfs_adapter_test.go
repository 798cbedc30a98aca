package nfs

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/marmos91/forgefs/internal/protocol/nfs/rpc"
	"github.com/marmos91/forgefs/internal/protocol/nfs/types"
	"github.com/marmos91/forgefs/pkg/vfs"
	"github.com/marmos91/forgefs/pkg/vfs/absvfs"
	xdr "github.com/rasky/go-xdr/xdr2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

func newTestAdapter(t *testing.T, config NFSConfig, export string) *NFSAdapter {
	t.Helper()

	fs, err := absvfs.NewMemory()
	require.NoError(t, err)

	if config.Listen == "" {
		config.Listen = "127.0.0.1:0"
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 2 * time.Second
	}

	adapter, err := New(config, fs, export, nil)
	require.NoError(t, err)
	return adapter
}

// startAdapter runs Serve in the background and returns its result channel
// once the listener is bound.
func startAdapter(t *testing.T, adapter *NFSAdapter) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- adapter.Serve(ctx)
	}()

	select {
	case <-adapter.Ready():
	case err := <-serverDone:
		cancel()
		t.Fatalf("Serve returned before binding: %v", err)
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("listener did not start")
	}

	t.Cleanup(cancel)
	return cancel, serverDone
}

func buildCall(t *testing.T, xid, proc uint32, args []byte) []byte {
	t.Helper()

	call := rpc.RPCCallMessage{
		XID:        xid,
		MsgType:    rpc.RPCCall,
		RPCVersion: rpc.RPCVersion,
		Program:    rpc.ProgramNFS,
		Version:    rpc.NFSVersion3,
		Procedure:  proc,
		Cred:       rpc.OpaqueAuth{Flavor: rpc.AuthNull, Body: []byte{}},
		Verf:       rpc.OpaqueAuth{Flavor: rpc.AuthNull, Body: []byte{}},
	}

	var buf bytes.Buffer
	_, err := xdr.Marshal(&buf, &call)
	require.NoError(t, err)
	buf.Write(args)
	return buf.Bytes()
}

// handleArgs encodes an nfs_fh3 argument.
func handleArgs(fh vfs.FileHandle) []byte {
	buf := make([]byte, 4, 4+len(fh)+3)
	binary.BigEndian.PutUint32(buf, uint32(len(fh)))
	buf = append(buf, fh...)
	for len(buf)%4 != 0 {
		buf = append(buf, 0)
	}
	return buf
}

type acceptedReply struct {
	xid        uint32
	acceptStat uint32
	body       []byte
}

func readReply(t *testing.T, conn net.Conn) acceptedReply {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	msg, err := rpc.NewRecordReader(conn, 0).ReadRecord()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(msg), 24)

	require.Equal(t, uint32(rpc.RPCReply), binary.BigEndian.Uint32(msg[4:8]))
	require.Equal(t, uint32(rpc.RPCMsgAccepted), binary.BigEndian.Uint32(msg[8:12]))
	verfLen := binary.BigEndian.Uint32(msg[16:20])
	off := 20 + int(verfLen)

	return acceptedReply{
		xid:        binary.BigEndian.Uint32(msg[0:4]),
		acceptStat: binary.BigEndian.Uint32(msg[off : off+4]),
		body:       msg[off+4:],
	}
}

// ============================================================================
// Configuration
// ============================================================================

func TestNFSConfigDefaults(t *testing.T) {
	var config NFSConfig
	config.ApplyDefaults()

	assert.Equal(t, "0.0.0.0:2049", config.Listen)
	assert.Equal(t, 5*time.Minute, config.ReadTimeout)
	assert.Equal(t, 30*time.Second, config.WriteTimeout)
	assert.Equal(t, 5*time.Minute, config.IdleTimeout)
	assert.Equal(t, 30*time.Second, config.ShutdownTimeout)
	assert.Equal(t, rpc.DefaultMaxRecordSize, config.MaxRecordSize)
	assert.NoError(t, config.Validate())
}

func TestNFSConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		config NFSConfig
	}{
		{name: "negative max connections", config: NFSConfig{Listen: ":2049", MaxConnections: -1, ShutdownTimeout: time.Second}},
		{name: "negative timeout", config: NFSConfig{Listen: ":2049", ReadTimeout: -time.Second, ShutdownTimeout: time.Second}},
		{name: "zero shutdown timeout", config: NFSConfig{Listen: ":2049"}},
		{name: "negative record size", config: NFSConfig{Listen: ":2049", MaxRecordSize: -1, ShutdownTimeout: time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.config.Validate())
		})
	}
}

func TestNormalizeExport(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "", want: "/"},
		{in: "/", want: "/"},
		{in: "/srv/git/", want: "/srv/git"},
		{in: "/srv//git", want: "/srv/git"},
		{in: "relative", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeExport(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewRequiresFileSystem(t *testing.T) {
	_, err := New(NFSConfig{}, nil, "/", nil)
	assert.Error(t, err)
}

// ============================================================================
// Export Handles
// ============================================================================

func TestExportHandle(t *testing.T) {
	adapter := newTestAdapter(t, NFSConfig{}, "/git")
	ctx := t.Context()

	repo, _, err := adapter.fs.Mkdir(ctx, adapter.fs.RootDir(), "forge.git")
	require.NoError(t, err)

	t.Run("ExportRoot", func(t *testing.T) {
		fh, err := adapter.ExportHandle(ctx, "/git")
		require.NoError(t, err)

		id, err := vfs.DecodeHandle(adapter.Generation(), fh)
		require.NoError(t, err)
		assert.Equal(t, adapter.fs.RootDir(), id)
	})

	t.Run("Subdirectory", func(t *testing.T) {
		fh, err := adapter.ExportHandle(ctx, "/git/forge.git/")
		require.NoError(t, err)

		id, err := vfs.DecodeHandle(adapter.Generation(), fh)
		require.NoError(t, err)
		assert.Equal(t, repo, id)
	})

	t.Run("OutsideExport", func(t *testing.T) {
		_, err := adapter.ExportHandle(ctx, "/gitlab")
		assert.True(t, errors.Is(err, vfs.StatusNoEnt))
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := adapter.ExportHandle(ctx, "/git/missing")
		assert.True(t, errors.Is(err, vfs.StatusNoEnt))
	})
}

func TestDefaultExportIsRoot(t *testing.T) {
	adapter := newTestAdapter(t, NFSConfig{}, "")
	assert.Equal(t, "/", adapter.Export())

	fh, err := adapter.ExportHandle(t.Context(), "/")
	require.NoError(t, err)
	assert.Len(t, fh, vfs.HandleSize)
}

// ============================================================================
// Request Round Trips
// ============================================================================

func TestRoundTrip(t *testing.T) {
	adapter := newTestAdapter(t, NFSConfig{}, "/")
	startAdapter(t, adapter)

	conn, err := net.Dial("tcp", adapter.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	t.Run("Null", func(t *testing.T) {
		_, err := conn.Write(rpc.FrameRecord(buildCall(t, 0x1001, types.NFSProcNull, nil)))
		require.NoError(t, err)

		reply := readReply(t, conn)
		assert.Equal(t, uint32(0x1001), reply.xid)
		assert.Equal(t, uint32(rpc.RPCSuccess), reply.acceptStat)
		assert.Empty(t, reply.body)
	})

	t.Run("GetAttrRoot", func(t *testing.T) {
		fh, err := adapter.ExportHandle(t.Context(), "/")
		require.NoError(t, err)

		_, err = conn.Write(rpc.FrameRecord(buildCall(t, 0x1002, types.NFSProcGetAttr, handleArgs(fh))))
		require.NoError(t, err)

		reply := readReply(t, conn)
		assert.Equal(t, uint32(0x1002), reply.xid)
		require.Equal(t, uint32(rpc.RPCSuccess), reply.acceptStat)
		require.GreaterOrEqual(t, len(reply.body), 8)
		assert.Equal(t, types.NFS3OK, binary.BigEndian.Uint32(reply.body[0:4]))
		assert.Equal(t, uint32(2), binary.BigEndian.Uint32(reply.body[4:8]), "root is NF3DIR")
	})

	t.Run("StaleHandle", func(t *testing.T) {
		fh := vfs.EncodeHandle(adapter.Generation()-1, adapter.fs.RootDir())

		_, err = conn.Write(rpc.FrameRecord(buildCall(t, 0x1003, types.NFSProcGetAttr, handleArgs(fh))))
		require.NoError(t, err)

		reply := readReply(t, conn)
		require.Equal(t, uint32(rpc.RPCSuccess), reply.acceptStat)
		assert.Equal(t, types.NFS3ErrStale, binary.BigEndian.Uint32(reply.body[0:4]))
	})

	snap := adapter.Stats()
	assert.Equal(t, uint64(1), snap.ConnectionsTotal)
	assert.Equal(t, uint64(3), snap.RequestsTotal)
}

func TestPipelinedRepliesKeepOrder(t *testing.T) {
	adapter := newTestAdapter(t, NFSConfig{}, "/")
	startAdapter(t, adapter)

	conn, err := net.Dial("tcp", adapter.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	var batch []byte
	for xid := uint32(1); xid <= 20; xid++ {
		batch = append(batch, rpc.FrameRecord(buildCall(t, xid, types.NFSProcNull, nil))...)
	}

	// One write split at an awkward boundary exercises reassembly.
	_, err = conn.Write(batch[:7])
	require.NoError(t, err)
	_, err = conn.Write(batch[7:])
	require.NoError(t, err)

	for xid := uint32(1); xid <= 20; xid++ {
		assert.Equal(t, xid, readReply(t, conn).xid)
	}
}

func TestMultiFragmentRecord(t *testing.T) {
	adapter := newTestAdapter(t, NFSConfig{}, "/")
	startAdapter(t, adapter)

	conn, err := net.Dial("tcp", adapter.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	call := buildCall(t, 0x77, types.NFSProcNull, nil)
	first, second := call[:12], call[12:]

	var frames []byte
	frames = binary.BigEndian.AppendUint32(frames, uint32(len(first)))
	frames = append(frames, first...)
	frames = binary.BigEndian.AppendUint32(frames, uint32(len(second))|0x80000000)
	frames = append(frames, second...)

	_, err = conn.Write(frames)
	require.NoError(t, err)

	assert.Equal(t, uint32(0x77), readReply(t, conn).xid)
}

func TestMalformedCallIsDropped(t *testing.T) {
	adapter := newTestAdapter(t, NFSConfig{}, "/")
	startAdapter(t, adapter)

	conn, err := net.Dial("tcp", adapter.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write(rpc.FrameRecord([]byte{0, 0, 0, 1}))
	require.NoError(t, err)
	_, err = conn.Write(rpc.FrameRecord(buildCall(t, 0x55, types.NFSProcNull, nil)))
	require.NoError(t, err)

	// The connection survives and answers the next call.
	assert.Equal(t, uint32(0x55), readReply(t, conn).xid)
	assert.Equal(t, uint64(1), adapter.Stats().RequestsDropped)
}

func TestOversizedRecordClosesConnection(t *testing.T) {
	adapter := newTestAdapter(t, NFSConfig{MaxRecordSize: 64}, "/")
	startAdapter(t, adapter)

	conn, err := net.Dial("tcp", adapter.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	header := binary.BigEndian.AppendUint32(nil, 0x80000000|1024)
	_, err = conn.Write(header)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	assert.Eventually(t, func() bool {
		return adapter.Stats().RecordErrors == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRateLimitedRequestsStillAnswered(t *testing.T) {
	adapter := newTestAdapter(t, NFSConfig{RateLimit: RateLimitConfig{RequestsPerSecond: 100, Burst: 1}}, "/")
	startAdapter(t, adapter)

	conn, err := net.Dial("tcp", adapter.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	var batch []byte
	for xid := uint32(1); xid <= 3; xid++ {
		batch = append(batch, rpc.FrameRecord(buildCall(t, xid, types.NFSProcNull, nil))...)
	}
	_, err = conn.Write(batch)
	require.NoError(t, err)

	for xid := uint32(1); xid <= 3; xid++ {
		assert.Equal(t, xid, readReply(t, conn).xid)
	}
	assert.GreaterOrEqual(t, adapter.Stats().RateLimited, uint64(1))
}

// ============================================================================
// Shutdown
// ============================================================================

func TestGracefulShutdown(t *testing.T) {
	adapter := newTestAdapter(t, NFSConfig{}, "/")
	cancel, serverDone := startAdapter(t, adapter)

	conn, err := net.Dial("tcp", adapter.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return adapter.GetActiveConnections() == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-serverDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	assert.Equal(t, int32(0), adapter.GetActiveConnections())

	// The client sees the connection closed.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestStopIsIdempotent(t *testing.T) {
	adapter := newTestAdapter(t, NFSConfig{}, "/")
	_, serverDone := startAdapter(t, adapter)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, adapter.Stop(ctx))
	require.NoError(t, adapter.Stop(ctx))

	select {
	case err := <-serverDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}
}

func TestMaxConnections(t *testing.T) {
	adapter := newTestAdapter(t, NFSConfig{MaxConnections: 1}, "/")
	startAdapter(t, adapter)

	first, err := net.Dial("tcp", adapter.Addr().String())
	require.NoError(t, err)
	defer first.Close()

	require.Eventually(t, func() bool {
		return adapter.GetActiveConnections() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The second dial completes in the kernel backlog but is not served
	// until the first connection goes away.
	second, err := net.Dial("tcp", adapter.Addr().String())
	require.NoError(t, err)
	defer second.Close()

	_, err = second.Write(rpc.FrameRecord(buildCall(t, 9, types.NFSProcNull, nil)))
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), adapter.GetActiveConnections())

	require.NoError(t, first.Close())
	assert.Equal(t, uint32(9), readReply(t, second).xid)
}
