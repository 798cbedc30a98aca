package nfs

import (
	"errors"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingListen fails for every address in busy and records each attempt.
type recordingListen struct {
	busy     map[string]bool
	failAll  bool
	attempts []string
}

func (r *recordingListen) listen(network, address string) (net.Listener, error) {
	r.attempts = append(r.attempts, address)
	if r.failAll || r.busy[address] {
		return nil, &net.OpError{Op: "listen", Net: network, Err: syscall.EADDRINUSE}
	}
	return net.Listen(network, "127.0.0.1:0")
}

// ============================================================================
// Auto Listen Addresses
// ============================================================================

func TestAutoAddress(t *testing.T) {
	assert.Equal(t, "127.88.0.1:2049", autoAddress(1, 2049))
	assert.Equal(t, "127.88.0.32:2049", autoAddress(32, 2049))
	assert.Equal(t, "127.88.1.0:80", autoAddress(256, 80))
}

func TestListenAutoSkipsBusyAddress(t *testing.T) {
	rec := &recordingListen{busy: map[string]bool{"127.88.0.1:2049": true}}

	l, err := Listen("auto:2049", rec.listen)
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, []string{"127.88.0.1:2049", "127.88.0.2:2049"}, rec.attempts)
}

func TestListenAutoGivesUpAfterMaxAttempts(t *testing.T) {
	rec := &recordingListen{failAll: true}

	_, err := Listen("auto:2049", rec.listen)
	require.Error(t, err)
	assert.True(t, errors.Is(err, syscall.EADDRINUSE))

	require.Len(t, rec.attempts, maxAutoAttempts)
	assert.Equal(t, "127.88.0.1:2049", rec.attempts[0])
	assert.Equal(t, "127.88.0.32:2049", rec.attempts[maxAutoAttempts-1])
}

func TestListenAutoInvalidPort(t *testing.T) {
	for _, addr := range []string{"auto:", "auto:http", "auto:70000"} {
		t.Run(addr, func(t *testing.T) {
			rec := &recordingListen{}
			_, err := Listen(addr, rec.listen)
			assert.Error(t, err)
			assert.Empty(t, rec.attempts)
		})
	}
}

func TestListenPlainAddress(t *testing.T) {
	rec := &recordingListen{}

	l, err := Listen("127.0.0.1:0", rec.listen)
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, []string{"127.0.0.1:0"}, rec.attempts)
}

func TestListenDefaultsToNetListen(t *testing.T) {
	l, err := Listen("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer l.Close()

	assert.NotZero(t, l.Addr().(*net.TCPAddr).Port)
}

// ============================================================================
// Server Stats
// ============================================================================

func TestServerStats(t *testing.T) {
	stats := newServerStats()

	stats.RecordConnection()
	stats.RecordConnection()
	stats.RecordConnectionClosed()
	stats.RecordConnectionForceClosed()
	stats.RecordRequest(2 * time.Millisecond)
	stats.RecordRequest(4 * time.Millisecond)
	stats.RecordDropped()
	stats.RecordRateLimited()
	stats.RecordTimeout()
	stats.RecordPanic()
	stats.RecordRecordError()

	snap := stats.Snapshot()
	assert.Equal(t, uint64(2), snap.ConnectionsTotal)
	assert.Equal(t, int32(1), snap.ConnectionsCurrent)
	assert.Equal(t, uint64(1), snap.ConnectionsForceClosed)
	assert.Equal(t, uint64(2), snap.RequestsTotal)
	assert.Equal(t, uint64(1), snap.RequestsDropped)
	assert.Equal(t, uint64(1), snap.RateLimited)
	assert.Equal(t, uint64(1), snap.TimeoutErrors)
	assert.Equal(t, uint64(1), snap.TaskPanics)
	assert.Equal(t, uint64(1), snap.RecordErrors)
	assert.Equal(t, 3*time.Millisecond, snap.AvgRequestDuration)
	assert.Equal(t, 2*time.Millisecond, snap.MinRequestDuration)
	assert.Equal(t, 4*time.Millisecond, snap.MaxRequestDuration)
}

func TestDurationsTrackerWraps(t *testing.T) {
	dt := newDurationsTracker(3)
	for _, d := range []time.Duration{100, 1, 2, 3} {
		dt.Add(d)
	}

	avg, lo, hi := dt.Stats()
	assert.Equal(t, time.Duration(2), avg)
	assert.Equal(t, time.Duration(1), lo)
	assert.Equal(t, time.Duration(3), hi)
}
