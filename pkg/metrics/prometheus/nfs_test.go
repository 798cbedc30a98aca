package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNFSMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newNFSMetrics(reg)

	m.RecordRequestStart("READ", "/")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsInFlight.WithLabelValues("READ", "/")))
	m.RecordRequestEnd("READ", "/")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.requestsInFlight.WithLabelValues("READ", "/")))

	m.RecordRequest("READ", "/", 3*time.Millisecond, "NFS3_OK")
	m.RecordRequest("READ", "/", time.Millisecond, "NFS3_OK")
	m.RecordRequest("WRITE", "/", time.Millisecond, "GARBAGE_ARGS")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("READ", "/", "NFS3_OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("WRITE", "/", "GARBAGE_ARGS")))

	m.RecordBytesTransferred("READ", "/", "read", 4096)
	m.RecordBytesTransferred("READ", "/", "read", 100)
	assert.Equal(t, 4196.0, testutil.ToFloat64(m.bytesTransferred.WithLabelValues("READ", "/", "read")))

	m.RecordConnectionAccepted()
	m.RecordConnectionAccepted()
	m.RecordConnectionClosed()
	m.RecordConnectionForceClosed()
	m.SetActiveConnections(1)
	m.RecordRateLimited()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.connectionsAccepted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsClosed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsForceClosed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimited))

	count, err := testutil.GatherAndCount(reg, "forgefs_nfs_request_duration_milliseconds")
	assert.NoError(t, err)
	assert.Equal(t, 2, count)
}
