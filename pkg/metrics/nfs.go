package metrics

import "time"

// NFSMetrics provides observability for NFS adapter operations.
//
// Implementations can collect metrics about NFS requests, connection lifecycle,
// throughput, and errors. This interface is optional - if not provided to the
// NFS adapter, a no-op implementation is used with zero overhead.
//
// Example usage:
//
//	// With metrics enabled
//	metrics.InitRegistry()
//	adapter := nfs.New(config, fs, prometheus.NewNFSMetrics())
//
//	// Without metrics (no-op)
//	adapter := nfs.New(config, fs, nil)
type NFSMetrics interface {
	// RecordRequest records a completed request. status is the nfsstat3
	// name of the result ("NFS3_OK", "NFS3ERR_NOENT") or the RPC accept
	// state for calls rejected before reaching a handler ("GARBAGE_ARGS").
	RecordRequest(procedure string, export string, duration time.Duration, status string)

	// RecordRequestStart increments the in-flight request gauge.
	RecordRequestStart(procedure string, export string)

	// RecordRequestEnd decrements the in-flight request gauge.
	RecordRequestEnd(procedure string, export string)

	// RecordBytesTransferred records payload bytes moved by READ or WRITE.
	//
	// Parameters:
	//   - direction: "read" or "write"
	RecordBytesTransferred(procedure string, export string, direction string, bytes uint64)

	// SetActiveConnections updates the current connection count.
	SetActiveConnections(count int32)

	// RecordConnectionAccepted increments the total accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the total closed connections counter.
	RecordConnectionClosed()

	// RecordConnectionForceClosed counts connections closed because the
	// shutdown timeout expired.
	RecordConnectionForceClosed()

	// RecordRateLimited counts requests that had to wait for the
	// per-connection rate limiter.
	RecordRateLimited()
}

// NewNoopNFSMetrics returns an NFSMetrics that discards everything.
func NewNoopNFSMetrics() NFSMetrics {
	return noopNFSMetrics{}
}

// noopNFSMetrics is a no-op implementation of NFSMetrics with zero overhead.
type noopNFSMetrics struct{}

func (noopNFSMetrics) RecordRequest(procedure string, export string, duration time.Duration, status string) {
}
func (noopNFSMetrics) RecordRequestStart(procedure string, export string) {}
func (noopNFSMetrics) RecordRequestEnd(procedure string, export string)   {}
func (noopNFSMetrics) RecordBytesTransferred(procedure string, export string, direction string, bytes uint64) {
}
func (noopNFSMetrics) SetActiveConnections(count int32) {}
func (noopNFSMetrics) RecordConnectionAccepted()        {}
func (noopNFSMetrics) RecordConnectionClosed()          {}
func (noopNFSMetrics) RecordConnectionForceClosed()     {}
func (noopNFSMetrics) RecordRateLimited()               {}
