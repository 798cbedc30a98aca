package metrics

import "time"

// ContentMetrics observes content store operations (the byte blobs behind
// the kv backend).
type ContentMetrics interface {
	// ObserveOperation records one store call. operation is e.g. "ReadAt",
	// "WriteAt", "Truncate" or "Delete".
	ObserveOperation(store string, operation string, duration time.Duration, err error)

	// RecordBytes counts bytes moved. direction is "read" or "write".
	RecordBytes(store string, direction string, bytes int64)
}

// NewNoopContentMetrics returns a ContentMetrics that discards everything.
func NewNoopContentMetrics() ContentMetrics {
	return noopContentMetrics{}
}

type noopContentMetrics struct{}

func (noopContentMetrics) ObserveOperation(store string, operation string, duration time.Duration, err error) {
}
func (noopContentMetrics) RecordBytes(store string, direction string, bytes int64) {}
