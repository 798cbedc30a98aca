package nfs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/forgefs/internal/logger"
)

// ServerStats holds in-process counters for one adapter. Prometheus covers
// the same ground for scraping; these feed the periodic log line and tests.
type ServerStats struct {
	connectionsTotal       atomic.Uint64
	connectionsRejected    atomic.Uint64
	connectionsForceClosed atomic.Uint64
	connectionsCurrent     atomic.Int32

	requestsTotal   atomic.Uint64
	requestsDropped atomic.Uint64 // malformed calls with no reply
	rateLimited     atomic.Uint64

	timeoutErrors atomic.Uint64
	taskPanics    atomic.Uint64
	recordErrors  atomic.Uint64

	requestDurations *durationsTracker

	startTime time.Time
}

// durationsTracker keeps a ring of the most recent request durations.
type durationsTracker struct {
	mu         sync.Mutex
	durations  []time.Duration
	index      int
	count      int
	maxSamples int
}

func newDurationsTracker(maxSamples int) *durationsTracker {
	return &durationsTracker{
		durations:  make([]time.Duration, maxSamples),
		maxSamples: maxSamples,
	}
}

func (dt *durationsTracker) Add(d time.Duration) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	dt.durations[dt.index] = d
	dt.index = (dt.index + 1) % dt.maxSamples
	if dt.count < dt.maxSamples {
		dt.count++
	}
}

func (dt *durationsTracker) Stats() (avg, lo, hi time.Duration) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	if dt.count == 0 {
		return 0, 0, 0
	}

	var total time.Duration
	lo = dt.durations[0]
	for i := 0; i < dt.count; i++ {
		d := dt.durations[i]
		total += d
		lo = min(lo, d)
		hi = max(hi, d)
	}

	return total / time.Duration(dt.count), lo, hi
}

func newServerStats() *ServerStats {
	return &ServerStats{
		requestDurations: newDurationsTracker(1000),
		startTime:        time.Now(),
	}
}

func (m *ServerStats) RecordConnection() {
	m.connectionsTotal.Add(1)
	m.connectionsCurrent.Add(1)
}

func (m *ServerStats) RecordConnectionClosed() {
	m.connectionsCurrent.Add(-1)
}

func (m *ServerStats) RecordConnectionRejected() {
	m.connectionsRejected.Add(1)
}

func (m *ServerStats) RecordConnectionForceClosed() {
	m.connectionsForceClosed.Add(1)
}

func (m *ServerStats) RecordRequest(duration time.Duration) {
	m.requestsTotal.Add(1)
	m.requestDurations.Add(duration)
}

func (m *ServerStats) RecordDropped()     { m.requestsDropped.Add(1) }
func (m *ServerStats) RecordRateLimited() { m.rateLimited.Add(1) }
func (m *ServerStats) RecordTimeout()     { m.timeoutErrors.Add(1) }
func (m *ServerStats) RecordPanic()       { m.taskPanics.Add(1) }
func (m *ServerStats) RecordRecordError() { m.recordErrors.Add(1) }

// StatsSnapshot is a consistent-enough copy of the counters.
type StatsSnapshot struct {
	Uptime time.Duration

	ConnectionsTotal       uint64
	ConnectionsRejected    uint64
	ConnectionsForceClosed uint64
	ConnectionsCurrent     int32

	RequestsTotal   uint64
	RequestsDropped uint64
	RateLimited     uint64

	TimeoutErrors uint64
	TaskPanics    uint64
	RecordErrors  uint64

	AvgRequestDuration time.Duration
	MinRequestDuration time.Duration
	MaxRequestDuration time.Duration
	RequestsPerSecond  float64
}

func (m *ServerStats) Snapshot() *StatsSnapshot {
	uptime := time.Since(m.startTime)
	avg, lo, hi := m.requestDurations.Stats()

	total := m.requestsTotal.Load()
	rps := 0.0
	if uptime > 0 {
		rps = float64(total) / uptime.Seconds()
	}

	return &StatsSnapshot{
		Uptime:                 uptime,
		ConnectionsTotal:       m.connectionsTotal.Load(),
		ConnectionsRejected:    m.connectionsRejected.Load(),
		ConnectionsForceClosed: m.connectionsForceClosed.Load(),
		ConnectionsCurrent:     m.connectionsCurrent.Load(),
		RequestsTotal:          total,
		RequestsDropped:        m.requestsDropped.Load(),
		RateLimited:            m.rateLimited.Load(),
		TimeoutErrors:          m.timeoutErrors.Load(),
		TaskPanics:             m.taskPanics.Load(),
		RecordErrors:           m.recordErrors.Load(),
		AvgRequestDuration:     avg,
		MinRequestDuration:     lo,
		MaxRequestDuration:     hi,
		RequestsPerSecond:      rps,
	}
}

// LogSnapshot writes the counters as one Info line.
func (m *ServerStats) LogSnapshot() {
	s := m.Snapshot()
	logger.Info("NFS stats: uptime=%v connections=%d/%d rejected=%d force_closed=%d requests=%d (%.1f/s) dropped=%d rate_limited=%d latency avg=%v min=%v max=%v timeouts=%d panics=%d record_errors=%d",
		s.Uptime.Round(time.Second), s.ConnectionsCurrent, s.ConnectionsTotal, s.ConnectionsRejected, s.ConnectionsForceClosed,
		s.RequestsTotal, s.RequestsPerSecond, s.RequestsDropped, s.RateLimited,
		s.AvgRequestDuration, s.MinRequestDuration, s.MaxRequestDuration,
		s.TimeoutErrors, s.TaskPanics, s.RecordErrors)
}

// logPeriodically logs a snapshot every interval until ctx is done.
func (m *ServerStats) logPeriodically(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.LogSnapshot()
		}
	}
}
