package nfs

import (
	"context"
	"fmt"
	"net"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/forgefs/internal/logger"
	nfs "github.com/marmos91/forgefs/internal/protocol/nfs"
	"github.com/marmos91/forgefs/internal/protocol/nfs/rpc"
	"github.com/marmos91/forgefs/pkg/metrics"
	"github.com/marmos91/forgefs/pkg/vfs"
)

// DefaultExport is the mount path used when none is configured.
const DefaultExport = "/"

// NFSAdapter serves one VFS export over NFSv3/TCP.
//
// It owns the listener and the lifecycle of every accepted connection.
// Each connection is handled by an NFSConnection that shares the
// adapter's Dispatcher.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Listener closed (no new connections)
//  3. shutdownCtx cancelled (connections stop reading and abort in-flight calls)
//  4. Wait for active connections to finish (up to ShutdownTimeout)
//  5. Force-close any remaining connections after timeout
//
// All methods are safe for concurrent use.
type NFSAdapter struct {
	config NFSConfig

	fs         vfs.FileSystem
	export     string
	generation vfs.Generation
	dispatcher *nfs.Dispatcher

	listen   ListenFunc
	listener net.Listener
	ready    chan struct{}
	mu       sync.Mutex

	metrics metrics.NFSMetrics
	stats   *ServerStats

	// activeConns tracks live connection goroutines for graceful shutdown.
	activeConns sync.WaitGroup

	shutdownOnce sync.Once
	shutdown     chan struct{}

	connCount atomic.Int32

	// connSemaphore limits concurrent connections. Nil means unlimited.
	connSemaphore chan struct{}

	// shutdownCtx is the parent of every connection context. Cancelling it
	// stops all connections.
	shutdownCtx    context.Context
	cancelRequests context.CancelFunc

	// activeConnections maps remote address to net.Conn for force-close.
	activeConnections sync.Map
}

// NFSConfig configures the NFS listener and connection handling.
type NFSConfig struct {
	// Listen is "host:port" or "auto:port". See Listen.
	// Default: 0.0.0.0:2049
	Listen string `mapstructure:"listen" yaml:"listen"`

	// MaxConnections limits concurrent client connections. 0 means
	// unlimited.
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections" validate:"min=0"`

	// ReadTimeout bounds the wait for the rest of a partially received
	// record.
	// Default: 5m
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" validate:"min=0"`

	// WriteTimeout bounds each reply write.
	// Default: 30s
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"min=0"`

	// IdleTimeout closes connections that send nothing between records.
	// Default: 5m
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" validate:"min=0"`

	// ShutdownTimeout is how long Serve waits for connections to finish
	// before force-closing them.
	// Default: 30s
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"min=0"`

	// MaxRecordSize caps a reassembled RPC record. Larger records close the
	// connection.
	// Default: 4MiB
	MaxRecordSize int `mapstructure:"max_record_size" yaml:"max_record_size" validate:"min=0"`

	// RateLimit throttles requests per connection.
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`

	// MetricsLogInterval is how often the stats line is logged. 0 disables
	// it.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" yaml:"metrics_log_interval" validate:"min=0"`
}

// RateLimitConfig configures the per-connection token bucket.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate. 0 disables limiting.
	RequestsPerSecond uint `mapstructure:"requests_per_second" yaml:"requests_per_second"`

	// Burst is the bucket size. 0 means RequestsPerSecond.
	Burst uint `mapstructure:"burst" yaml:"burst"`
}

// ApplyDefaults fills in zero values.
func (c *NFSConfig) ApplyDefaults() {
	if c.Listen == "" {
		c.Listen = "0.0.0.0:2049"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 5 * time.Minute
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.MaxRecordSize == 0 {
		c.MaxRecordSize = rpc.DefaultMaxRecordSize
	}
}

// Validate checks the configuration after defaults are applied.
func (c *NFSConfig) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid max_connections %d: must be >= 0", c.MaxConnections)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.IdleTimeout < 0 {
		return fmt.Errorf("timeouts must be >= 0")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown_timeout %v: must be > 0", c.ShutdownTimeout)
	}
	if c.MaxRecordSize < 0 {
		return fmt.Errorf("invalid max_record_size %d: must be >= 0", c.MaxRecordSize)
	}
	return nil
}

// NormalizeExport cleans an export name. Empty means DefaultExport.
func NormalizeExport(export string) (string, error) {
	if export == "" {
		return DefaultExport, nil
	}
	if !strings.HasPrefix(export, "/") {
		return "", fmt.Errorf("export %q must be an absolute path", export)
	}
	return path.Clean(export), nil
}

// New creates an adapter exporting fs under export. A nil nfsMetrics
// disables Prometheus metrics. The server generation is taken from the
// current time, so handles issued by a previous process are stale.
func New(config NFSConfig, fs vfs.FileSystem, export string, nfsMetrics metrics.NFSMetrics) (*NFSAdapter, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid NFS config: %w", err)
	}
	if fs == nil {
		return nil, fmt.Errorf("a filesystem is required")
	}

	export, err := NormalizeExport(export)
	if err != nil {
		return nil, err
	}

	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
		logger.Debug("NFS connection limit: %d", config.MaxConnections)
	} else {
		logger.Debug("NFS connection limit: unlimited")
	}

	if nfsMetrics == nil {
		nfsMetrics = metrics.NewNoopNFSMetrics()
	}

	generation := vfs.NewGeneration(time.Now())
	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	return &NFSAdapter{
		config:         config,
		fs:             fs,
		export:         export,
		generation:     generation,
		dispatcher:     nfs.NewDispatcher(fs, generation, export, nfsMetrics),
		ready:          make(chan struct{}),
		metrics:        nfsMetrics,
		stats:          newServerStats(),
		shutdown:       make(chan struct{}),
		connSemaphore:  connSemaphore,
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
	}, nil
}

// SetListenFunc replaces net.Listen. It must be called before Serve.
func (s *NFSAdapter) SetListenFunc(fn ListenFunc) {
	s.listen = fn
}

// Serve binds the listener and accepts connections until ctx is cancelled
// or Stop is called, then shuts down gracefully.
//
// Returns nil after a graceful shutdown, or an error if binding fails or
// connections had to be force-closed.
func (s *NFSAdapter) Serve(ctx context.Context) error {
	listener, err := Listen(s.config.Listen, s.listen)
	if err != nil {
		return fmt.Errorf("failed to create NFS listener on %s: %w", s.config.Listen, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	close(s.ready)

	logger.Info("NFS server listening on %s (export %s, generation %d)", listener.Addr(), s.export, s.generation)
	logger.Debug("NFS config: max_connections=%d read_timeout=%v write_timeout=%v idle_timeout=%v max_record_size=%d rate_limit=%d/%d",
		s.config.MaxConnections, s.config.ReadTimeout, s.config.WriteTimeout, s.config.IdleTimeout,
		s.config.MaxRecordSize, s.config.RateLimit.RequestsPerSecond, s.config.RateLimit.Burst)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("NFS shutdown signal received: %v", ctx.Err())
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	if s.config.MetricsLogInterval > 0 {
		go s.stats.logPeriodically(s.shutdownCtx, s.config.MetricsLogInterval)
	}

	for {
		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.shutdown:
				return s.gracefulShutdown()
			}
		}

		tcpConn, err := listener.Accept()
		if err != nil {
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}

			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
				logger.Debug("Error accepting NFS connection: %v", err)
				continue
			}
		}

		s.trackConnection(tcpConn)
	}
}

// trackConnection registers tcpConn and serves it on its own goroutine.
func (s *NFSAdapter) trackConnection(tcpConn net.Conn) {
	s.activeConns.Add(1)
	currentConns := s.connCount.Add(1)

	connAddr := tcpConn.RemoteAddr().String()
	s.activeConnections.Store(connAddr, tcpConn)

	s.stats.RecordConnection()
	s.metrics.RecordConnectionAccepted()
	s.metrics.SetActiveConnections(currentConns)

	logger.Debug("NFS connection accepted from %s (active: %d)", connAddr, currentConns)

	conn := NewNFSConnection(s, tcpConn)
	go func() {
		defer func() {
			s.activeConnections.Delete(connAddr)

			currentConns := s.connCount.Add(-1)
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}

			s.stats.RecordConnectionClosed()
			s.metrics.RecordConnectionClosed()
			s.metrics.SetActiveConnections(currentConns)

			logger.Debug("NFS connection closed from %s (active: %d)", connAddr, currentConns)
			s.activeConns.Done()
		}()

		conn.Serve(s.shutdownCtx)
	}()
}

// initiateShutdown closes the listener and cancels every connection. Safe
// to call more than once.
func (s *NFSAdapter) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("NFS shutdown initiated")

		close(s.shutdown)

		s.mu.Lock()
		listener := s.listener
		s.mu.Unlock()
		if listener != nil {
			if err := listener.Close(); err != nil {
				logger.Debug("Error closing NFS listener: %v", err)
			}
		}

		s.cancelRequests()
	})
}

// gracefulShutdown waits up to ShutdownTimeout for connections to finish,
// then force-closes the rest.
func (s *NFSAdapter) gracefulShutdown() error {
	activeCount := s.connCount.Load()
	logger.Info("NFS graceful shutdown: waiting for %d active connection(s) (timeout: %v)",
		activeCount, s.config.ShutdownTimeout)

	select {
	case <-s.connectionsDone():
		logger.Info("NFS graceful shutdown complete: all connections closed")
		s.stats.LogSnapshot()
		return nil

	case <-time.After(s.config.ShutdownTimeout):
		remaining := s.connCount.Load()
		logger.Warn("NFS shutdown timeout exceeded: %d connection(s) still active after %v - forcing closure",
			remaining, s.config.ShutdownTimeout)

		s.forceCloseConnections()

		return fmt.Errorf("NFS shutdown timeout: %d connections force-closed", remaining)
	}
}

func (s *NFSAdapter) connectionsDone() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()
	return done
}

// forceCloseConnections closes every tracked socket. The connection tasks
// then fail their reads and writes and exit.
func (s *NFSAdapter) forceCloseConnections() {
	closedCount := 0
	s.activeConnections.Range(func(key, value any) bool {
		addr := key.(string)
		conn := value.(net.Conn)

		if err := conn.Close(); err != nil {
			logger.Debug("Error force-closing connection to %s: %v", addr, err)
		} else {
			closedCount++
			s.stats.RecordConnectionForceClosed()
			s.metrics.RecordConnectionForceClosed()
			logger.Debug("Force-closed connection to %s", addr)
		}

		return true
	})

	if closedCount > 0 {
		logger.Info("Force-closed %d connection(s)", closedCount)
	}
}

// Stop initiates shutdown and waits for connections until ctx is done. It
// may be called concurrently with Serve and more than once.
func (s *NFSAdapter) Stop(ctx context.Context) error {
	s.initiateShutdown()

	select {
	case <-s.connectionsDone():
		return nil
	case <-ctx.Done():
		logger.Warn("NFS shutdown context cancelled: %d connection(s) still active: %v",
			s.connCount.Load(), ctx.Err())
		s.forceCloseConnections()
		return ctx.Err()
	}
}

// Ready is closed once the listener is bound.
func (s *NFSAdapter) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound listener address, or nil before Serve binds.
func (s *NFSAdapter) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Protocol returns "NFS".
func (s *NFSAdapter) Protocol() string {
	return "NFS"
}

// Export returns the normalized export name.
func (s *NFSAdapter) Export() string {
	return s.export
}

// Generation returns the generation embedded in every handle this adapter
// issues.
func (s *NFSAdapter) Generation() vfs.Generation {
	return s.generation
}

// GetActiveConnections returns the number of open client connections.
func (s *NFSAdapter) GetActiveConnections() int32 {
	return s.connCount.Load()
}

// Stats returns a snapshot of the adapter's counters.
func (s *NFSAdapter) Stats() *StatsSnapshot {
	return s.stats.Snapshot()
}

// ExportHandle returns the file handle for p, a path under the export
// name. The export root itself is the export name.
func (s *NFSAdapter) ExportHandle(ctx context.Context, p string) (vfs.FileHandle, error) {
	p = path.Clean("/" + p)

	rel, ok := s.relativePath(p)
	if !ok {
		return nil, fmt.Errorf("path %s is outside export %s: %w", p, s.export, vfs.StatusNoEnt)
	}

	id, err := vfs.PathToID(ctx, s.fs, rel)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", p, err)
	}

	logger.Debug("Export handle: path=%s id=%d", p, id)
	return vfs.IDToHandle(s.fs, s.generation, id), nil
}

// relativePath strips the export prefix from the clean absolute path p.
func (s *NFSAdapter) relativePath(p string) (string, bool) {
	if s.export == "/" {
		return p, true
	}
	if p == s.export {
		return "", true
	}
	if rest, ok := strings.CutPrefix(p, s.export+"/"); ok {
		return rest, true
	}
	return "", false
}
