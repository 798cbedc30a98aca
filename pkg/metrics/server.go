package metrics

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/marmos91/forgefs/internal/logger"
	"github.com/marmos91/forgefs/pkg/vfs"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HandleResolver turns an export path into the NFS file handle a client
// should use for it. The NFS adapter implements it.
type HandleResolver interface {
	ExportHandle(ctx context.Context, path string) (vfs.FileHandle, error)
}

// Server is the operations HTTP server.
//
// Routes:
//   - GET /metrics: Prometheus metrics in text format
//   - GET /health: liveness probe
//   - GET /exports/handle?path=/repo.git: hex file handle for a path
//
// The server supports graceful shutdown with configurable timeout.
type Server struct {
	server       *http.Server
	listen       string
	addr         net.Addr
	mu           sync.Mutex
	shutdownOnce sync.Once
}

// ServerConfig configures the operations HTTP server.
type ServerConfig struct {
	// Listen is the host:port to bind.
	// Default: 127.0.0.1:9090
	Listen string

	// Exports resolves /exports/handle requests. The route answers 503 when
	// nil.
	Exports HandleResolver
}

// applyDefaults fills in zero values with sensible defaults.
func (c *ServerConfig) applyDefaults() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:9090"
	}
}

// response is the JSON body of every non-metrics route.
type response struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path,omitempty"`
	Handle    string    `json:"handle,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body response) {
	body.Timestamp = time.Now().UTC()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Debug("ops server: encode response: %v", err)
	}
}

// NewServer creates a new operations HTTP server.
//
// The server is created in a stopped state. Call Start() to begin serving
// requests.
func NewServer(config ServerConfig) *Server {
	config.applyDefaults()

	return &Server{
		server: &http.Server{
			Handler:      NewRouter(config.Exports),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		listen: config.Listen,
	}
}

// NewRouter builds the chi router serving the operations routes.
func NewRouter(exports HandleResolver) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	if registry := GetRegistry(); registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	} else {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintf(w, "Metrics collection is disabled\n")
		})
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{Status: "healthy"})
	})

	r.Get("/exports/handle", func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Query().Get("path")
		if exports == nil {
			writeJSON(w, http.StatusServiceUnavailable, response{Status: "error", Path: path, Error: "no export configured"})
			return
		}
		if path == "" {
			writeJSON(w, http.StatusBadRequest, response{Status: "error", Error: "missing path parameter"})
			return
		}

		fh, err := exports.ExportHandle(r.Context(), path)
		if err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, vfs.StatusNoEnt) {
				code = http.StatusNotFound
			}
			writeJSON(w, code, response{Status: "error", Path: path, Error: err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, response{Status: "ok", Path: path, Handle: hex.EncodeToString(fh)})
	})

	return r
}

// requestLogger logs each request at debug level with its status and
// duration.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Debug("ops request: method=%s path=%s status=%d duration=%s remote=%s",
			r.Method, r.URL.Path, ww.Status(), time.Since(start), r.RemoteAddr)
	})
}

// Start starts the server and blocks until the context is cancelled or an
// error occurs.
//
// When the context is cancelled, Start initiates graceful shutdown and
// returns.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("ops server listen on %s: %w", s.listen, err)
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Ops server listening on %s", ln.Addr())

		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Ops server shutdown signal received")
		// The caller's context is already cancelled; give shutdown its own.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("ops server failed: %w", err)
	}
}

// Stop initiates graceful shutdown of the server.
//
// Stop is safe to call multiple times and safe to call concurrently with
// Start().
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		logger.Debug("Ops server shutdown initiated")

		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("ops server shutdown error: %w", err)
			logger.Error("Ops server shutdown error: %v", err)
		} else {
			logger.Info("Ops server stopped gracefully")
		}
	})
	return shutdownErr
}

// Addr returns the bound address once Start has begun listening, nil
// before.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
