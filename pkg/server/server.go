// Package server runs the protocol adapters and auxiliary services of a
// forgefs process as one unit.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/forgefs/internal/logger"
	"github.com/marmos91/forgefs/pkg/adapter"
	"golang.org/x/sync/errgroup"
)

// DefaultShutdownTimeout bounds the graceful phase when none is configured.
const DefaultShutdownTimeout = 30 * time.Second

// Service is a background component that runs until its context is
// cancelled, such as the metrics HTTP server.
type Service interface {
	Start(ctx context.Context) error
}

// Server manages the lifecycle of the registered adapters and services.
//
// Lifecycle:
//  1. Creation: New() with the shutdown timeout
//  2. Registration: AddAdapter() and AddService()
//  3. Startup: Serve() runs everything concurrently
//  4. Shutdown: context cancellation, or the failure of any component,
//     stops the rest. Adapters still busy after the shutdown timeout are
//     force-closed.
//
// Serve may only be called once.
type Server struct {
	shutdownTimeout time.Duration

	mu       sync.Mutex
	adapters []adapter.Adapter
	services []Service
	served   bool
}

// New creates a server. A non-positive timeout uses DefaultShutdownTimeout.
func New(shutdownTimeout time.Duration) *Server {
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	return &Server{shutdownTimeout: shutdownTimeout}
}

// AddAdapter registers a protocol adapter. Registering two adapters for the
// same protocol is an error.
func (s *Server) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		return errors.New("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		return errors.New("cannot add adapter after Serve() has been called")
	}

	protocol := a.Protocol()
	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
	}

	s.adapters = append(s.adapters, a)
	logger.Debug("Registered %s adapter", protocol)
	return nil
}

// AddService registers a background service.
func (s *Server) AddService(svc Service) error {
	if svc == nil {
		return errors.New("service cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		return errors.New("cannot add service after Serve() has been called")
	}

	s.services = append(s.services, svc)
	return nil
}

// Serve runs every adapter and service until ctx is cancelled or one of them
// fails, and returns once all have stopped.
//
// It returns nil after a graceful shutdown, the first component error
// otherwise. Cancellation of ctx is not an error.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return errors.New("Serve() has already been called on this server")
	}
	s.served = true
	adapters := append([]adapter.Adapter(nil), s.adapters...)
	services := append([]Service(nil), s.services...)
	s.mu.Unlock()

	if len(adapters) == 0 {
		return errors.New("no adapters registered; call AddAdapter() before Serve()")
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, a := range adapters {
		g.Go(func() error {
			logger.Info("Starting %s adapter", a.Protocol())
			if err := a.Serve(gctx); err != nil {
				return fmt.Errorf("%s adapter: %w", a.Protocol(), err)
			}
			logger.Debug("%s adapter stopped", a.Protocol())
			return nil
		})
	}

	for _, svc := range services {
		g.Go(func() error {
			return svc.Start(gctx)
		})
	}

	logger.Info("Server is running. Press Ctrl+C to stop.")

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-gctx.Done():
		if ctx.Err() != nil {
			logger.Info("Shutdown initiated")
		} else {
			logger.Warn("Component failed, shutting down")
		}

		select {
		case err = <-done:
		case <-time.After(s.shutdownTimeout):
			logger.Warn("Shutdown exceeded %v, forcing", s.shutdownTimeout)
			s.forceStop(adapters)
			err = <-done
		}
	}

	if err != nil {
		return err
	}

	logger.Info("Server stopped gracefully")
	return nil
}

// forceStop closes every adapter's remaining connections at once, in
// reverse registration order.
func (s *Server) forceStop(adapters []adapter.Adapter) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := len(adapters) - 1; i >= 0; i-- {
		if err := adapters[i].Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", adapters[i].Protocol(), err)
		}
	}
}

// Adapters returns a snapshot of the registered adapters.
func (s *Server) Adapters() []adapter.Adapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]adapter.Adapter(nil), s.adapters...)
}
