package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter serves until its context is cancelled, or until Stop when
// ignoreCancel is set.
type fakeAdapter struct {
	protocol     string
	ignoreCancel bool
	serveErr     error

	stopOnce sync.Once
	stopped  chan struct{}
}

func newFakeAdapter(protocol string, ignoreCancel bool) *fakeAdapter {
	return &fakeAdapter{protocol: protocol, ignoreCancel: ignoreCancel, stopped: make(chan struct{})}
}

func (f *fakeAdapter) Serve(ctx context.Context) error {
	if f.serveErr != nil {
		return f.serveErr
	}
	if f.ignoreCancel {
		<-f.stopped
		return errors.New("connections force-closed")
	}
	<-ctx.Done()
	return nil
}

func (f *fakeAdapter) Stop(ctx context.Context) error {
	f.stopOnce.Do(func() { close(f.stopped) })
	return ctx.Err()
}

func (f *fakeAdapter) Protocol() string { return f.protocol }
func (f *fakeAdapter) Addr() net.Addr   { return nil }

type failingService struct{ err error }

func (s failingService) Start(context.Context) error { return s.err }

// blockingService runs until cancelled and records that it saw the
// cancellation.
type blockingService struct{ canceled chan struct{} }

func (s *blockingService) Start(ctx context.Context) error {
	<-ctx.Done()
	close(s.canceled)
	return nil
}

func serveAsync(ctx context.Context, s *Server) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

// ============================================================================
// Registration
// ============================================================================

func TestAddAdapter(t *testing.T) {
	t.Run("DuplicateProtocol", func(t *testing.T) {
		s := New(time.Second)
		require.NoError(t, s.AddAdapter(newFakeAdapter("NFS", false)))
		assert.ErrorContains(t, s.AddAdapter(newFakeAdapter("NFS", false)), "already registered")
		assert.Len(t, s.Adapters(), 1)
	})

	t.Run("Nil", func(t *testing.T) {
		assert.Error(t, New(time.Second).AddAdapter(nil))
	})

	t.Run("AfterServe", func(t *testing.T) {
		s := New(time.Second)
		require.NoError(t, s.AddAdapter(newFakeAdapter("NFS", false)))

		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		require.NoError(t, s.Serve(ctx))

		assert.Error(t, s.AddAdapter(newFakeAdapter("SMB", false)))
		assert.Error(t, s.AddService(failingService{}))
		assert.ErrorContains(t, s.Serve(t.Context()), "already been called")
	})
}

func TestNewDefaultsShutdownTimeout(t *testing.T) {
	assert.Equal(t, DefaultShutdownTimeout, New(0).shutdownTimeout)
}

func TestServeWithoutAdapters(t *testing.T) {
	err := New(time.Second).Serve(t.Context())
	assert.ErrorContains(t, err, "no adapters registered")
}

// ============================================================================
// Shutdown
// ============================================================================

func TestServeStopsOnCancel(t *testing.T) {
	s := New(time.Second)
	require.NoError(t, s.AddAdapter(newFakeAdapter("NFS", false)))
	svc := &blockingService{canceled: make(chan struct{})}
	require.NoError(t, s.AddService(svc))

	ctx, cancel := context.WithCancel(t.Context())
	done := serveAsync(ctx, s)
	cancel()

	assert.NoError(t, waitDone(t, done))
	<-svc.canceled
}

func TestServeForcesAfterShutdownTimeout(t *testing.T) {
	s := New(20 * time.Millisecond)
	a := newFakeAdapter("NFS", true)
	require.NoError(t, s.AddAdapter(a))

	ctx, cancel := context.WithCancel(t.Context())
	done := serveAsync(ctx, s)
	cancel()

	assert.ErrorContains(t, waitDone(t, done), "force-closed")

	select {
	case <-a.stopped:
	default:
		t.Fatal("expected Stop to be called")
	}
}

func TestServiceFailureStopsAdapter(t *testing.T) {
	s := New(time.Second)
	require.NoError(t, s.AddAdapter(newFakeAdapter("NFS", false)))

	svcErr := errors.New("address in use")
	require.NoError(t, s.AddService(failingService{err: svcErr}))

	assert.ErrorIs(t, s.Serve(t.Context()), svcErr)
}

func TestAdapterFailureStopsServices(t *testing.T) {
	s := New(time.Second)
	a := newFakeAdapter("NFS", false)
	a.serveErr = errors.New("bind: permission denied")
	require.NoError(t, s.AddAdapter(a))

	svc := &blockingService{canceled: make(chan struct{})}
	require.NoError(t, s.AddService(svc))

	err := s.Serve(t.Context())
	assert.ErrorIs(t, err, a.serveErr)
	assert.ErrorContains(t, err, "NFS adapter")
	<-svc.canceled
}
