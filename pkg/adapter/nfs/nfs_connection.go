package nfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/marmos91/forgefs/internal/bufpool"
	"github.com/marmos91/forgefs/internal/logger"
	"github.com/marmos91/forgefs/internal/protocol/nfs/rpc"
	"github.com/marmos91/forgefs/internal/ratelimiter"
	"golang.org/x/sync/errgroup"
)

const (
	// inboundDepth bounds raw chunks queued between the pump and the
	// reassembler.
	inboundDepth = 16

	// outboundDepth bounds framed replies waiting for the socket.
	outboundDepth = 16

	readChunkSize = bufpool.MediumSize
)

// NFSConnection serves one TCP connection with two tasks joined by an
// errgroup:
//
//   - reassemble: turns raw chunks from inbound into RPC records, dispatches
//     each one and queues the framed reply on outbound.
//   - pump: moves bytes read from the socket to inbound and writes replies
//     from outbound back to the socket.
//
// The reassembler dispatches one record at a time, so replies leave in the
// order the calls arrived.
type NFSConnection struct {
	server  *NFSAdapter
	conn    net.Conn
	addr    string
	limiter *ratelimiter.Limiter

	// pending is set while the reassembler holds a partial record. The
	// socket reader then applies the read timeout instead of the idle one.
	pending atomic.Bool
}

func NewNFSConnection(server *NFSAdapter, conn net.Conn) *NFSConnection {
	return &NFSConnection{
		server:  server,
		conn:    conn,
		addr:    conn.RemoteAddr().String(),
		limiter: ratelimiter.New(server.config.RateLimit.RequestsPerSecond, server.config.RateLimit.Burst),
	}
}

// readResult is one conn.Read outcome handed from the reader goroutine to
// the pump.
type readResult struct {
	data []byte
	err  error
}

// Serve runs the connection until the client disconnects, a transport error
// occurs or ctx is cancelled. The socket is closed on return.
func (c *NFSConnection) Serve(ctx context.Context) {
	defer func() {
		_ = c.conn.Close()
	}()

	logger.Debug("New connection from %s", c.addr)

	inbound := make(chan []byte, inboundDepth)
	outbound := make(chan []byte, outboundDepth)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(c.guard("reassembler", func() error {
		return c.reassemble(gctx, inbound, outbound)
	}))
	g.Go(c.guard("pump", func() error {
		return c.pump(gctx, inbound, outbound)
	}))

	err := g.Wait()
	switch {
	case err == nil:
		logger.Debug("Connection from %s closed by client", c.addr)
	case errors.Is(err, context.Canceled):
		logger.Debug("Connection from %s cancelled", c.addr)
	case errors.Is(err, rpc.ErrRecordTooLarge):
		logger.Warn("Closing connection from %s: %v", c.addr, err)
	default:
		logger.Debug("Connection from %s ended: %v", c.addr, err)
	}
}

// guard turns a panic in task into an error so that only this connection
// goes down.
func (c *NFSConnection) guard(name string, task func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic in %s task for %s: %v\n%s", name, c.addr, r, debug.Stack())
				c.server.stats.RecordPanic()
				err = fmt.Errorf("%s task panicked: %v", name, r)
			}
		}()
		return task()
	}
}

// ============================================================================
// Reassembler task
// ============================================================================

func (c *NFSConnection) reassemble(ctx context.Context, inbound <-chan []byte, outbound chan<- []byte) error {
	defer close(outbound)

	r := rpc.NewReassembler(c.server.config.MaxRecordSize)

	for {
		var chunk []byte
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-inbound:
			if !ok {
				return nil
			}
			chunk = data
		}

		records, feedErr := r.Feed(chunk)
		c.pending.Store(r.Pending())

		for _, record := range records {
			if err := c.handleRecord(ctx, record, outbound); err != nil {
				return err
			}
		}

		if feedErr != nil {
			c.server.stats.RecordRecordError()
			return fmt.Errorf("reassemble record from %s: %w", c.addr, feedErr)
		}
	}
}

// handleRecord dispatches one complete record and queues its reply.
func (c *NFSConnection) handleRecord(ctx context.Context, record []byte, outbound chan<- []byte) error {
	limited, err := c.limiter.Admit(ctx)
	if limited {
		c.server.metrics.RecordRateLimited()
		c.server.stats.RecordRateLimited()
		logger.Debug("Rate limited request from %s", c.addr)
	}
	if err != nil {
		return err
	}

	start := time.Now()
	reply, err := c.server.dispatcher.Dispatch(ctx, record, c.addr)
	c.server.stats.RecordRequest(time.Since(start))
	if err != nil {
		return fmt.Errorf("build reply for %s: %w", c.addr, err)
	}

	if reply == nil {
		c.server.stats.RecordDropped()
		return nil
	}

	select {
	case outbound <- rpc.FrameRecord(reply):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ============================================================================
// Socket pump task
// ============================================================================

func (c *NFSConnection) pump(ctx context.Context, inbound chan<- []byte, outbound <-chan []byte) error {
	inboundOpen := true
	closeInbound := func() {
		if inboundOpen {
			close(inbound)
			inboundOpen = false
		}
	}
	defer closeInbound()

	results := make(chan readResult)
	stop := make(chan struct{})
	defer close(stop)
	go c.readLoop(results, stop)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case reply, ok := <-outbound:
			if !ok {
				return nil
			}
			if err := c.writeReply(reply); err != nil {
				return err
			}

		case res := <-results:
			if res.err != nil {
				closeInbound()
				if err := c.readError(res.err); err != nil {
					return err
				}
				return c.drain(outbound)
			}
			if err := c.forward(ctx, res.data, inbound, outbound); err != nil {
				return err
			}
		}
	}
}

// forward hands chunk to the reassembler while still writing replies, so a
// full inbound queue cannot stall against a full outbound one.
func (c *NFSConnection) forward(ctx context.Context, chunk []byte, inbound chan<- []byte, outbound <-chan []byte) error {
	for {
		select {
		case inbound <- chunk:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case reply, ok := <-outbound:
			if !ok {
				return nil
			}
			if err := c.writeReply(reply); err != nil {
				return err
			}
		}
	}
}

// drain writes the replies still owed after the client stopped sending.
func (c *NFSConnection) drain(outbound <-chan []byte) error {
	for reply := range outbound {
		if err := c.writeReply(reply); err != nil {
			return err
		}
	}
	return nil
}

func (c *NFSConnection) readError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		c.server.stats.RecordTimeout()
		logger.Debug("Connection from %s timed out", c.addr)
		return nil
	}

	return fmt.Errorf("read from %s: %w", c.addr, err)
}

func (c *NFSConnection) writeReply(reply []byte) error {
	if timeout := c.server.config.WriteTimeout; timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}

	if _, err := c.conn.Write(reply); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			c.server.stats.RecordTimeout()
		}
		return fmt.Errorf("write reply to %s: %w", c.addr, err)
	}
	return nil
}

// readLoop turns blocking socket reads into results. It exits after the
// first error or once stop is closed.
func (c *NFSConnection) readLoop(results chan<- readResult, stop <-chan struct{}) {
	buf := bufpool.Get(readChunkSize)
	defer bufpool.Put(buf)

	for {
		c.setReadDeadline()

		n, err := c.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case results <- readResult{data: chunk}:
			case <-stop:
				return
			}
		}

		if err != nil {
			select {
			case results <- readResult{err: err}:
			case <-stop:
			}
			return
		}
	}
}

func (c *NFSConnection) setReadDeadline() {
	timeout := c.server.config.IdleTimeout
	if c.pending.Load() {
		timeout = c.server.config.ReadTimeout
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		logger.Debug("Failed to set read deadline for %s: %v", c.addr, err)
	}
}
