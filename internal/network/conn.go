package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"domestia-go-home/internal/metrics"
)

const (
	// DefaultPort is the controller's fixed TCP port.
	DefaultPort = 52001

	readTimeout    = 5 * time.Second
	reconnectDelay = 1 * time.Second
	dialTimeout    = 5 * time.Second
	writeTimeout   = 5 * time.Second
	readBufSize    = 1024
)

var (
	// ErrConnection wraps socket open/read/write failures.
	ErrConnection = errors.New("controller connection error")
	// ErrClosed is returned once the connection has been closed.
	ErrClosed = errors.New("controller connection closed")
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// DialFunc opens a stream connection. It matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Conn owns the TCP socket to the controller.
//
// A single read loop runs for the lifetime of the Conn, started by the first
// successful dial. The controller only talks when spoken to, so an idle read
// timing out is normal. EOF or any other read error drops the socket and
// redials after a fixed delay, forever, until Close. Writers never redial;
// they wait for the read loop, bounded by their context.
type Conn struct {
	addr    string
	dial    DialFunc
	onData  func([]byte)
	logger  *slog.Logger
	metrics *metrics.Metrics

	readTimeout    time.Duration
	reconnectDelay time.Duration

	// mu guards sock, state and ready. ready is closed while connected.
	mu    sync.Mutex
	sock  net.Conn
	state State
	ready chan struct{}

	writeMu     sync.Mutex
	reconnectMu sync.Mutex
	reconnects  atomic.Uint64

	loopOnce  sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewConn creates an unconnected Conn. onData receives a private copy of every
// chunk read from the socket, on the read loop goroutine.
func NewConn(addr string, onData func([]byte), logger *slog.Logger, opts ...Option) *Conn {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		addr:           addr,
		dial:           s.dial,
		onData:         onData,
		logger:         logger,
		metrics:        s.metrics,
		readTimeout:    s.readTimeout,
		reconnectDelay: s.reconnectDelay,
		ready:          make(chan struct{}),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Addr returns the controller address.
func (c *Conn) Addr() string { return c.addr }

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reconnects returns the number of completed reconnects.
func (c *Conn) Reconnects() uint64 { return c.reconnects.Load() }

// Connect dials the controller and starts the read loop.
func (c *Conn) Connect(ctx context.Context) error {
	return c.open(ctx)
}

// Start runs the read loop without a live socket. The loop redials in the
// background until the controller answers or the Conn is closed.
func (c *Conn) Start() {
	if c.ctx.Err() != nil {
		return
	}
	c.startLoop()
}

func (c *Conn) startLoop() {
	c.loopOnce.Do(func() {
		c.wg.Add(1)
		go c.readLoop()
	})
}

func (c *Conn) open(ctx context.Context) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	c.setState(StateConnecting)

	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	sock, err := c.dial(dctx, "tcp", c.addr)
	cancel()
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("%w: dial %s: %w", ErrConnection, c.addr, err)
	}

	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		sock.Close()
		return ErrClosed
	}
	c.sock = sock
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.metrics.SetConnected(true)
	c.logger.Info("controller connected", "addr", c.addr)

	c.startLoop()
	return nil
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.setStateLocked(s)
	c.mu.Unlock()
}

// setStateLocked moves to s, closing ready on entering StateConnected and
// replacing it on leaving. c.mu must be held.
func (c *Conn) setStateLocked(s State) {
	switch {
	case s == StateConnected && c.state != StateConnected:
		close(c.ready)
	case s != StateConnected && c.state == StateConnected:
		c.ready = make(chan struct{})
	}
	c.state = s
}

// waitConnected blocks until the socket is up, ctx ends, the Conn is closed
// or one redial cycle has passed.
func (c *Conn) waitConnected(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	ready := c.ready
	c.mu.Unlock()

	timer := time.NewTimer(c.reconnectDelay + dialTimeout)
	defer timer.Stop()
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrClosed
	case <-timer.C:
		return errors.New("not connected")
	}
}

func (c *Conn) current() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return nil
	}
	return c.sock
}

// --- Read loop ---

func (c *Conn) readLoop() {
	defer c.wg.Done()

	buf := make([]byte, readBufSize)
	for {
		if c.ctx.Err() != nil {
			return
		}

		sock := c.current()
		if sock == nil {
			// A reconnect elsewhere failed or is in progress.
			_ = c.reconnect(c.ctx, nil)
			continue
		}

		_ = sock.SetReadDeadline(time.Now().Add(c.readTimeout))
		n, err := sock.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			c.onData(data)
		}

		if err == nil {
			if n == 0 {
				c.logger.Warn("controller sent empty read, reconnecting")
				_ = c.reconnect(c.ctx, sock)
			}
			continue
		}
		if isTimeout(err) {
			continue
		}
		if c.ctx.Err() != nil {
			return
		}
		if errors.Is(err, io.EOF) {
			c.logger.Warn("controller closed connection, reconnecting")
		} else {
			c.logger.Warn("controller read error, reconnecting", "err", err)
		}
		_ = c.reconnect(c.ctx, sock)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// --- Reconnect ---

// reconnect drops failed (or the current socket when failed is nil and the
// connection is down) and redials until it succeeds, ctx ends, or the Conn is
// closed. Concurrent calls for the same failure collapse into one.
func (c *Conn) reconnect(ctx context.Context, failed net.Conn) error {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()

	c.mu.Lock()
	old := c.sock
	if c.state == StateConnected && old != nil && old != failed {
		// Someone else already replaced the socket.
		c.mu.Unlock()
		return nil
	}
	c.sock = nil
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	c.metrics.SetConnected(false)
	if old != nil {
		_ = old.Close()
	}

	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(c.reconnectDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-c.ctx.Done():
			timer.Stop()
			return ErrClosed
		}

		err := c.open(ctx)
		if err == nil {
			c.reconnects.Add(1)
			c.metrics.Reconnected()
			c.logger.Info("controller reconnected", "addr", c.addr, "attempts", attempt)
			return nil
		}
		if errors.Is(err, ErrClosed) {
			return err
		}
		c.logger.Warn("controller reconnect failed", "addr", c.addr, "attempt", attempt, "err", err)
	}
}

// --- Write ---

// Write sends b to the controller. While the socket is down it waits for the
// read loop's redial, bounded by ctx and one redial cycle. A failed write
// drops the socket so the read loop reconnects, and returns an error wrapping
// ErrConnection.
func (c *Conn) Write(ctx context.Context, b []byte) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	if err := c.waitConnected(ctx); err != nil {
		if errors.Is(err, ErrClosed) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}

	c.writeMu.Lock()
	sock := c.current()
	if sock == nil {
		c.writeMu.Unlock()
		return fmt.Errorf("%w: not connected", ErrConnection)
	}
	deadline := time.Now().Add(writeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = sock.SetWriteDeadline(deadline)
	_, err := sock.Write(b)
	c.writeMu.Unlock()

	if err != nil {
		c.logger.Warn("controller write failed, reconnecting", "err", err)
		_ = sock.Close()
		return fmt.Errorf("%w: write: %w", ErrConnection, err)
	}
	return nil
}

// Close stops the read loop and closes the socket. Requests still waiting for
// a reply are not failed here; they end by their own timeout.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		sock := c.sock
		c.sock = nil
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		if sock != nil {
			err = sock.Close()
		}
		c.metrics.SetConnected(false)
	})
	c.wg.Wait()
	return err
}
