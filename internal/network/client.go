// Package network carries commands to a Domestia controller over TCP and
// correlates replies by their trailing request ID.
package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"domestia-go-home/internal/metrics"
	"domestia-go-home/internal/protocol"
)

// DefaultStatusTimeout bounds a status read.
const DefaultStatusTimeout = 3 * time.Second

// ErrTimeout is returned when no reply arrives in time.
var ErrTimeout = errors.New("controller reply timeout")

// Addr joins host and port into a dial address.
func Addr(host string, port int) string {
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Client sends framed commands to the controller.
type Client struct {
	conn     *Conn
	registry *Registry
	limiter  *rate.Limiter
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a client for addr. Call Connect before use.
func New(addr string, logger *slog.Logger, opts ...Option) *Client {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	c := &Client{
		registry: NewRegistry(logger),
		limiter:  s.limiter,
		metrics:  s.metrics,
		logger:   logger,
	}
	c.conn = NewConn(addr, c.handleData, logger, opts...)
	return c
}

// Connect opens the socket and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	return c.conn.Connect(ctx)
}

// Start keeps redialing in the background when the first Connect failed.
func (c *Client) Start() { c.conn.Start() }

// Close shuts the connection down.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Addr returns the controller address.
func (c *Client) Addr() string { return c.conn.Addr() }

// State returns the connection state.
func (c *Client) State() State { return c.conn.State() }

// Reconnects returns the number of completed reconnects.
func (c *Client) Reconnects() uint64 { return c.conn.Reconnects() }

// Pending returns the number of requests awaiting a reply.
func (c *Client) Pending() int { return c.registry.Pending() }

// Send writes cmd without waiting for a reply.
func (c *Client) Send(ctx context.Context, cmd []byte) error {
	id := c.registry.NextID()
	frame, err := protocol.BuildFrame(cmd, id)
	if err != nil {
		return err
	}
	if err := c.write(ctx, frame); err != nil {
		c.metrics.ObserveRequest("send", "error", 0)
		return err
	}
	c.metrics.ObserveRequest("send", "ok", 0)
	c.logger.Debug("controller TX", "op", protocol.OpName(protocol.CommandOp(cmd)), "id", id, "frame", fmt.Sprintf("% X", frame))
	return nil
}

// SendAwait writes cmd and waits up to timeout for the reply carrying the same
// request ID. It returns the reply payload without the ID byte.
func (c *Client) SendAwait(ctx context.Context, cmd []byte, timeout time.Duration) ([]byte, error) {
	id := c.registry.AllocateID()
	frame, err := protocol.BuildFrame(cmd, id)
	if err != nil {
		c.registry.Discard(id)
		return nil, err
	}

	ch := make(chan []byte, 1)
	if err := c.registry.Register(id, ch); err != nil {
		return nil, err
	}
	c.metrics.SetPending(c.registry.Pending())
	defer func() { c.metrics.SetPending(c.registry.Pending()) }()

	op := protocol.OpName(protocol.CommandOp(cmd))
	start := time.Now()
	if err := c.write(ctx, frame); err != nil {
		c.registry.release(id, ch)
		c.metrics.ObserveRequest("await", "error", 0)
		return nil, err
	}
	c.logger.Debug("controller TX", "op", op, "id", id, "frame", fmt.Sprintf("% X", frame))

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case payload := <-ch:
		c.metrics.ObserveRequest("await", "ok", time.Since(start))
		return payload, nil
	case <-timer.C:
		c.registry.release(id, ch)
		c.metrics.ObserveRequest("await", "timeout", 0)
		return nil, fmt.Errorf("%w: %s id=%d after %s", ErrTimeout, op, id, timeout)
	case <-ctx.Done():
		c.registry.release(id, ch)
		c.metrics.ObserveRequest("await", "error", 0)
		return nil, ctx.Err()
	}
}

// ReadStatus requests the relay status table. A zero timeout means
// DefaultStatusTimeout.
func (c *Client) ReadStatus(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = DefaultStatusTimeout
	}
	return c.SendAwait(ctx, protocol.StatusRequest(), timeout)
}

func (c *Client) write(ctx context.Context, frame []byte) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return c.conn.Write(ctx, frame)
}

// handleData runs on the read loop. Each read chunk is one reply.
func (c *Client) handleData(raw []byte) {
	payload, id, err := protocol.ParseIncoming(raw)
	if err != nil {
		c.metrics.FrameReceived("malformed")
		c.logger.Debug("controller RX malformed", "err", err)
		return
	}
	if c.registry.Resolve(id, payload) {
		c.metrics.FrameReceived("matched")
		c.logger.Debug("controller RX", "id", id, "len", len(payload))
		return
	}
	c.metrics.FrameReceived("unmatched")
	c.logger.Debug("controller RX unmatched", "id", id, "len", len(payload))
}
