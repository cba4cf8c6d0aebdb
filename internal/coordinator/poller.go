package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"domestia-go-home/internal/discovery"
	"domestia-go-home/internal/protocol"
)

// Run polls the relay status every PollInterval, and immediately whenever
// RequestRefresh is called, until ctx or the coordinator is done.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	c.logger.Info("poller started", "interval", c.config.PollInterval)
	c.pollAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.ctx.Done():
			return nil
		case <-ticker.C:
		case <-c.refresh:
		}
		c.pollAndLog(ctx)
	}
}

func (c *Coordinator) pollAndLog(ctx context.Context) {
	c.mu.RLock()
	undiscovered := c.undiscovered
	c.mu.RUnlock()
	if undiscovered {
		if err := c.Rediscover(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("discovery retry failed", "err", err)
		}
	}
	if err := c.PollOnce(ctx); err != nil && ctx.Err() == nil {
		c.logger.Warn("status poll failed", "err", err)
	}
}

// RequestRefresh asks the poller for an immediate poll. It never blocks.
func (c *Coordinator) RequestRefresh() {
	select {
	case c.refresh <- struct{}{}:
	default:
	}
}

// PollOnce reads the status table and applies it to the outputs. A short or
// missing reply means no update this cycle.
func (c *Coordinator) PollOnce(ctx context.Context) error {
	c.observeLink()

	raw, err := c.client.ReadStatus(ctx, c.config.StatusTimeout)
	if err != nil {
		c.pollFailed("error", err)
		return fmt.Errorf("read status: %w", err)
	}
	states, ok := discovery.DecodeStatus(raw)
	if !ok {
		err := fmt.Errorf("%w: status has %d bytes", discovery.ErrShortResponse, len(raw))
		c.pollFailed("short", err)
		return err
	}

	c.mu.Lock()
	changes := discovery.Apply(c.devices, states)
	c.syncBrightnessLocked()
	views := make([]DeviceView, 0, len(changes))
	for _, ch := range changes {
		id := ch.Device.DeviceID()
		// A cover that reports back settles its pending target.
		if cv, ok := ch.Device.(*discovery.Cover); ok && !cv.Closing && !cv.Opening {
			delete(c.targets, id)
		}
		views = append(views, c.viewLocked(ch.Device))
	}
	c.lastPoll = time.Now()
	c.lastPollErr = ""
	c.mu.Unlock()

	c.metrics.Poll("ok")
	for _, v := range views {
		c.logger.Debug("output state changed", "id", v.ID, "name", v.Name, "state", v.State)
		c.events.Emit(Event{Type: EventStateChanged, Data: v})
	}
	c.events.Emit(Event{Type: EventPollCompleted, Data: map[string]any{
		"outputs": len(states),
		"changes": len(views),
	}})
	return nil
}

// syncBrightnessLocked adopts the brightness of dimmers that were set from
// outside, e.g. a wall switch. Levels matching the remembered brightness are
// kept so 0-255 values do not drift through the 0-64 scale.
func (c *Coordinator) syncBrightnessLocked() {
	for _, d := range c.devices {
		l, ok := d.(*discovery.Light)
		if !ok || !l.Type.IsDimmer() || l.Level == 0 {
			continue
		}
		if l.Level != c.wireLevel(l.ID) {
			c.brightness[l.ID] = protocol.BrightnessFromLevel(l.Level)
		}
	}
}

func (c *Coordinator) pollFailed(result string, err error) {
	c.mu.Lock()
	c.lastPollErr = err.Error()
	c.mu.Unlock()

	c.metrics.Poll(result)
	c.events.Emit(Event{Type: EventPollFailed, Data: map[string]any{
		"result": result,
		"error":  err.Error(),
	}})
}

// observeLink emits a connection event when the link state changed since the
// last poll.
func (c *Coordinator) observeLink() {
	ls, ok := c.client.(linkStats)
	if !ok {
		return
	}
	state := ls.State().String()

	c.mu.Lock()
	prev := c.linkState
	c.linkState = state
	c.mu.Unlock()

	if prev != state {
		c.events.Emit(Event{Type: EventConnection, Data: map[string]any{
			"state":      state,
			"reconnects": ls.Reconnects(),
		}})
	}
}

// IsShortResponse reports whether err is a poll that carried no data.
func IsShortResponse(err error) bool {
	return errors.Is(err, discovery.ErrShortResponse)
}
