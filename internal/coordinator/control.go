package coordinator

import (
	"context"
	"fmt"
	"math"

	"domestia-go-home/internal/discovery"
	"domestia-go-home/internal/protocol"
)

// Thermostat target bounds in °C.
const (
	MinTarget = 5.0
	MaxTarget = 35.0
)

// lightLocked returns the light at id. Caller must hold c.mu.
func (c *Coordinator) lightLocked(id int) (*discovery.Light, error) {
	d, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("output %d: %w", id, ErrDeviceNotFound)
	}
	l, ok := d.(*discovery.Light)
	if !ok {
		return nil, fmt.Errorf("output %d is a %s: %w", id, d.Category(), ErrUnsupported)
	}
	return l, nil
}

func (c *Coordinator) coverLocked(id int) (*discovery.Cover, error) {
	d, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("output %d: %w", id, ErrDeviceNotFound)
	}
	cv, ok := d.(*discovery.Cover)
	if !ok {
		return nil, fmt.Errorf("output %d is a %s: %w", id, d.Category(), ErrUnsupported)
	}
	return cv, nil
}

func (c *Coordinator) thermostatLocked(id int) (*thermostat, error) {
	d, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("output %d: %w", id, ErrDeviceNotFound)
	}
	th := c.thermostats[id]
	if !d.OutputType().IsThermostat() || th == nil {
		return nil, fmt.Errorf("output %d is not a thermostat: %w", id, ErrUnsupported)
	}
	return th, nil
}

// send writes cmd and publishes command_sent.
func (c *Coordinator) send(ctx context.Context, id int, cmd []byte) error {
	if err := c.client.Send(ctx, cmd); err != nil {
		return fmt.Errorf("output %d %s: %w", id, protocol.OpName(protocol.CommandOp(cmd)), err)
	}
	c.events.Emit(Event{Type: EventCommandSent, Data: map[string]any{
		"id":      id,
		"command": protocol.OpName(protocol.CommandOp(cmd)),
		"value":   cmd[len(cmd)-1],
	}})
	return nil
}

// commit applies an optimistic update to the output currently at id,
// publishes the new state and asks the poller to confirm it.
func (c *Coordinator) commit(id int, update func(d discovery.Device)) {
	c.mu.Lock()
	d, ok := c.byID[id]
	var view DeviceView
	if ok {
		update(d)
		view = c.viewLocked(d)
	}
	c.mu.Unlock()

	if ok {
		c.events.Emit(Event{Type: EventStateChanged, Data: view})
	}
	c.RequestRefresh()
}

func setLightOn(d discovery.Device, on bool) {
	if l, ok := d.(*discovery.Light); ok {
		l.On = on
	}
}

// TurnOn switches a light on. Dimmers go back to their last brightness.
func (c *Coordinator) TurnOn(ctx context.Context, id int) error {
	c.mu.RLock()
	l, err := c.lightLocked(id)
	value := protocol.OutputOn
	if err == nil && l.Type.IsDimmer() {
		value = c.wireLevel(id)
	}
	c.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := c.send(ctx, id, protocol.WriteOutput(id, value)); err != nil {
		return err
	}
	c.logger.Info("light on", "id", id)
	c.commit(id, func(d discovery.Device) { setLightOn(d, true) })
	return nil
}

// TurnOff switches a light off.
func (c *Coordinator) TurnOff(ctx context.Context, id int) error {
	c.mu.RLock()
	_, err := c.lightLocked(id)
	c.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := c.send(ctx, id, protocol.WriteOutput(id, protocol.OutputOff)); err != nil {
		return err
	}
	c.logger.Info("light off", "id", id)
	c.commit(id, func(d discovery.Device) { setLightOn(d, false) })
	return nil
}

// Toggle flips a light.
func (c *Coordinator) Toggle(ctx context.Context, id int) error {
	c.mu.RLock()
	l, err := c.lightLocked(id)
	on := err == nil && l.On
	c.mu.RUnlock()
	if err != nil {
		return err
	}
	if on {
		return c.TurnOff(ctx, id)
	}
	return c.TurnOn(ctx, id)
}

// SetBrightness sets a dimmer to brightness (0-255). Zero turns it off.
func (c *Coordinator) SetBrightness(ctx context.Context, id int, brightness int) error {
	if brightness < 0 || brightness > 255 {
		return fmt.Errorf("brightness %d: %w", brightness, ErrInvalidValue)
	}
	c.mu.RLock()
	l, err := c.lightLocked(id)
	if err == nil && !l.Type.IsDimmer() {
		err = fmt.Errorf("output %d is not a dimmer: %w", id, ErrUnsupported)
	}
	c.mu.RUnlock()
	if err != nil {
		return err
	}
	if brightness == 0 {
		return c.TurnOff(ctx, id)
	}

	b := uint8(brightness)
	if err := c.send(ctx, id, protocol.WriteOutput(id, protocol.DimmerLevel(b))); err != nil {
		return err
	}
	c.logger.Info("dimmer set", "id", id, "brightness", b)
	c.commit(id, func(d discovery.Device) {
		c.brightness[id] = b
		setLightOn(d, true)
	})
	return nil
}

// SetCoverPosition drives a cover to position (0 closed, 100 open).
func (c *Coordinator) SetCoverPosition(ctx context.Context, id int, position int) error {
	if position < 0 || position > 100 {
		return fmt.Errorf("position %d: %w", position, ErrInvalidValue)
	}
	c.mu.RLock()
	_, err := c.coverLocked(id)
	c.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := c.send(ctx, id, protocol.WriteOutput(id, protocol.CoverMove(position))); err != nil {
		return err
	}
	c.logger.Info("cover move", "id", id, "position", position)
	c.commit(id, func(discovery.Device) { c.targets[id] = position })
	return nil
}

// OpenCover drives a cover fully open.
func (c *Coordinator) OpenCover(ctx context.Context, id int) error {
	return c.SetCoverPosition(ctx, id, 100)
}

// CloseCover drives a cover fully closed.
func (c *Coordinator) CloseCover(ctx context.Context, id int) error {
	return c.SetCoverPosition(ctx, id, 0)
}

// StopCover holds a cover at its last polled position.
func (c *Coordinator) StopCover(ctx context.Context, id int) error {
	c.mu.RLock()
	cv, err := c.coverLocked(id)
	pos := 0
	if err == nil {
		pos = cv.Position
	}
	c.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := c.send(ctx, id, protocol.WriteOutput(id, protocol.CoverStop(pos))); err != nil {
		return err
	}
	c.logger.Info("cover stop", "id", id, "position", pos)
	c.commit(id, func(discovery.Device) { delete(c.targets, id) })
	return nil
}

// SetThermostatMode switches a thermostat between heat and off.
func (c *Coordinator) SetThermostatMode(ctx context.Context, id int, mode string) error {
	var wire uint8
	switch mode {
	case ModeHeat:
		wire = protocol.ModeHeatAuto
	case ModeOff:
		wire = protocol.ModeHeatLocked
	default:
		return fmt.Errorf("hvac mode %q: %w", mode, ErrInvalidValue)
	}
	c.mu.RLock()
	_, err := c.thermostatLocked(id)
	c.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := c.send(ctx, id, protocol.ThermostatMode(id, wire)); err != nil {
		return err
	}
	c.logger.Info("thermostat mode", "id", id, "mode", mode)
	c.commit(id, func(discovery.Device) {
		if th := c.thermostats[id]; th != nil {
			th.Mode = mode
		}
	})
	return nil
}

// SetThermostatTarget sets the target temperature, rounded to half degrees.
func (c *Coordinator) SetThermostatTarget(ctx context.Context, id int, celsius float64) error {
	if math.IsNaN(celsius) || celsius < MinTarget || celsius > MaxTarget {
		return fmt.Errorf("temperature %.1f: %w", celsius, ErrInvalidValue)
	}
	c.mu.RLock()
	_, err := c.thermostatLocked(id)
	c.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := c.send(ctx, id, protocol.ThermostatTarget(id, celsius)); err != nil {
		return err
	}
	target := math.Round(celsius*2) / 2
	c.logger.Info("thermostat target", "id", id, "celsius", target)
	c.commit(id, func(discovery.Device) {
		if th := c.thermostats[id]; th != nil {
			th.Target = target
		}
	})
	return nil
}
