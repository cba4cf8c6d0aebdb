package coordinator

import (
	"context"
	"fmt"
	"strings"
)

// Command is a combined control request as received from the web API and
// MQTT set topics. Only the fields that fit the output are used.
type Command struct {
	State       string   `json:"state,omitempty"` // ON, OFF or TOGGLE
	Brightness  *int     `json:"brightness,omitempty"`
	Position    *int     `json:"position,omitempty"`
	Action      string   `json:"action,omitempty"` // open, close or stop
	HVACMode    string   `json:"hvac_mode,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// Empty reports whether c carries no request.
func (c Command) Empty() bool {
	return c.State == "" && c.Brightness == nil && c.Position == nil &&
		c.Action == "" && c.HVACMode == "" && c.Temperature == nil
}

// Execute applies cmd to output id. A brightness takes precedence over the
// on/off state so that {"state":"ON","brightness":128} dims.
func (c *Coordinator) Execute(ctx context.Context, id int, cmd Command) error {
	if cmd.Empty() {
		return fmt.Errorf("empty command: %w", ErrInvalidValue)
	}

	switch {
	case cmd.Brightness != nil:
		if err := c.SetBrightness(ctx, id, *cmd.Brightness); err != nil {
			return err
		}
	case cmd.State != "":
		if err := c.switchLight(ctx, id, cmd.State); err != nil {
			return err
		}
	}

	switch {
	case cmd.Position != nil:
		if err := c.SetCoverPosition(ctx, id, *cmd.Position); err != nil {
			return err
		}
	case cmd.Action != "":
		if err := c.coverAction(ctx, id, cmd.Action); err != nil {
			return err
		}
	}

	if cmd.HVACMode != "" {
		if err := c.SetThermostatMode(ctx, id, strings.ToLower(cmd.HVACMode)); err != nil {
			return err
		}
	}
	if cmd.Temperature != nil {
		if err := c.SetThermostatTarget(ctx, id, *cmd.Temperature); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) switchLight(ctx context.Context, id int, state string) error {
	switch strings.ToUpper(state) {
	case "ON":
		return c.TurnOn(ctx, id)
	case "OFF":
		return c.TurnOff(ctx, id)
	case "TOGGLE":
		return c.Toggle(ctx, id)
	}
	return fmt.Errorf("state %q: %w", state, ErrInvalidValue)
}

func (c *Coordinator) coverAction(ctx context.Context, id int, action string) error {
	switch strings.ToLower(action) {
	case "open":
		return c.OpenCover(ctx, id)
	case "close":
		return c.CloseCover(ctx, id)
	case "stop":
		return c.StopCover(ctx, id)
	}
	return fmt.Errorf("action %q: %w", action, ErrInvalidValue)
}
