package coordinator

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestExecute(t *testing.T) {
	tests := []struct {
		name string
		id   int
		cmd  Command
		want []byte
	}{
		{"light on", 0, Command{State: "ON"}, []byte{255, 0, 0, 3, 150, 1, 0xFE}},
		{"light off lower case", 0, Command{State: "off"}, []byte{255, 0, 0, 3, 150, 1, 0}},
		{"brightness wins over state", 1, Command{State: "ON", Brightness: intPtr(255)}, []byte{255, 0, 0, 3, 150, 2, 64}},
		{"brightness zero", 1, Command{Brightness: intPtr(0)}, []byte{255, 0, 0, 3, 150, 2, 0}},
		{"cover position", 2, Command{Position: intPtr(40)}, []byte{255, 0, 0, 3, 150, 3, 168}},
		{"cover open", 2, Command{Action: "OPEN"}, []byte{255, 0, 0, 3, 150, 3, 228}},
		{"cover stop", 2, Command{Action: "stop"}, []byte{255, 0, 0, 3, 150, 3, 0}},
		{"thermostat mode", 4, Command{HVACMode: "Off"}, []byte{255, 0, 0, 3, 85, 5, 2}},
		{"thermostat target", 4, Command{Temperature: floatPtr(19)}, []byte{255, 0, 0, 3, 58, 5, 38}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ctrl, _ := startedCoordinator(t)
			if err := c.Execute(context.Background(), tt.id, tt.cmd); err != nil {
				t.Fatal(err)
			}
			if got := ctrl.lastSent(); !bytes.Equal(got, tt.want) {
				t.Errorf("sent = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExecuteThermostatModeAndTarget(t *testing.T) {
	c, ctrl, _ := startedCoordinator(t)

	err := c.Execute(context.Background(), 4, Command{HVACMode: "heat", Temperature: floatPtr(22)})
	if err != nil {
		t.Fatal(err)
	}
	if len(ctrl.sent) != 2 {
		t.Fatalf("sent %d commands, want 2", len(ctrl.sent))
	}
	v, _ := c.Device(4)
	if v.State["temperature"] != 22.0 || v.State["hvac_mode"] != ModeHeat {
		t.Errorf("thermostat = %v", v.State)
	}
}

func TestExecuteErrors(t *testing.T) {
	c, ctrl, _ := startedCoordinator(t)
	ctx := context.Background()

	tests := []struct {
		name string
		id   int
		cmd  Command
		want error
	}{
		{"empty", 0, Command{}, ErrInvalidValue},
		{"bad state", 0, Command{State: "BLINK"}, ErrInvalidValue},
		{"bad action", 2, Command{Action: "tilt"}, ErrInvalidValue},
		{"cover command on light", 0, Command{Position: intPtr(10)}, ErrUnsupported},
		{"unknown output", 42, Command{State: "ON"}, ErrDeviceNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Execute(ctx, tt.id, tt.cmd); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if len(ctrl.sent) != 0 {
		t.Errorf("sent %d commands, want 0", len(ctrl.sent))
	}
}
