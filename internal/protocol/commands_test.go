package protocol

import (
	"bytes"
	"testing"
)

func TestCommandBuilders(t *testing.T) {
	tests := []struct {
		name string
		got  []byte
		want []byte
	}{
		{"type table", TypeTableRequest(), []byte{255, 0, 0, 1, 66}},
		{"status", StatusRequest(), []byte{255, 0, 0, 1, 156}},
		{"mac", MACRequest(), []byte{255, 0, 0, 1, 0x8A}},
		{"name is 1-based", NameRequest(0), []byte{255, 0, 0, 2, 62, 1}},
		{"write on", WriteOutput(4, OutputOn), []byte{255, 0, 0, 3, 150, 5, 0xFE}},
		{"write off", WriteOutput(4, OutputOff), []byte{255, 0, 0, 3, 150, 5, 0}},
		{"thermostat mode", ThermostatMode(10, ModeHeatLocked), []byte{255, 0, 0, 3, 85, 11, 2}},
		{"thermostat target", ThermostatTarget(10, 21.5), []byte{255, 0, 0, 3, 58, 11, 43}},
		{"thermostat target clamps", ThermostatTarget(0, 500), []byte{255, 0, 0, 3, 58, 1, 255}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !bytes.Equal(tt.got, tt.want) {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestDimmerLevel(t *testing.T) {
	tests := []struct {
		in   uint8
		want uint8
	}{
		{0, 0},
		{255, 64},
		{128, 32},
		{1, 0},
	}
	for _, tt := range tests {
		if got := DimmerLevel(tt.in); got != tt.want {
			t.Errorf("DimmerLevel(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
	if got := BrightnessFromLevel(64); got != 255 {
		t.Errorf("BrightnessFromLevel(64) = %d, want 255", got)
	}
	if got := BrightnessFromLevel(0); got != 0 {
		t.Errorf("BrightnessFromLevel(0) = %d, want 0", got)
	}
}

func TestCoverValues(t *testing.T) {
	if got := CoverMove(100); got != 228 {
		t.Errorf("CoverMove(100) = %d, want 228", got)
	}
	if got := CoverMove(0); got != 128 {
		t.Errorf("CoverMove(0) = %d, want 128", got)
	}
	if got := CoverMove(150); got != 228 {
		t.Errorf("CoverMove(150) = %d, want clamp to 228", got)
	}
	if got := CoverStop(42); got != 42 {
		t.Errorf("CoverStop(42) = %d, want 42", got)
	}
	if got := CoverStop(-3); got != 0 {
		t.Errorf("CoverStop(-3) = %d, want 0", got)
	}
}

func TestCommandOp(t *testing.T) {
	if op := CommandOp(StatusRequest()); op != OpRelayStatus {
		t.Errorf("op = %d, want %d", op, OpRelayStatus)
	}
	if op := CommandOp([]byte{255, 0, 0, 0}); op != 0 {
		t.Errorf("op of header-only = %d, want 0", op)
	}
	if name := OpName(OpTypeTable); name != "TypeTable" {
		t.Errorf("OpName = %q", name)
	}
	if name := OpName(0x01); name != "0x01" {
		t.Errorf("OpName unknown = %q", name)
	}
}
