package protocol

import (
	"fmt"
	"math"
)

// Opcodes (byte 4 of a command).
const (
	OpTempRead        uint8 = 29   // ATTEMP
	OpThermostatSet   uint8 = 58   // ATWTEMPMODE, target temperature
	OpTempStatus      uint8 = 59   // ATRTEMPSTATUS
	OpOutputName      uint8 = 62   // ATRNOMS
	OpTypeTable       uint8 = 66   // ATRSTYPE
	OpCoverName       uint8 = 80   // ATRNOMC
	OpThermostatMode  uint8 = 85   // ATWCAPTEURMODE
	OpMAC             uint8 = 0x8A // ATMAC
	OpWriteOutput     uint8 = 150  // ATWRELAIS
	OpRelayStatus     uint8 = 156  // ATRRELAIS
)

// Output values for OpWriteOutput.
const (
	OutputOff uint8 = 0x00
	OutputOn  uint8 = 0xFE

	// coverMoveFlag marks a cover value as "move to position" rather than "stop at".
	coverMoveFlag uint8 = 0x80
)

// Thermostat modes for OpThermostatMode.
const (
	ModeHeatAuto   uint8 = 0 // CHAUD_AUTO
	ModeHeatLocked uint8 = 2 // CHAUD_VEROUILLE, used as "off"
)

// OpName returns a human-readable name for an opcode, for logging.
func OpName(op uint8) string {
	switch op {
	case OpTempRead:
		return "TempRead"
	case OpThermostatSet:
		return "ThermostatSet"
	case OpTempStatus:
		return "TempStatus"
	case OpOutputName:
		return "OutputName"
	case OpTypeTable:
		return "TypeTable"
	case OpCoverName:
		return "CoverName"
	case OpThermostatMode:
		return "ThermostatMode"
	case OpMAC:
		return "MAC"
	case OpWriteOutput:
		return "WriteOutput"
	case OpRelayStatus:
		return "RelayStatus"
	default:
		return fmt.Sprintf("0x%02X", op)
	}
}

// CommandOp returns the opcode of a command, or 0 if it is too short.
func CommandOp(cmd []byte) uint8 {
	if len(cmd) <= HeaderLen {
		return 0
	}
	return cmd[HeaderLen]
}

// command builds a header for n bytes of body followed by the body itself.
func command(body ...byte) []byte {
	cmd := make([]byte, 0, HeaderLen+len(body))
	cmd = append(cmd, Marker, 0x00, 0x00, byte(len(body)))
	return append(cmd, body...)
}

// TypeTableRequest asks the controller for the output type of every output.
func TypeTableRequest() []byte { return command(OpTypeTable) }

// StatusRequest asks for the state byte of every output.
func StatusRequest() []byte { return command(OpRelayStatus) }

// MACRequest asks for the controller MAC address.
func MACRequest() []byte { return command(OpMAC) }

// NameRequest asks for the name of a 0-based output. Outputs are 1-based on the wire.
func NameRequest(id int) []byte {
	return command(OpOutputName, wireNumber(id))
}

// WriteOutput sets an output to a raw value.
func WriteOutput(id int, value uint8) []byte {
	return command(OpWriteOutput, wireNumber(id), value)
}

// ThermostatMode sets the heating mode of a thermostat output.
func ThermostatMode(id int, mode uint8) []byte {
	return command(OpThermostatMode, wireNumber(id), mode)
}

// ThermostatTarget sets the target temperature of a thermostat output.
// The controller expects half-degree steps.
func ThermostatTarget(id int, celsius float64) []byte {
	v := math.Round(celsius * 2)
	if v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	return command(OpThermostatSet, wireNumber(id), uint8(v))
}

// DimmerLevel converts a 0-255 brightness to the controller's 0-64 dimmer scale.
func DimmerLevel(brightness uint8) uint8 {
	return uint8(math.Round(float64(brightness) * 64 / 255))
}

// BrightnessFromLevel is the inverse of DimmerLevel.
func BrightnessFromLevel(level uint8) uint8 {
	if level >= 64 {
		return 255
	}
	return uint8(math.Round(float64(level) * 255 / 64))
}

// CoverMove returns the output value that drives a cover to position (0-100).
func CoverMove(position int) uint8 {
	return clampPosition(position) + coverMoveFlag
}

// CoverStop returns the output value that holds a cover at position (0-100).
func CoverStop(position int) uint8 {
	return clampPosition(position)
}

func clampPosition(p int) uint8 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return uint8(p)
}

func wireNumber(id int) byte {
	return byte(id + 1)
}
