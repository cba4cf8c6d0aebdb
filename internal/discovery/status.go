package discovery

// statusOffset is where the per-output state array starts in a status reply.
const statusOffset = 3

// coverMoving is set in a cover state byte while the cover is closing.
const coverMoving = 128

// DecodeStatus returns the state array of a status reply, or false when the
// reply carries no data.
func DecodeStatus(raw []byte) ([]byte, bool) {
	if len(raw) <= statusOffset {
		return nil, false
	}
	return raw[statusOffset:], true
}

// LightState reports whether the output at id is on.
func LightState(states []byte, id int) bool {
	return states[id] != 0
}

// CoverState decodes the cover at id. Opening is read from the next output's
// byte, and is false for the last output.
func CoverState(states []byte, id int) (position int, closing, opening bool) {
	b := states[id]
	position = int(b % coverMoving)
	closing = b >= coverMoving
	opening = id+1 < len(states) && states[id+1] >= coverMoving
	return position, closing, opening
}

// Change describes a device whose state changed during Apply.
type Change struct {
	Device Device
}

// Apply writes states into devices and returns those that changed. Devices
// beyond the end of states are left untouched.
func Apply(devices []Device, states []byte) []Change {
	var changes []Change
	for _, dev := range devices {
		id := dev.DeviceID()
		if id < 0 || id >= len(states) {
			continue
		}
		switch v := dev.(type) {
		case *Light:
			on, level := LightState(states, id), states[id]
			if on != v.On || level != v.Level {
				v.On, v.Level = on, level
				changes = append(changes, Change{Device: v})
			}
		case *Cover:
			pos, closing, opening := CoverState(states, id)
			if pos != v.Position || closing != v.Closing || opening != v.Opening {
				v.Position, v.Closing, v.Opening = pos, closing, opening
				changes = append(changes, Change{Device: v})
			}
		}
	}
	return changes
}
