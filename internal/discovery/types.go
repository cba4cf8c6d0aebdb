package discovery

import "fmt"

// OutputType is the raw type code the controller reports for an output.
type OutputType uint8

const (
	TypeToggle           OutputType = 0
	TypeRelay            OutputType = 1
	TypeTimerToggleMin   OutputType = 2
	TypeTimerToggleSec   OutputType = 3
	TypeTimerRelaunchMin OutputType = 4
	TypeTimerRelaunchSec OutputType = 5
	TypeDimmerStop       OutputType = 6
	TypeDimmerContinuous OutputType = 7
	TypeShutterDown      OutputType = 8
	TypeShutterUp        OutputType = 9
	TypeShutterSingle    OutputType = 10
	TypeRelaySensor      OutputType = 11
	TypeRGBRed           OutputType = 12
	TypeRGBGreen         OutputType = 13
	TypeRGBBlue          OutputType = 14
	TypeRGBWhite         OutputType = 15
	TypeUnused           OutputType = 255
)

var typeNames = map[OutputType]string{
	TypeToggle:           "toggle",
	TypeRelay:            "relay",
	TypeTimerToggleMin:   "timer_toggle_min",
	TypeTimerToggleSec:   "timer_toggle_sec",
	TypeTimerRelaunchMin: "timer_relaunch_min",
	TypeTimerRelaunchSec: "timer_relaunch_sec",
	TypeDimmerStop:       "dimmer_stop",
	TypeDimmerContinuous: "dimmer_continuous",
	TypeShutterDown:      "shutter_down",
	TypeShutterUp:        "shutter_up",
	TypeShutterSingle:    "shutter_single",
	TypeRelaySensor:      "relay_sensor",
	TypeRGBRed:           "rgb_red",
	TypeRGBGreen:         "rgb_green",
	TypeRGBBlue:          "rgb_blue",
	TypeRGBWhite:         "rgb_white",
	TypeUnused:           "unused",
}

func (t OutputType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type_%d", uint8(t))
}

// IsDimmer reports whether the output accepts a brightness level.
func (t OutputType) IsDimmer() bool {
	return t == TypeDimmerStop || t == TypeDimmerContinuous
}

// IsThermostat reports whether the output is a relay driven by a temperature
// sensor. These are ignored as lights and covers but can be controlled as
// thermostats.
func (t OutputType) IsThermostat() bool {
	return t == TypeRelaySensor
}

// Category is how an output is exposed.
type Category string

const (
	CategoryLight   Category = "light"
	CategoryCover   Category = "cover"
	CategoryIgnored Category = "ignored"
)

// Classify maps a raw type to its category. Shutter-up outputs are ignored
// because the matching shutter-down output drives the whole cover.
func Classify(t OutputType) Category {
	switch {
	case t <= TypeDimmerContinuous:
		return CategoryLight
	case t == TypeShutterDown, t == TypeShutterSingle:
		return CategoryCover
	default:
		return CategoryIgnored
	}
}

// Device is one discovered output: *Light, *Cover or *Ignored.
type Device interface {
	DeviceID() int
	OutputType() OutputType
	Category() Category
	DisplayName() string
}

// Light is an on/off or dimmable output.
type Light struct {
	ID   int
	Type OutputType
	Name string
	On   bool

	// Level is the raw state byte from the last poll.
	Level uint8
}

func (l *Light) DeviceID() int          { return l.ID }
func (l *Light) OutputType() OutputType { return l.Type }
func (l *Light) Category() Category     { return CategoryLight }
func (l *Light) DisplayName() string    { return l.Name }

// Cover is a shutter. Position is 0 (closed) to 100 (open).
type Cover struct {
	ID       int
	Type     OutputType
	Name     string
	Position int
	Closing  bool
	Opening  bool
}

func (c *Cover) DeviceID() int          { return c.ID }
func (c *Cover) OutputType() OutputType { return c.Type }
func (c *Cover) Category() Category     { return CategoryCover }
func (c *Cover) DisplayName() string    { return c.Name }

// Ignored is an output that is not exposed as a light or a cover.
type Ignored struct {
	ID   int
	Type OutputType
	Name string
}

func (i *Ignored) DeviceID() int          { return i.ID }
func (i *Ignored) OutputType() OutputType { return i.Type }
func (i *Ignored) Category() Category     { return CategoryIgnored }
func (i *Ignored) DisplayName() string    { return i.Name }

// NewDevice builds the variant matching t's category.
func NewDevice(id int, t OutputType, name string) Device {
	switch Classify(t) {
	case CategoryLight:
		return &Light{ID: id, Type: t, Name: name}
	case CategoryCover:
		return &Cover{ID: id, Type: t, Name: name}
	default:
		return &Ignored{ID: id, Type: t, Name: name}
	}
}

// FallbackName is used when the controller has no usable name for an output.
func FallbackName(id int) string {
	return fmt.Sprintf("Domestia %d", id)
}
