package coordinator

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"domestia-go-home/internal/discovery"
	"domestia-go-home/internal/network"
	"domestia-go-home/internal/protocol"
)

// DeviceView is a JSON-ready snapshot of one output.
type DeviceView struct {
	ID             int            `json:"id"`
	Type           uint8          `json:"type"`
	TypeName       string         `json:"type_name"`
	Category       string         `json:"category"`
	Name           string         `json:"name"`
	ControllerName string         `json:"controller_name,omitempty"`
	Dimmer         bool           `json:"dimmer,omitempty"`
	Thermostat     bool           `json:"thermostat,omitempty"`
	State          map[string]any `json:"state,omitempty"`
}

// ControllerView reports the controller link.
type ControllerView struct {
	Host        string    `json:"host"`
	Port        int       `json:"port"`
	MAC         string    `json:"mac,omitempty"`
	State       string    `json:"state"`
	Reconnects  uint64    `json:"reconnects"`
	Pending     int       `json:"pending_requests"`
	DeviceCount int       `json:"device_count"`
	LastPoll    time.Time `json:"last_poll,omitzero"`
	LastError   string    `json:"last_error,omitempty"`

	LastDiscovery time.Time `json:"last_discovery,omitzero"`
}

// Devices returns snapshots of all outputs ordered by ID.
func (c *Coordinator) Devices() []DeviceView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	views := make([]DeviceView, 0, len(c.devices))
	for _, d := range c.devices {
		views = append(views, c.viewLocked(d))
	}
	return views
}

// Device returns the snapshot of one output.
func (c *Coordinator) Device(id int) (DeviceView, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.byID[id]
	if !ok {
		return DeviceView{}, fmt.Errorf("output %d: %w", id, ErrDeviceNotFound)
	}
	return c.viewLocked(d), nil
}

// Lookup resolves a numeric ID or a display name (case-insensitive).
func (c *Coordinator) Lookup(target string) (int, error) {
	target = strings.TrimSpace(target)
	c.mu.RLock()
	defer c.mu.RUnlock()
	if id, err := strconv.Atoi(target); err == nil {
		if _, ok := c.byID[id]; ok {
			return id, nil
		}
	}
	for _, d := range c.devices {
		if strings.EqualFold(c.nameLocked(d), target) || strings.EqualFold(d.DisplayName(), target) {
			return d.DeviceID(), nil
		}
	}
	return 0, fmt.Errorf("%q: %w", target, ErrDeviceNotFound)
}

// Info reports the controller link and the last poll.
func (c *Coordinator) Info() ControllerView {
	c.mu.RLock()
	v := ControllerView{
		Host:        c.config.Host,
		Port:        c.config.Port,
		MAC:         c.config.MAC,
		State:       network.StateConnected.String(),
		DeviceCount: len(c.devices),
		LastPoll:    c.lastPoll,
		LastError:   c.lastPollErr,
	}
	c.mu.RUnlock()

	if ls, ok := c.client.(linkStats); ok {
		v.State = ls.State().String()
		v.Reconnects = ls.Reconnects()
		v.Pending = ls.Pending()
	}
	// A MAC stored at an earlier discovery stands in for an unconfigured one.
	if info, err := c.store.GetControllerInfo(); err == nil {
		v.LastDiscovery = info.LastDiscovery
		if v.MAC == "" {
			v.MAC = info.MAC
		}
	}
	return v
}

func (c *Coordinator) nameLocked(d discovery.Device) string {
	if name := c.friendly[d.DeviceID()]; name != "" {
		return name
	}
	if name := d.DisplayName(); name != "" {
		return name
	}
	if d.OutputType().IsThermostat() {
		return fmt.Sprintf("Domestia Thermostat %d", d.DeviceID())
	}
	return discovery.FallbackName(d.DeviceID())
}

func (c *Coordinator) viewLocked(d discovery.Device) DeviceView {
	id := d.DeviceID()
	v := DeviceView{
		ID:             id,
		Type:           uint8(d.OutputType()),
		TypeName:       d.OutputType().String(),
		Category:       string(d.Category()),
		Name:           c.nameLocked(d),
		ControllerName: d.DisplayName(),
		Dimmer:         d.OutputType().IsDimmer(),
		Thermostat:     d.OutputType().IsThermostat(),
	}

	switch dev := d.(type) {
	case *discovery.Light:
		v.State = map[string]any{"on": dev.On}
		if v.Dimmer {
			v.State["brightness"] = c.brightnessLocked(id)
			v.State["level"] = dev.Level
		}
	case *discovery.Cover:
		v.State = map[string]any{
			"position": dev.Position,
			"closing":  dev.Closing,
			"opening":  dev.Opening,
		}
		if t, ok := c.targets[id]; ok {
			v.State["target_position"] = t
		}
	default:
		if th := c.thermostats[id]; th != nil {
			v.State = map[string]any{
				"hvac_mode":   th.Mode,
				"temperature": th.Target,
			}
		}
	}
	return v
}

func (c *Coordinator) brightnessLocked(id int) uint8 {
	if b, ok := c.brightness[id]; ok {
		return b
	}
	return defaultBrightness
}

// wireLevel is the dimmer value sent for the remembered brightness.
func (c *Coordinator) wireLevel(id int) uint8 {
	return protocol.DimmerLevel(c.brightnessLocked(id))
}
