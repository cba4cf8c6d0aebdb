package store

import "time"

// Device is a discovered controller output.
type Device struct {
	ID           int       `json:"id"`
	Type         uint8     `json:"type"`
	Category     string    `json:"category"`
	Name         string    `json:"name"`
	FriendlyName string    `json:"friendly_name,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at"`
	LastSeen     time.Time `json:"last_seen"`
}

// DisplayName returns the friendly name when set, else the controller name.
func (d *Device) DisplayName() string {
	if d.FriendlyName != "" {
		return d.FriendlyName
	}
	return d.Name
}

// ControllerInfo describes the controller seen at the last discovery.
type ControllerInfo struct {
	Host          string    `json:"host"`
	Port          int       `json:"port"`
	MAC           string    `json:"mac,omitempty"`
	DeviceCount   int       `json:"device_count"`
	LastDiscovery time.Time `json:"last_discovery"`
}
