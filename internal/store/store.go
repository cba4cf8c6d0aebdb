package store

import "errors"

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface.
type Store interface {
	// Device operations
	SaveDevice(dev *Device) error
	GetDevice(id int) (*Device, error)
	ListDevices() ([]*Device, error)

	// UpdateDevice atomically reads, modifies, and saves a device in a single
	// transaction. Returns ErrNotFound if the device does not exist.
	UpdateDevice(id int, fn func(dev *Device) error) error

	// ReplaceDevices swaps the stored output table for devs in one
	// transaction. Friendly names already stored for an ID are kept.
	ReplaceDevices(devs []*Device) error

	// Controller info
	SaveControllerInfo(info *ControllerInfo) error
	GetControllerInfo() (*ControllerInfo, error)

	// Close the store
	Close() error
}
