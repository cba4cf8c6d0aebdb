package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketDevices    = []byte("devices")
	bucketController = []byte("controller")
	keyInfo          = []byte("info")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketDevices, bucketController} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// deviceKey encodes id big-endian so ForEach walks outputs in order.
func deviceKey(id int) []byte {
	k := make([]byte, 2)
	binary.BigEndian.PutUint16(k, uint16(id))
	return k
}

func putDevice(b *bolt.Bucket, dev *Device) error {
	data, err := json.Marshal(dev)
	if err != nil {
		return err
	}
	return b.Put(deviceKey(dev.ID), data)
}

func (s *BoltStore) SaveDevice(dev *Device) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDevices)
		}
		return putDevice(b, dev)
	})
}

func (s *BoltStore) GetDevice(id int) (*Device, error) {
	var dev Device
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDevices)
		}
		data := b.Get(deviceKey(id))
		if data == nil {
			return fmt.Errorf("device %d: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &dev)
	})
	if err != nil {
		return nil, err
	}
	return &dev, nil
}

func (s *BoltStore) ListDevices() ([]*Device, error) {
	var devices []*Device
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return nil // no bucket = no devices
		}
		devices = make([]*Device, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var dev Device
			if err := json.Unmarshal(v, &dev); err != nil {
				return err
			}
			devices = append(devices, &dev)
			return nil
		})
	})
	return devices, err
}

func (s *BoltStore) UpdateDevice(id int, fn func(dev *Device) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDevices)
		}
		data := b.Get(deviceKey(id))
		if data == nil {
			return fmt.Errorf("device %d: %w", id, ErrNotFound)
		}
		var dev Device
		if err := json.Unmarshal(data, &dev); err != nil {
			return err
		}
		if err := fn(&dev); err != nil {
			return err
		}
		dev.ID = id
		return putDevice(b, &dev)
	})
}

func (s *BoltStore) ReplaceDevices(devs []*Device) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDevices)
		}

		friendly := make(map[int]string)
		err := b.ForEach(func(k, v []byte) error {
			var old Device
			if err := json.Unmarshal(v, &old); err != nil {
				return err
			}
			if old.FriendlyName != "" {
				friendly[old.ID] = old.FriendlyName
			}
			return nil
		})
		if err != nil {
			return err
		}

		if err := tx.DeleteBucket(bucketDevices); err != nil {
			return err
		}
		b, err = tx.CreateBucket(bucketDevices)
		if err != nil {
			return err
		}
		for _, dev := range devs {
			if dev.FriendlyName == "" {
				dev.FriendlyName = friendly[dev.ID]
			}
			if err := putDevice(b, dev); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) SaveControllerInfo(info *ControllerInfo) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketController)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketController)
		}
		data, err := json.Marshal(info)
		if err != nil {
			return err
		}
		return b.Put(keyInfo, data)
	})
}

func (s *BoltStore) GetControllerInfo() (*ControllerInfo, error) {
	var info ControllerInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketController)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketController)
		}
		data := b.Get(keyInfo)
		if data == nil {
			return fmt.Errorf("controller info: %w", ErrNotFound)
		}
		return json.Unmarshal(data, &info)
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
