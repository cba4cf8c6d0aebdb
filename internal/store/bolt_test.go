package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetDevice(t *testing.T) {
	s := newTestStore(t)

	dev := &Device{
		ID:           12,
		Type:         7,
		Category:     "light",
		Name:         "Salon",
		DiscoveredAt: time.Now().Truncate(time.Millisecond),
		LastSeen:     time.Now().Truncate(time.Millisecond),
	}

	if err := s.SaveDevice(dev); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetDevice(12)
	if err != nil {
		t.Fatal(err)
	}

	if got.ID != 12 {
		t.Errorf("id = %d, want 12", got.ID)
	}
	if got.Type != 7 {
		t.Errorf("type = %d, want 7", got.Type)
	}
	if got.Category != "light" {
		t.Errorf("category = %q, want light", got.Category)
	}
	if got.Name != "Salon" {
		t.Errorf("name = %q, want Salon", got.Name)
	}
	if !got.DiscoveredAt.Equal(dev.DiscoveredAt) {
		t.Errorf("discovered_at = %v, want %v", got.DiscoveredAt, dev.DiscoveredAt)
	}
}

func TestListDevicesOrdered(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []int{200, 3, 0, 17} {
		if err := s.SaveDevice(&Device{ID: id}); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.ListDevices()
	if err != nil {
		t.Fatal(err)
	}
	want := []int{0, 3, 17, 200}
	if len(list) != len(want) {
		t.Fatalf("list count = %d, want %d", len(list), len(want))
	}
	for i, d := range list {
		if d.ID != want[i] {
			t.Errorf("list[%d].ID = %d, want %d", i, d.ID, want[i])
		}
	}
}

func TestUpdateDevice(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveDevice(&Device{ID: 5, Name: "Hall"}); err != nil {
		t.Fatal(err)
	}
	err := s.UpdateDevice(5, func(d *Device) error {
		d.FriendlyName = "Entrance"
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetDevice(5)
	if got.FriendlyName != "Entrance" || got.DisplayName() != "Entrance" {
		t.Errorf("friendly = %q", got.FriendlyName)
	}

	if err := s.UpdateDevice(99, func(*Device) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	boom := errors.New("boom")
	if err := s.UpdateDevice(5, func(d *Device) error {
		d.Name = "changed"
		return boom
	}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	got, _ = s.GetDevice(5)
	if got.Name != "Hall" {
		t.Errorf("name = %q, failed update was persisted", got.Name)
	}
}

func TestReplaceDevicesKeepsFriendlyNames(t *testing.T) {
	s := newTestStore(t)

	s.SaveDevice(&Device{ID: 0, Name: "Out 1", FriendlyName: "Kitchen"})
	s.SaveDevice(&Device{ID: 1, Name: "Out 2"})
	s.SaveDevice(&Device{ID: 9, Name: "Gone"})

	err := s.ReplaceDevices([]*Device{
		{ID: 0, Name: "Cuisine"},
		{ID: 1, Name: "Bureau", FriendlyName: "Office"},
	})
	if err != nil {
		t.Fatal(err)
	}

	list, err := s.ListDevices()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("list count = %d, want 2", len(list))
	}
	if list[0].Name != "Cuisine" || list[0].FriendlyName != "Kitchen" {
		t.Errorf("device 0 = %+v", list[0])
	}
	if list[1].FriendlyName != "Office" {
		t.Errorf("device 1 = %+v", list[1])
	}
	if _, err := s.GetDevice(9); !errors.Is(err, ErrNotFound) {
		t.Errorf("stale device kept: %v", err)
	}
}

func TestControllerInfo(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.GetControllerInfo(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	info := &ControllerInfo{
		Host:          "192.168.1.40",
		Port:          52001,
		MAC:           "00:11:22:33:44:55",
		DeviceCount:   24,
		LastDiscovery: time.Now().Truncate(time.Millisecond),
	}
	if err := s.SaveControllerInfo(info); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetControllerInfo()
	if err != nil {
		t.Fatal(err)
	}
	if got.Host != info.Host || got.Port != info.Port || got.MAC != info.MAC {
		t.Errorf("info = %+v", got)
	}
	if got.DeviceCount != 24 {
		t.Errorf("device_count = %d, want 24", got.DeviceCount)
	}
}
