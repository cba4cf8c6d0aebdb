package network

import (
	"errors"
	"io"
	"log/slog"
	"testing"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRegistryIDCycle(t *testing.T) {
	r := NewRegistry(newTestLogger())

	if id := r.NextID(); id != 1 {
		t.Fatalf("first id = %d, want 1", id)
	}
	// 2..254, then wrap to 0.
	var last uint8
	for i := 0; i < 253; i++ {
		last = r.NextID()
	}
	if last != 254 {
		t.Fatalf("id before wrap = %d, want 254", last)
	}
	if id := r.NextID(); id != 0 {
		t.Fatalf("wrapped id = %d, want 0", id)
	}
	if id := r.NextID(); id != 1 {
		t.Fatalf("id after wrap = %d, want 1", id)
	}
}

func TestRegistrySkipsBusyIDs(t *testing.T) {
	r := NewRegistry(newTestLogger())

	id := r.AllocateID()
	if err := r.Register(id, make(chan []byte, 1)); err != nil {
		t.Fatal(err)
	}
	// Walk the cycle back around to the busy id.
	for i := 0; i < idSpace-1; i++ {
		r.NextID()
	}
	got := r.AllocateID()
	if got == id {
		t.Fatalf("allocated busy id %d", id)
	}
	if got != (id+1)%idSpace {
		t.Errorf("allocated %d, want %d", got, (id+1)%idSpace)
	}
}

func TestRegistryDuplicateRegister(t *testing.T) {
	r := NewRegistry(newTestLogger())

	if err := r.Register(7, make(chan []byte, 1)); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(7, make(chan []byte, 1)); !errors.Is(err, ErrDuplicateRequestID) {
		t.Fatalf("err = %v, want ErrDuplicateRequestID", err)
	}
	if r.Pending() != 1 {
		t.Errorf("pending = %d, want 1", r.Pending())
	}
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry(newTestLogger())
	ch := make(chan []byte, 1)
	id := r.AllocateID()
	if err := r.Register(id, ch); err != nil {
		t.Fatal(err)
	}

	if !r.Resolve(id, []byte{1, 2}) {
		t.Fatal("Resolve returned false")
	}
	if got := <-ch; len(got) != 2 {
		t.Errorf("payload = %v", got)
	}
	if r.Resolve(id, []byte{3}) {
		t.Error("second Resolve matched")
	}
	if r.Pending() != 0 {
		t.Errorf("pending = %d, want 0", r.Pending())
	}
}

func TestRegistryDiscard(t *testing.T) {
	r := NewRegistry(newTestLogger())
	id := r.AllocateID()
	if err := r.Register(id, make(chan []byte, 1)); err != nil {
		t.Fatal(err)
	}
	r.Discard(id)
	if r.Resolve(id, nil) {
		t.Error("Resolve matched a discarded id")
	}
}

func TestRegistryReleaseKeepsNewerRequest(t *testing.T) {
	r := NewRegistry(newTestLogger())
	old := make(chan []byte, 1)
	if err := r.Register(9, old); err != nil {
		t.Fatal(err)
	}
	r.Discard(9)

	fresh := make(chan []byte, 1)
	if err := r.Register(9, fresh); err != nil {
		t.Fatal(err)
	}
	r.release(9, old)
	if !r.Resolve(9, []byte{42}) {
		t.Fatal("newer request was removed by a stale release")
	}
	select {
	case got := <-fresh:
		if got[0] != 42 {
			t.Errorf("payload = %v", got)
		}
	default:
		t.Fatal("fresh channel got nothing")
	}
	select {
	case <-old:
		t.Fatal("stale channel received a reply")
	default:
	}
}

func TestRegistryReservedReplacesStale(t *testing.T) {
	r := NewRegistry(newTestLogger())
	for i := 0; i < idSpace; i++ {
		id := r.AllocateID()
		if err := r.Register(id, make(chan []byte, 1)); err != nil {
			t.Fatalf("register %d: %v", id, err)
		}
	}
	if r.Pending() != idSpace {
		t.Fatalf("pending = %d, want %d", r.Pending(), idSpace)
	}

	// Every id is busy: allocation reuses the next one and replaces it.
	id := r.AllocateID()
	ch := make(chan []byte, 1)
	if err := r.Register(id, ch); err != nil {
		t.Fatalf("register reused id: %v", err)
	}
	r.Resolve(id, []byte{1})
	if len(ch) != 1 {
		t.Error("reply not delivered to the replacing request")
	}
}
