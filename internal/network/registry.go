package network

import (
	"errors"
	"log/slog"
	"sync"
)

// idSpace is the number of distinct request IDs (0..254).
const idSpace = 255

// ErrDuplicateRequestID is returned when registering an ID that was not
// freshly allocated while another request still waits on it.
var ErrDuplicateRequestID = errors.New("duplicate request id")

// Registry tracks in-flight request IDs and the channels waiting on them.
//
// The one-byte ID space is shared by every caller, so an ID can come back
// around while a previous request on it never completed. Allocation skips busy
// IDs when it can, but it never blocks waiting for a free slot.
type Registry struct {
	mu       sync.Mutex
	last     uint8
	pending  map[uint8]chan []byte
	reserved map[uint8]struct{}
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. The first allocated ID is 1.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		pending:  make(map[uint8]chan []byte),
		reserved: make(map[uint8]struct{}),
		logger:   logger,
	}
}

// NextID advances the ID cycle without tracking the result.
// Used for fire-and-forget commands.
func (r *Registry) NextID() uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.advanceLocked()
}

// AllocateID advances the ID cycle and reserves the result for Register.
func (r *Registry) AllocateID() uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.advanceLocked()
	r.reserved[id] = struct{}{}
	return id
}

// advanceLocked picks the next ID, skipping IDs with a pending request when a
// free one exists within one full cycle.
func (r *Registry) advanceLocked() uint8 {
	first := (r.last + 1) % idSpace
	id := first
	for i := 0; i < idSpace; i++ {
		if _, busy := r.pending[id]; !busy {
			r.last = id
			return id
		}
		id = (id + 1) % idSpace
	}
	// Every ID is in flight: reuse the plain next one.
	r.last = first
	return first
}

// Register associates ch with id. A reserved ID always succeeds and replaces
// any stale entry left on it.
func (r *Registry) Register(id uint8, ch chan []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, prev := r.pending[id]
	if _, ok := r.reserved[id]; ok {
		delete(r.reserved, id)
		if prev {
			r.logger.Debug("request id reused while pending, replacing", "id", id)
		}
		r.pending[id] = ch
		return nil
	}
	if prev {
		return ErrDuplicateRequestID
	}
	r.pending[id] = ch
	return nil
}

// Resolve delivers payload to the request waiting on id and removes it.
// It never blocks and reports whether a request matched.
func (r *Registry) Resolve(id uint8, payload []byte) bool {
	r.mu.Lock()
	ch, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- payload:
	default:
	}
	return true
}

// Discard removes id without delivering anything.
func (r *Registry) Discard(id uint8) {
	r.mu.Lock()
	delete(r.pending, id)
	delete(r.reserved, id)
	r.mu.Unlock()
}

// release removes id only if it still belongs to ch, so a caller giving up
// late cannot remove a newer request that reused the ID.
func (r *Registry) release(id uint8, ch chan []byte) {
	r.mu.Lock()
	if cur, ok := r.pending[id]; ok && cur == ch {
		delete(r.pending, id)
	}
	delete(r.reserved, id)
	r.mu.Unlock()
}

// Pending returns the number of requests awaiting a reply.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
