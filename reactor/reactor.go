// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral event registry with index-stable slots.

package reactor

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/momentics/usock/api"
)

// DefaultCapacity matches the historical fixed event table size.
const DefaultCapacity = 100

// multiplexer is the OS primitive behind Registry.Wait.
type multiplexer interface {
	add(slot int, ev *Event) error
	arm(slot int, ev *Event, armed bool) error
	remove(ev *Event) error
	wait() (slot int, err error)
	wake() error
	close() error
}

type slotEntry struct {
	ev    *Event
	armed bool
}

// Registry maps endpoint slots to readiness events and exposes a single
// multiplexed wait across every armed slot. Slots are never removed; they are
// bound, rebound in place and unbound.
type Registry struct {
	mu       sync.RWMutex
	capacity int
	slots    []slotEntry
	mux      multiplexer
	closed   atomic.Bool
}

// NewRegistry creates a registry admitting at most capacity slots.
// capacity <= 0 selects DefaultCapacity.
func NewRegistry(capacity int) (*Registry, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	mux, err := newMultiplexer()
	if err != nil {
		return nil, err
	}
	return &Registry{
		capacity: capacity,
		slots:    make([]slotEntry, 0, capacity),
		mux:      mux,
	}, nil
}

// Reserve appends an unbound slot and returns its index. It fails with
// api.ErrCapacityExceeded, leaving the table untouched, once the registry is full.
func (r *Registry) Reserve() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed.Load() {
		return -1, api.ErrRegistryClosed
	}
	if len(r.slots) >= r.capacity {
		return -1, api.Wrap(api.ErrCodeCapacity, api.ErrCapacityExceeded, "reserve slot").
			WithContext("capacity", r.capacity)
	}
	r.slots = append(r.slots, slotEntry{})
	return len(r.slots) - 1, nil
}

// Bind attaches ev to slot and arms it. A previously bound event is detached
// from the wait set first; the slot index never changes.
func (r *Registry) Bind(slot int, ev *Event) error {
	if ev == nil {
		return fmt.Errorf("%w: nil event", api.ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, err := r.entry(slot)
	if err != nil {
		return err
	}
	if entry.ev == ev {
		if !entry.armed {
			if err := r.mux.arm(slot, ev, true); err != nil {
				return err
			}
			entry.armed = true
		}
		return nil
	}
	if entry.ev != nil {
		_ = r.mux.remove(entry.ev)
	}
	if err := r.mux.add(slot, ev); err != nil {
		entry.ev, entry.armed = nil, false
		return err
	}
	entry.ev, entry.armed = ev, true
	return nil
}

// Unbind detaches the slot's event from the wait set. The slot stays reserved.
func (r *Registry) Unbind(slot int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, err := r.entry(slot)
	if err != nil {
		return err
	}
	if entry.ev == nil {
		return nil
	}
	err = r.mux.remove(entry.ev)
	entry.ev, entry.armed = nil, false
	return err
}

// Disarm keeps the binding but excludes the slot from the multiplexed wait.
func (r *Registry) Disarm(slot int) error { return r.setArmed(slot, false) }

// Arm re-includes a disarmed slot in the multiplexed wait.
func (r *Registry) Arm(slot int) error { return r.setArmed(slot, true) }

func (r *Registry) setArmed(slot int, armed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, err := r.entry(slot)
	if err != nil {
		return err
	}
	if entry.ev == nil {
		return fmt.Errorf("%w: slot %d is unbound", api.ErrInvalidArgument, slot)
	}
	if entry.armed == armed {
		return nil
	}
	if err := r.mux.arm(slot, entry.ev, armed); err != nil {
		return err
	}
	entry.armed = armed
	return nil
}

// Event returns the event bound to slot, or nil.
func (r *Registry) Event(slot int) *Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if slot < 0 || slot >= len(r.slots) {
		return nil
	}
	return r.slots[slot].ev
}

// Armed reports whether slot currently takes part in the multiplexed wait.
func (r *Registry) Armed(slot int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if slot < 0 || slot >= len(r.slots) {
		return false
	}
	return r.slots[slot].armed
}

// Len returns the number of reserved slots.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}

// Capacity returns the configured slot limit.
func (r *Registry) Capacity() int { return r.capacity }

// Wait blocks without timeout until one armed slot is signalled and returns
// its index. EINTR is retried internally. It returns api.ErrRegistryClosed
// after Close, api.ErrUnexpectedTimeout if the OS reports a timeout and an
// error wrapping api.ErrWaitFailed for any other failure.
func (r *Registry) Wait() (int, error) {
	if r.closed.Load() {
		return -1, api.ErrRegistryClosed
	}
	slot, err := r.mux.wait()
	if r.closed.Load() {
		return -1, api.ErrRegistryClosed
	}
	return slot, err
}

// Close wakes a blocked Wait; every later Wait returns api.ErrRegistryClosed.
// Events bound to slots belong to their endpoints and are not closed here.
func (r *Registry) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := r.mux.wake(); err != nil {
		return err
	}
	return nil
}

// Release frees the OS resources of a closed registry. It must be called
// once no goroutine is inside Wait.
func (r *Registry) Release() error {
	_ = r.Close()
	return r.mux.close()
}

// entry must be called with r.mu held.
func (r *Registry) entry(slot int) (*slotEntry, error) {
	if slot < 0 || slot >= len(r.slots) {
		return nil, fmt.Errorf("%w: slot %d out of range [0,%d)", api.ErrInvalidArgument, slot, len(r.slots))
	}
	return &r.slots[slot], nil
}
