// File: internal/concurrency/fifo.go
// Package concurrency provides the lock-guarded payload queues of an endpoint.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// FIFO wraps github.com/eapache/queue, a ring-buffer queue that grows on
// demand, behind a mutex owned by that queue alone.

package concurrency

import (
	"sync"

	"github.com/eapache/queue"
)

// FIFO is an unbounded first-in first-out queue of payloads.
// Each operation takes the lock once; no lock is shared between queues.
type FIFO struct {
	mu     sync.Mutex
	q      *queue.Queue
	notify func()
}

// NewFIFO creates an empty queue. notify, if non-nil, runs after every Push
// with the lock released.
func NewFIFO(notify func()) *FIFO {
	return &FIFO{q: queue.New(), notify: notify}
}

// Push appends payload at the tail. The slice is stored as given.
func (f *FIFO) Push(payload []byte) {
	f.mu.Lock()
	f.q.Add(payload)
	f.mu.Unlock()
	if f.notify != nil {
		f.notify()
	}
}

// Pop removes and returns the head payload.
func (f *FIFO) Pop() ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.q.Length() == 0 {
		return nil, false
	}
	return f.q.Remove().([]byte), true
}

// Len returns the number of queued payloads.
func (f *FIFO) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.q.Length()
}

// Drain removes every queued payload in order.
func (f *FIFO) Drain() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, 0, f.q.Length())
	for f.q.Length() > 0 {
		out = append(out, f.q.Remove().([]byte))
	}
	return out
}

// Pair is the outbound/inbound queue pair of one endpoint.
type Pair struct {
	Outbound *FIFO
	Inbound  *FIFO
}

// NewPair creates a pair whose outbound pushes call notify.
func NewPair(notify func()) *Pair {
	return &Pair{
		Outbound: NewFIFO(notify),
		Inbound:  NewFIFO(nil),
	}
}
