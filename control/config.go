// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Thread-safe configuration store with snapshot reads and reload listeners.

package control

import (
	"sync"
)

// ReloadFunc observes a document change.
type ReloadFunc func(prev, next Document)

// ConfigStore holds the live Document and notifies listeners on change.
type ConfigStore struct {
	mu        sync.RWMutex
	doc       Document
	listeners []ReloadFunc
}

// NewConfigStore initializes a store holding doc.
func NewConfigStore(doc Document) *ConfigStore {
	return &ConfigStore{doc: doc.clone()}
}

// Snapshot returns a copy of the current document.
func (cs *ConfigStore) Snapshot() Document {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.doc.clone()
}

// ReplyPrefix returns the current reply prefix.
func (cs *ConfigStore) ReplyPrefix() string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.doc.ReplyPrefix
}

// Update validates next, swaps it in and runs every listener with the lock
// released. An invalid document leaves the store unchanged.
func (cs *ConfigStore) Update(next Document) error {
	if err := next.Validate(); err != nil {
		return err
	}
	cs.mu.Lock()
	prev := cs.doc
	cs.doc = next.clone()
	listeners := append([]ReloadFunc{}, cs.listeners...)
	cs.mu.Unlock()

	for _, fn := range listeners {
		fn(prev, next.clone())
	}
	return nil
}

// OnReload registers a listener hook called after every Update.
func (cs *ConfigStore) OnReload(fn ReloadFunc) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}
