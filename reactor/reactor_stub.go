//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import "github.com/momentics/usock/api"

// Event is unavailable on this platform.
type Event struct{}

// NewEvent returns api.ErrNotSupported on unsupported platforms.
func NewEvent() (*Event, error) { return nil, api.ErrNotSupported }

func (e *Event) Handle() int                            { return -1 }
func (e *Event) Socket() int                            { return -1 }
func (e *Event) Associate(fd int, listening bool) error { return api.ErrNotSupported }
func (e *Event) Dissociate()                            {}
func (e *Event) Enumerate() (api.Readiness, error)      { return 0, api.ErrNotSupported }
func (e *Event) Wait() (api.Readiness, error)           { return 0, api.ErrNotSupported }
func (e *Event) Interrupt() error                       { return nil }
func (e *Event) Close() error                           { return nil }

func newMultiplexer() (multiplexer, error) {
	return nil, api.ErrNotSupported
}
