// File: api/handler.go
// Package api defines the inbound payload contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

//go:generate go tool mockgen -destination=./mocks/handler_mock.go -package=mocks . InboundHandler,Replier

// Replier is the view of an endpoint handed to an InboundHandler.
type Replier interface {
	// Name returns the display name of the endpoint.
	Name() string
	// Enqueue appends payload to the endpoint's outbound queue.
	Enqueue(payload []byte) error
}

// InboundHandler is invoked from the dispatch loop for every received chunk.
// Implementations must not block: they run on the goroutine shared by all endpoints.
type InboundHandler interface {
	HandleInbound(ep Replier, payload []byte)
}

// InboundHandlerFunc adapts a function to InboundHandler.
type InboundHandlerFunc func(ep Replier, payload []byte)

// HandleInbound calls f(ep, payload).
func (f InboundHandlerFunc) HandleInbound(ep Replier, payload []byte) { f(ep, payload) }
