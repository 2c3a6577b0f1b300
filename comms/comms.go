// File: comms/comms.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package comms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/momentics/usock/api"
	"github.com/momentics/usock/endpoint"
	"github.com/momentics/usock/reactor"
)

// Interface owns a registry and every endpoint bound to it.
type Interface struct {
	reg     *reactor.Registry
	logger  *slog.Logger
	counter endpoint.Counter
	handler func() api.InboundHandler
	epOpts  []endpoint.Option

	mu        sync.RWMutex // guards endpoints
	endpoints []*endpoint.Endpoint

	wake chan struct{}
}

// Option customizes an Interface.
type Option func(*Interface)

// WithLogger sets the logger shared by the loops and every endpoint.
func WithLogger(l *slog.Logger) Option {
	return func(c *Interface) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCounter records endpoint counters into c.
func WithCounter(counter endpoint.Counter) Option {
	return func(c *Interface) { c.counter = counter }
}

// WithHandler sets a factory producing one inbound handler per added
// endpoint. A factory returning nil leaves payloads on the inbound queues.
func WithHandler(factory func() api.InboundHandler) Option {
	return func(c *Interface) { c.handler = factory }
}

// WithEndpointOptions appends options applied to every added endpoint.
func WithEndpointOptions(opts ...endpoint.Option) Option {
	return func(c *Interface) { c.epOpts = append(c.epOpts, opts...) }
}

// New creates an Interface whose registry admits capacity endpoints.
// capacity <= 0 selects reactor.DefaultCapacity.
func New(capacity int, opts ...Option) (*Interface, error) {
	reg, err := reactor.NewRegistry(capacity)
	if err != nil {
		return nil, fmt.Errorf("comms: create registry: %w", err)
	}
	c := &Interface{
		reg:    reg,
		logger: slog.Default(),
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "comms")
	return c, nil
}

// Add constructs an endpoint in the next registry slot. The socket is not
// opened until StartAll.
func (c *Interface) Add(cfg api.EndpointConfig) (*endpoint.Endpoint, error) {
	opts := []endpoint.Option{
		endpoint.WithLogger(c.logger),
		endpoint.WithNotify(c.signal),
	}
	if c.counter != nil {
		opts = append(opts, endpoint.WithCounter(c.counter))
	}
	if c.handler != nil {
		opts = append(opts, endpoint.WithHandler(c.handler()))
	}
	opts = append(opts, c.epOpts...)

	c.mu.Lock()
	defer c.mu.Unlock()
	ep, err := endpoint.New(c.reg, cfg, opts...)
	if err != nil {
		c.logger.Error("add endpoint failed", "endpoint", cfg.Name, "err", err)
		return nil, err
	}
	if ep.Slot() != len(c.endpoints) {
		return nil, fmt.Errorf("comms: slot %d does not match endpoint index %d", ep.Slot(), len(c.endpoints))
	}
	c.endpoints = append(c.endpoints, ep)
	c.logger.Info("endpoint added", "endpoint", cfg.Name, "slot", ep.Slot(), "config", cfg.String())
	return ep, nil
}

// Endpoint returns the endpoint at index i, or nil.
func (c *Interface) Endpoint(i int) *endpoint.Endpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i < 0 || i >= len(c.endpoints) {
		return nil
	}
	return c.endpoints[i]
}

// Endpoints returns the endpoint list in index order.
func (c *Interface) Endpoints() []*endpoint.Endpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*endpoint.Endpoint(nil), c.endpoints...)
}

// Len returns the number of endpoints.
func (c *Interface) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.endpoints)
}

// Registry exposes the underlying event registry.
func (c *Interface) Registry() *reactor.Registry { return c.reg }

// StartAll starts every endpoint in index order. The first failure stops
// that endpoint and is returned; endpoints already started keep running
// until StopAll.
func (c *Interface) StartAll() error {
	for _, ep := range c.Endpoints() {
		if ep.State() != api.StateUnstarted {
			continue
		}
		if err := ep.Start(); err != nil {
			_ = ep.Stop()
			c.logger.Error("endpoint failed to start", "endpoint", ep.Name(), "err", err)
			return fmt.Errorf("comms: start %s: %w", ep.Name(), err)
		}
	}
	return nil
}

// StopAll stops every endpoint. All endpoints are stopped even if some
// fail; the failures are joined.
func (c *Interface) StopAll() error {
	var errs []error
	for _, ep := range c.Endpoints() {
		if err := ep.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops every endpoint and releases the registry. Loops started by
// Run must have returned.
func (c *Interface) Close() error {
	return errors.Join(c.StopAll(), c.reg.Release())
}

// RunDispatcher waits on the registry and dispatches each signalled slot to
// its endpoint until ctx is cancelled. An endpoint failure is logged and
// dispatch continues; a failed wait ends the loop. Cancelling ctx closes the
// registry, so RunDispatcher runs at most once per Interface.
func (c *Interface) RunDispatcher(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = c.reg.Close() })
	defer stop()

	c.logger.Info("dispatcher started", "endpoints", c.Len())
	for {
		slot, err := c.reg.Wait()
		if errors.Is(err, api.ErrRegistryClosed) {
			c.logger.Info("dispatcher stopped")
			return nil
		}
		if err != nil {
			c.logger.Error("multiplexed wait failed", "err", err, "class", api.Classify(err))
			return err
		}
		ep := c.Endpoint(slot)
		if ep == nil {
			continue
		}
		if err := ep.HandleEvent(); err != nil && !errors.Is(err, api.ErrStopped) {
			c.logger.Warn("event handling failed", "endpoint", ep.Name(), "slot", slot, "err", err)
		}
	}
}

// signal wakes the sender loop. Extra signals coalesce.
func (c *Interface) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// RunSender drains outbound queues until ctx is cancelled. It blocks until
// an enqueue signals it, then sends one payload per endpoint per pass, in
// index order, until every queue is empty.
func (c *Interface) RunSender(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.wake:
		}
		for c.sendPass() > 0 {
			if ctx.Err() != nil {
				return nil
			}
		}
	}
}

// sendPass dequeues at most one payload per endpoint and sends it with the
// queue lock released. It returns the number of payloads dequeued.
func (c *Interface) sendPass() int {
	n := 0
	for _, ep := range c.Endpoints() {
		payload, ok := ep.NextOutbound()
		if !ok {
			continue
		}
		n++
		if err := ep.Send(payload); err != nil {
			c.logger.Warn("outbound payload dropped", "endpoint", ep.Name(), "bytes", len(payload), "err", err)
		}
	}
	return n
}

// Run runs the dispatcher and sender loops until ctx is cancelled or the
// dispatcher fails.
func (c *Interface) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.RunDispatcher(gctx) })
	g.Go(func() error { return c.RunSender(gctx) })
	return g.Wait()
}

// Status is a point-in-time view of one endpoint.
type Status struct {
	Name      string         `json:"name"`
	Slot      int            `json:"slot"`
	Protocol  string         `json:"protocol"`
	Role      string         `json:"role"`
	State     string         `json:"state"`
	Connected bool           `json:"connected"`
	PeerID    string         `json:"peer_id,omitempty"`
	LocalAddr netip.AddrPort `json:"local_addr"`
	Pending   int            `json:"pending_outbound"`
}

// Snapshot returns the status of every endpoint in index order.
func (c *Interface) Snapshot() []Status {
	eps := c.Endpoints()
	out := make([]Status, 0, len(eps))
	for _, ep := range eps {
		cfg := ep.Config()
		out = append(out, Status{
			Name:      ep.Name(),
			Slot:      ep.Slot(),
			Protocol:  cfg.Protocol.String(),
			Role:      cfg.Role.String(),
			State:     ep.State().String(),
			Connected: ep.Connected(),
			PeerID:    ep.PeerID(),
			LocalAddr: ep.LocalAddr(),
			Pending:   ep.PendingOutbound(),
		})
	}
	return out
}
