// File: endpoint/endpoint.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package endpoint

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/momentics/usock/api"
	"github.com/momentics/usock/internal/concurrency"
	"github.com/momentics/usock/reactor"
)

// MaxRecvSize is the receive scratch buffer size. One byte is kept in reserve,
// so a single Receive yields at most MaxRecvSize-1 payload bytes.
const MaxRecvSize = 1024

// ErrWouldBlock reports that a non-blocking socket has nothing to deliver.
var ErrWouldBlock = errors.New("endpoint: operation would block")

// Counter receives endpoint counters, e.g. control.MetricsRegistry.
type Counter interface {
	Add(key string, delta int64)
}

type sendFunc func(fd int, p []byte, to netip.AddrPort) (int, error)

// Endpoint owns one socket, its readiness event and its registry slot.
type Endpoint struct {
	cfg     api.EndpointConfig
	reg     *reactor.Registry
	slot    int
	queues  *concurrency.Pair
	handler api.InboundHandler
	logger  *slog.Logger
	counter Counter
	backoff func() backoff.BackOff
	send    sendFunc

	mu       sync.RWMutex // guards the descriptors, event and peer fields
	fd       int
	listenFD int
	event    *reactor.Event
	peer     netip.AddrPort // last UDP sender or accepted TCP peer
	peerID   uuid.UUID

	state     atomic.Int32
	connected atomic.Bool
	recon     supervisor
}

// Option customizes an Endpoint.
type Option func(*Endpoint)

// WithHandler sets the inbound handler. A nil handler queues payloads for
// NextInbound instead.
func WithHandler(h api.InboundHandler) Option {
	return func(e *Endpoint) { e.handler = h }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Endpoint) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithCounter records sent/received/failure/reconnect counters.
func WithCounter(c Counter) Option {
	return func(e *Endpoint) { e.counter = c }
}

// WithNotify registers fn to run after every outbound enqueue.
func WithNotify(fn func()) Option {
	return func(e *Endpoint) { e.queues = concurrency.NewPair(fn) }
}

// WithBackOff sets the retry policy for client redial and UDP rebind.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(e *Endpoint) {
		if fn != nil {
			e.backoff = fn
		}
	}
}

// New validates cfg and reserves the endpoint's registry slot. The slot index
// is fixed for the endpoint's lifetime. No socket is opened until Start.
func New(reg *reactor.Registry, cfg api.EndpointConfig, opts ...Option) (*Endpoint, error) {
	if reg == nil {
		return nil, fmt.Errorf("%w: nil registry", api.ErrInvalidArgument)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Endpoint{
		cfg:      cfg,
		reg:      reg,
		queues:   concurrency.NewPair(nil),
		handler:  CounterReply(DefaultReplyPrefix),
		logger:   slog.Default(),
		backoff:  defaultBackOff,
		send:     sendOn,
		fd:       invalidFD,
		listenFD: invalidFD,
	}
	for _, opt := range opts {
		opt(e)
	}
	slot, err := reg.Reserve()
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: %w", cfg.Name, err)
	}
	e.slot = slot
	e.logger = e.logger.With("endpoint", cfg.Name, "slot", slot)
	e.state.Store(int32(api.StateUnstarted))
	return e, nil
}

// Name returns the display name.
func (e *Endpoint) Name() string { return e.cfg.Name }

// Config returns the construction parameters. A zero port is replaced by
// the bound port once started.
func (e *Endpoint) Config() api.EndpointConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Slot returns the registry index assigned at construction.
func (e *Endpoint) Slot() int { return e.slot }

// State returns the current lifecycle state.
func (e *Endpoint) State() api.State { return api.State(e.state.Load()) }

// Connected reports whether the endpoint can transmit.
func (e *Endpoint) Connected() bool { return e.connected.Load() }

// PeerID identifies the current connection in logs. Empty until connected.
func (e *Endpoint) PeerID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.peerID == uuid.Nil {
		return ""
	}
	return e.peerID.String()
}

// LocalAddr returns the bound address of the live socket.
func (e *Endpoint) LocalAddr() netip.AddrPort {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.fd >= 0 {
		return localAddr(e.fd)
	}
	if e.listenFD >= 0 {
		return localAddr(e.listenFD)
	}
	return netip.AddrPort{}
}

// Start opens the socket according to protocol and role, creates the
// readiness event and binds it into the endpoint's slot. On failure nothing
// stays open and the slot stays unbound.
func (e *Endpoint) Start() error {
	switch e.State() {
	case api.StateUnstarted:
	case api.StateStopped:
		return api.ErrStopped
	default:
		return fmt.Errorf("%w: endpoint %s already started", api.ErrInvalidArgument, e.cfg.Name)
	}

	ev, err := reactor.NewEvent()
	if err != nil {
		return e.setupError(err, "create event")
	}
	fd, listening, err := e.open()
	if err != nil {
		_ = ev.Close()
		return e.setupError(err, "open socket")
	}
	if err := ev.Associate(fd, listening); err != nil {
		_ = closeFD(fd)
		_ = ev.Close()
		return e.setupError(err, "associate event")
	}

	e.mu.Lock()
	if e.cfg.Port == 0 {
		// Reconnection rebinds the port the kernel picked.
		e.cfg.Port = localAddr(fd).Port()
	}
	e.event = ev
	if listening {
		e.listenFD = fd
		e.state.Store(int32(api.StateListening))
	} else {
		e.fd = fd
		e.peerID = uuid.New()
		e.state.Store(int32(api.StateConnected))
		e.connected.Store(true)
	}
	e.mu.Unlock()

	if err := e.reg.Bind(e.slot, ev); err != nil {
		e.mu.Lock()
		_ = closeFD(e.fd)
		_ = closeFD(e.listenFD)
		e.fd, e.listenFD, e.event, e.peerID = invalidFD, invalidFD, nil, uuid.Nil
		e.connected.Store(false)
		e.state.Store(int32(api.StateUnstarted))
		e.mu.Unlock()
		_ = ev.Close()
		return e.setupError(err, "register event")
	}

	switch {
	case listening:
		e.logger.Info("tcp server awaiting connections", "addr", localAddr(fd))
	case e.cfg.Protocol == api.TCP:
		e.logger.Info("tcp client ready", "peer", e.cfg.AddrPort(), "peer_id", e.PeerID())
	default:
		e.logger.Info("udp socket ready", "addr", localAddr(fd))
	}
	return nil
}

// open performs exactly one of bind+listen, connect or bind.
func (e *Endpoint) open() (fd int, listening bool, err error) {
	ap := e.cfg.AddrPort()
	switch {
	case e.cfg.Protocol == api.TCP && e.cfg.Role == api.Server:
		fd, err = openTCPListener(ap)
		return fd, true, err
	case e.cfg.Protocol == api.TCP:
		fd, err = openTCPClient(ap)
		return fd, false, err
	default:
		fd, err = openUDP(ap)
		return fd, false, err
	}
}

func (e *Endpoint) setupError(err error, step string) error {
	e.logger.Error("endpoint setup failed", "step", step, "err", err)
	return api.Wrap(api.ErrCodeSetup, errors.Join(api.ErrSetup, err), step).
		WithContext("endpoint", e.cfg.Name)
}

// HandleEvent processes every readiness class currently signalled on the
// endpoint's event, in the order accept, read, close. Peer close hands the
// endpoint to the reconnection task and returns immediately.
func (e *Endpoint) HandleEvent() error {
	e.mu.RLock()
	ev := e.event
	e.mu.RUnlock()
	switch e.State() {
	case api.StateStopped:
		// Stop has not unbound the slot yet; consume the readiness so the
		// shared wait does not report it again.
		if ev != nil {
			_, _ = ev.Enumerate()
		}
		return api.ErrStopped
	case api.StateReconnecting, api.StateUnstarted:
		return nil
	}
	if ev == nil {
		return nil
	}

	ready, err := ev.Enumerate()
	if errors.Is(err, api.ErrInterrupted) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("endpoint %s: enumerate events: %w", e.cfg.Name, err)
	}

	var errs []error
	if ready.Has(api.ReadyAccept) {
		if err := e.acceptPeer(api.StateListening); err != nil && !errors.Is(err, ErrWouldBlock) {
			e.logger.Error("accept failed", "err", err)
			return fmt.Errorf("endpoint %s: %w", e.cfg.Name, err)
		}
	}
	closed := ready.Has(api.ReadyClose)
	if ready.Has(api.ReadyRead) {
		if err := e.drain(); err != nil {
			if errors.Is(err, api.ErrPeerClosed) {
				closed = true
			} else {
				errs = append(errs, err)
			}
		}
	}
	if closed {
		e.beginReconnect()
	}
	return errors.Join(errs...)
}

// drain receives until the socket would block; edge-triggered readiness
// is not repeated for data already pending.
func (e *Endpoint) drain() error {
	for {
		payload, err := e.Receive()
		if errors.Is(err, ErrWouldBlock) {
			return nil
		}
		if err != nil {
			return err
		}
		e.deliver(payload)
	}
}

// deliver hands payload to the handler, or queues it for NextInbound when
// there is none.
func (e *Endpoint) deliver(payload []byte) {
	if e.handler == nil {
		e.queues.Inbound.Push(payload)
		return
	}
	e.handler.HandleInbound(e, payload)
}

// Send transmits payload in one transport call. A short write is reported
// as api.ErrPartialSend and not retried.
func (e *Endpoint) Send(payload []byte) error {
	if e.State() == api.StateStopped {
		return api.ErrStopped
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.fd < 0 || !e.connected.Load() {
		return fmt.Errorf("%w: %s", api.ErrNotConnected, e.cfg.Name)
	}
	var to netip.AddrPort
	if e.cfg.Protocol == api.UDP {
		to = e.udpDestination()
		if !to.IsValid() {
			return fmt.Errorf("%w: %s has no datagram peer", api.ErrNotConnected, e.cfg.Name)
		}
	}
	n, err := e.send(e.fd, payload, to)
	if err != nil {
		e.count("send_failures", 1)
		e.logger.Warn("send failed", "err", err)
		return fmt.Errorf("%w: %s: %v", api.ErrSend, e.cfg.Name, err)
	}
	if n != len(payload) {
		e.count("send_failures", 1)
		e.logger.Warn("not all bytes were sent", "sent", n, "want", len(payload))
		return api.Wrap(api.ErrCodeTransient, api.ErrPartialSend, "send").
			WithContext("endpoint", e.cfg.Name).
			WithContext("sent", n).
			WithContext("want", len(payload))
	}
	e.count("sent", 1)
	e.logger.Debug("sent", "bytes", n)
	return nil
}

// udpDestination must be called with e.mu held.
func (e *Endpoint) udpDestination() netip.AddrPort {
	if e.peer.IsValid() {
		return e.peer
	}
	if e.cfg.Peer != "" {
		ap, _ := netip.ParseAddrPort(e.cfg.Peer)
		return ap
	}
	return netip.AddrPort{}
}

// Receive reads one chunk of at most MaxRecvSize-1 bytes. Zero bytes mean
// an orderly close and yield api.ErrPeerClosed; ErrWouldBlock means no data.
func (e *Endpoint) Receive() ([]byte, error) {
	if e.State() == api.StateStopped {
		return nil, api.ErrStopped
	}
	datagram := e.cfg.Protocol == api.UDP
	buf := make([]byte, MaxRecvSize)

	e.mu.RLock()
	fd := e.fd
	if fd < 0 {
		e.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s", api.ErrNotConnected, e.cfg.Name)
	}
	n, from, err := recvOn(fd, buf[:MaxRecvSize-1], datagram)
	e.mu.RUnlock()

	switch {
	case errors.Is(err, ErrWouldBlock):
		return nil, ErrWouldBlock
	case err != nil:
		e.logger.Warn("receive failed", "err", err)
		return nil, fmt.Errorf("%w: %s: %v", api.ErrReceive, e.cfg.Name, err)
	case n == 0:
		e.logger.Info("received 0 bytes, peer closed")
		return nil, fmt.Errorf("%w: %s", api.ErrPeerClosed, e.cfg.Name)
	}
	if datagram && from.IsValid() {
		e.mu.Lock()
		e.peer = from
		e.mu.Unlock()
	}
	e.count("received", 1)
	e.logger.Debug("received", "bytes", n)
	return buf[:n], nil
}

// Enqueue appends payload to the outbound queue.
func (e *Endpoint) Enqueue(payload []byte) error {
	if e.State() == api.StateStopped {
		return api.ErrStopped
	}
	e.queues.Outbound.Push(payload)
	return nil
}

// NextOutbound removes the head of the outbound queue.
func (e *Endpoint) NextOutbound() ([]byte, bool) { return e.queues.Outbound.Pop() }

// PendingOutbound returns the outbound queue length.
func (e *Endpoint) PendingOutbound() int { return e.queues.Outbound.Len() }

// NextInbound removes the head of the inbound queue.
func (e *Endpoint) NextInbound() ([]byte, bool) { return e.queues.Inbound.Pop() }

// Stop half-closes the stream, cancels and awaits any reconnection, then
// releases the socket, the event and the slot binding. Every step runs even
// if an earlier one fails; failures are joined. Stop is idempotent.
func (e *Endpoint) Stop() error {
	prev := api.State(e.state.Swap(int32(api.StateStopped)))
	if prev == api.StateStopped {
		return nil
	}
	e.connected.Store(false)
	e.recon.stop()
	e.connected.Store(false) // a reconnect finishing concurrently may have set it

	var errs []error
	if err := e.reg.Unbind(e.slot); err != nil {
		errs = append(errs, err)
	}

	e.mu.Lock()
	if e.fd >= 0 && e.cfg.Protocol == api.TCP {
		if err := shutdownWrite(e.fd); err != nil {
			errs = append(errs, err)
		}
	}
	if err := closeFD(e.fd); err != nil {
		errs = append(errs, err)
	}
	if err := closeFD(e.listenFD); err != nil {
		errs = append(errs, err)
	}
	if e.event != nil {
		if err := e.event.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.fd, e.listenFD, e.event = invalidFD, invalidFD, nil
	e.mu.Unlock()

	if err := errors.Join(errs...); err != nil {
		e.logger.Warn("stop completed with errors", "err", err)
		return fmt.Errorf("endpoint %s: stop: %w", e.cfg.Name, err)
	}
	e.logger.Info("endpoint stopped", "previous_state", prev)
	return nil
}

func (e *Endpoint) count(name string, delta int64) {
	if e.counter != nil {
		e.counter.Add("endpoint."+e.cfg.Name+"."+name, delta)
	}
}
