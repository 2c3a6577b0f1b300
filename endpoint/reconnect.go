// File: endpoint/reconnect.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Reconnection runs on its own goroutine while the endpoint's slot is
// disarmed, so the shared dispatch loop keeps serving the other endpoints.

package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/momentics/usock/api"
	"github.com/momentics/usock/reactor"
)

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return b
}

// supervisor owns at most one reconnection task.
type supervisor struct {
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// launch starts fn unless the supervisor was stopped. A previous task can
// only be past its last state change here, so launch waits for it to exit.
func (s *supervisor) launch(fn func(ctx context.Context)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if s.done != nil {
		<-s.done
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	go func() {
		defer close(done)
		defer cancel()
		fn(ctx)
	}()
	return true
}

// stop cancels the running task and waits for it to return.
func (s *supervisor) stop() {
	s.mu.Lock()
	s.stopped = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// running reports whether a task is in flight.
func (s *supervisor) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// beginReconnect releases the dead connection and hands the endpoint to the
// reconnection task. It is a no-op unless the endpoint is connected.
func (e *Endpoint) beginReconnect() {
	if !e.state.CompareAndSwap(int32(api.StateConnected), int32(api.StateReconnecting)) {
		return
	}
	e.connected.Store(false)
	if err := e.reg.Disarm(e.slot); err != nil {
		e.logger.Warn("disarm slot failed", "err", err)
	}

	e.mu.Lock()
	ev := e.event
	if ev != nil {
		ev.Dissociate()
	}
	_ = closeFD(e.fd)
	e.fd = invalidFD
	e.peer = netip.AddrPort{}
	e.peerID = uuid.Nil
	e.mu.Unlock()

	e.count("reconnects", 1)
	e.logger.Info("connection lost, reconnecting")
	if ev == nil || !e.recon.launch(func(ctx context.Context) { e.reconnect(ctx, ev) }) {
		e.logger.Debug("reconnection not started")
	}
}

func (e *Endpoint) reconnect(ctx context.Context, ev *reactor.Event) {
	stopWake := context.AfterFunc(ctx, func() { _ = ev.Interrupt() })
	defer stopWake()

	var err error
	if e.cfg.Protocol == api.TCP && e.cfg.Role == api.Server {
		err = e.relisten(ctx, ev)
	} else {
		err = e.redial(ctx, ev)
	}
	if err != nil {
		if ctx.Err() == nil && !errors.Is(err, api.ErrStopped) {
			e.logger.Error("reconnection abandoned", "err", err)
		}
		return
	}
	if err := e.reg.Arm(e.slot); err != nil {
		e.logger.Error("re-arm slot failed", "err", err)
		return
	}
	e.logger.Info("reconnected", "peer_id", e.PeerID())
}

// retry runs open until it yields a socket or ctx is cancelled.
func (e *Endpoint) retry(ctx context.Context, what string, open func(netip.AddrPort) (int, error)) (int, error) {
	ap := e.cfg.AddrPort()
	return backoff.Retry(ctx, func() (int, error) { return open(ap) },
		backoff.WithBackOff(e.backoff()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			e.logger.Warn(what+" failed, retrying", "err", err, "next", next)
		}),
	)
}

// relisten re-opens the listener in place and blocks on this endpoint's
// event alone until one peer has been accepted.
func (e *Endpoint) relisten(ctx context.Context, ev *reactor.Event) error {
	lfd, err := e.retry(ctx, "listen", openTCPListener)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.listenFD = lfd
	err = ev.Associate(lfd, true)
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("associate listener: %w", err)
	}
	e.logger.Info("tcp server awaiting connections", "addr", localAddr(lfd))

	for {
		ready, err := ev.Wait()
		if errors.Is(err, api.ErrInterrupted) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		if err != nil {
			return err
		}
		if !ready.Has(api.ReadyAccept) {
			continue
		}
		switch err := e.acceptPeer(api.StateReconnecting); {
		case err == nil:
			return nil
		case errors.Is(err, ErrWouldBlock):
		case errors.Is(err, api.ErrStopped):
			return err
		default:
			e.logger.Warn("accept failed, waiting for next peer", "err", err)
		}
	}
}

// redial re-opens a TCP client or UDP socket with backoff.
func (e *Endpoint) redial(ctx context.Context, ev *reactor.Event) error {
	open := openTCPClient
	if e.cfg.Protocol == api.UDP {
		open = openUDP
	}
	fd, err := e.retry(ctx, "reconnect", open)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := ev.Associate(fd, false); err != nil {
		_ = closeFD(fd)
		return fmt.Errorf("associate socket: %w", err)
	}
	if !e.state.CompareAndSwap(int32(api.StateReconnecting), int32(api.StateConnected)) {
		ev.Dissociate()
		_ = closeFD(fd)
		return api.ErrStopped
	}
	e.fd = fd
	e.peerID = uuid.New()
	e.connected.Store(true)
	return nil
}

// acceptPeer accepts one pending connection, moves the event onto it and
// releases the listener. from is the state the caller expects to leave.
func (e *Endpoint) acceptPeer(from api.State) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listenFD < 0 || e.event == nil {
		return ErrWouldBlock
	}
	nfd, peer, err := acceptConn(e.listenFD)
	if err != nil {
		return err
	}
	if err := e.event.Associate(nfd, false); err != nil {
		_ = closeFD(nfd)
		return fmt.Errorf("associate accepted socket: %w", err)
	}
	if !e.state.CompareAndSwap(int32(from), int32(api.StateConnected)) {
		e.event.Dissociate()
		_ = closeFD(nfd)
		return api.ErrStopped
	}
	_ = closeFD(e.listenFD)
	e.listenFD = invalidFD
	e.fd = nfd
	e.peer = peer
	e.peerID = uuid.New()
	e.connected.Store(true)
	e.logger.Info("accepted connection", "peer", peer, "peer_id", e.peerID.String())
	return nil
}
