//go:build linux
// +build linux

// File: reactor/event_linux.go
// Author: momentics <momentics@gmail.com>
//
// Readiness event object backed by a private epoll instance.

package reactor

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/momentics/usock/api"
)

// Event is the readiness-event object of one endpoint. It owns an epoll
// instance watching at most one socket plus an eventfd used to interrupt an
// isolated Wait. The epoll descriptor itself is what the Registry multiplexes.
type Event struct {
	mu        sync.Mutex
	epfd      int
	wakefd    int
	fd        int  // associated socket, -1 when none
	listening bool // EPOLLIN on fd means accept readiness
	closed    bool
}

// NewEvent allocates the epoll instance and the wake eventfd.
func NewEvent() (*Event, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("event epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("event eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("event epoll ctl add wake: %w", err)
	}
	return &Event{epfd: epfd, wakefd: wakefd, fd: -1}, nil
}

// Handle returns the OS handle the Registry waits on.
func (e *Event) Handle() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return -1
	}
	return e.epfd
}

// Socket returns the currently associated socket, or -1.
func (e *Event) Socket() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fd
}

// Associate binds fd to the event for accept/read/write/close readiness,
// replacing any previous association. listening selects whether input
// readiness is reported as ReadyAccept instead of ReadyRead.
func (e *Event) Associate(fd int, listening bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return api.ErrInterrupted
	}
	if e.fd >= 0 {
		// The old socket may already be closed, which removes it from epoll.
		_ = unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, e.fd, nil)
		e.fd = -1
	}
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLRDHUP | unix.EPOLLET,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("event associate fd %d: %w", fd, err)
	}
	e.fd = fd
	e.listening = listening
	return nil
}

// Dissociate drops the current socket from the event.
func (e *Event) Dissociate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fd >= 0 && !e.closed {
		_ = unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, e.fd, nil)
	}
	e.fd = -1
}

// Enumerate collects the readiness classes currently signalled without blocking.
// Reading them resets the event, like WSAEnumNetworkEvents.
func (e *Event) Enumerate() (api.Readiness, error) {
	return e.collect(0)
}

// Wait blocks on this event alone until a socket readiness class is signalled.
// It returns api.ErrInterrupted once Interrupt or Close has been called.
func (e *Event) Wait() (api.Readiness, error) {
	for {
		r, err := e.collect(-1)
		if err != nil || r != 0 {
			return r, err
		}
	}
}

// Interrupt wakes a goroutine blocked in Wait.
func (e *Event) Interrupt() error {
	var one = [8]byte{1}
	e.mu.Lock()
	wakefd := e.wakefd
	e.mu.Unlock()
	if wakefd < 0 {
		return nil
	}
	if _, err := unix.Write(wakefd, one[:]); err != nil && err != unix.EAGAIN {
		return fmt.Errorf("event interrupt: %w", err)
	}
	return nil
}

// Close releases the epoll instance and the wake descriptor.
// The associated socket is owned by the caller and left open.
func (e *Event) Close() error {
	if err := e.Interrupt(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.fd = -1
	err1 := unix.Close(e.epfd)
	err2 := unix.Close(e.wakefd)
	e.wakefd = -1
	if err1 != nil {
		return fmt.Errorf("event close epoll: %w", err1)
	}
	if err2 != nil {
		return fmt.Errorf("event close eventfd: %w", err2)
	}
	return nil
}

func (e *Event) collect(timeoutMs int) (api.Readiness, error) {
	var events [4]unix.EpollEvent
	e.mu.Lock()
	epfd, closed := e.epfd, e.closed
	e.mu.Unlock()
	if closed {
		return 0, api.ErrInterrupted
	}

	n, err := unix.EpollWait(epfd, events[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		e.mu.Lock()
		closed = e.closed
		e.mu.Unlock()
		if closed {
			return 0, api.ErrInterrupted
		}
		return 0, fmt.Errorf("event wait: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	var r api.Readiness
	interrupted := false
	for i := 0; i < n; i++ {
		ev := events[i]
		if int(ev.Fd) == e.wakefd {
			var buf [8]byte
			_, _ = unix.Read(e.wakefd, buf[:])
			interrupted = true
			continue
		}
		if int(ev.Fd) != e.fd {
			continue // stale socket from a previous association
		}
		r |= translate(ev.Events, e.listening)
	}
	if interrupted && r == 0 {
		return 0, api.ErrInterrupted
	}
	return r, nil
}

func translate(events uint32, listening bool) api.Readiness {
	var r api.Readiness
	if events&unix.EPOLLIN != 0 {
		if listening {
			r |= api.ReadyAccept
		} else {
			r |= api.ReadyRead
		}
	}
	if events&unix.EPOLLOUT != 0 && !listening {
		r |= api.ReadyWrite
	}
	if events&(unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 && !listening {
		r |= api.ReadyClose
	}
	return r
}
