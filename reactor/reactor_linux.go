//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based multiplexer over per-endpoint event descriptors.

package reactor

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/momentics/usock/api"
)

const wakeSlot = -1

// linuxMultiplexer waits on the epoll descriptors of every bound Event.
// The slot index travels in the epoll user data.
type linuxMultiplexer struct {
	epfd   int
	wakefd int
	once   sync.Once
}

func newMultiplexer() (multiplexer, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: wakeSlot}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add wake: %w", err)
	}
	return &linuxMultiplexer{epfd: epfd, wakefd: wakefd}, nil
}

func (m *linuxMultiplexer) add(slot int, ev *Event) error {
	h := ev.Handle()
	if h < 0 {
		return fmt.Errorf("%w: event already closed", api.ErrInvalidArgument)
	}
	e := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(slot)}
	if err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_ADD, h, &e); err != nil {
		return fmt.Errorf("epoll ctl add slot %d: %w", slot, err)
	}
	return nil
}

func (m *linuxMultiplexer) arm(slot int, ev *Event, armed bool) error {
	h := ev.Handle()
	if h < 0 {
		return fmt.Errorf("%w: event already closed", api.ErrInvalidArgument)
	}
	e := unix.EpollEvent{Fd: int32(slot)}
	if armed {
		e.Events = unix.EPOLLIN
	}
	if err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_MOD, h, &e); err != nil {
		return fmt.Errorf("epoll ctl mod slot %d: %w", slot, err)
	}
	return nil
}

func (m *linuxMultiplexer) remove(ev *Event) error {
	h := ev.Handle()
	if h < 0 {
		// Closing an epoll descriptor already removed it from our set.
		return nil
	}
	if err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, h, nil); err != nil && err != unix.ENOENT {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

func (m *linuxMultiplexer) wait() (int, error) {
	var events [1]unix.EpollEvent
	for {
		n, err := unix.EpollWait(m.epfd, events[:], -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return -1, fmt.Errorf("%w: epoll wait: %v", api.ErrWaitFailed, err)
		}
		if n == 0 {
			return -1, api.ErrUnexpectedTimeout
		}
		if events[0].Fd == wakeSlot {
			var buf [8]byte
			_, _ = unix.Read(m.wakefd, buf[:])
			return -1, api.ErrRegistryClosed
		}
		return int(events[0].Fd), nil
	}
}

func (m *linuxMultiplexer) wake() error {
	one := [8]byte{1}
	if _, err := unix.Write(m.wakefd, one[:]); err != nil && err != unix.EAGAIN {
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

func (m *linuxMultiplexer) close() error {
	var err error
	m.once.Do(func() {
		err1 := unix.Close(m.epfd)
		err2 := unix.Close(m.wakefd)
		if err1 != nil {
			err = fmt.Errorf("epoll close: %w", err1)
		} else if err2 != nil {
			err = fmt.Errorf("eventfd close: %w", err2)
		}
	})
	return err
}
