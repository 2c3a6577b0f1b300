//go:build linux
// +build linux

// File: endpoint/socket_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Raw IPv4 socket primitives over golang.org/x/sys/unix.

package endpoint

import (
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"
)

const invalidFD = -1

func sockaddr(ap netip.AddrPort) *unix.SockaddrInet4 {
	return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: ap.Addr().As4()}
}

func addrPort(sa unix.Sockaddr) netip.AddrPort {
	if sa4, ok := sa.(*unix.SockaddrInet4); ok {
		return netip.AddrPortFrom(netip.AddrFrom4(sa4.Addr), uint16(sa4.Port))
	}
	return netip.AddrPort{}
}

// openTCPListener binds and listens with a backlog of one. It does not accept.
func openTCPListener(ap netip.AddrPort) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return invalidFD, fmt.Errorf("socket: %w", err)
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	if err := unix.Bind(fd, sockaddr(ap)); err != nil {
		_ = unix.Close(fd)
		return invalidFD, fmt.Errorf("bind %s: %w", ap, err)
	}
	if err := unix.Listen(fd, 1); err != nil {
		_ = unix.Close(fd)
		return invalidFD, fmt.Errorf("listen %s: %w", ap, err)
	}
	return fd, nil
}

// openTCPClient connects synchronously, then switches the socket to non-blocking mode.
func openTCPClient(ap netip.AddrPort) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return invalidFD, fmt.Errorf("socket: %w", err)
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	for {
		err = unix.Connect(fd, sockaddr(ap))
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		_ = unix.Close(fd)
		return invalidFD, fmt.Errorf("connect %s: %w", ap, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return invalidFD, fmt.Errorf("set nonblock: %w", err)
	}
	return fd, nil
}

// openUDP binds a connectionless datagram socket.
func openUDP(ap netip.AddrPort) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_UDP)
	if err != nil {
		return invalidFD, fmt.Errorf("socket: %w", err)
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	if err := unix.Bind(fd, sockaddr(ap)); err != nil {
		_ = unix.Close(fd)
		return invalidFD, fmt.Errorf("bind %s: %w", ap, err)
	}
	return fd, nil
}

func acceptConn(lfd int) (int, netip.AddrPort, error) {
	for {
		nfd, sa, err := unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch err {
		case nil:
			_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
			return nfd, addrPort(sa), nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return invalidFD, netip.AddrPort{}, ErrWouldBlock
		default:
			return invalidFD, netip.AddrPort{}, fmt.Errorf("accept: %w", err)
		}
	}
}

// sendOn issues exactly one transport call and reports the byte count accepted.
func sendOn(fd int, p []byte, to netip.AddrPort) (int, error) {
	var sa unix.Sockaddr
	if to.IsValid() {
		sa = sockaddr(to)
	}
	n, err := unix.SendmsgN(fd, p, nil, sa, unix.MSG_NOSIGNAL)
	if err == unix.EAGAIN {
		return n, fmt.Errorf("socket buffer full: %w", err)
	}
	return n, err
}

// recvOn reads once. Datagram sockets report the sender.
func recvOn(fd int, p []byte, datagram bool) (int, netip.AddrPort, error) {
	for {
		var (
			n    int
			from netip.AddrPort
			err  error
		)
		if datagram {
			var sa unix.Sockaddr
			n, sa, err = unix.Recvfrom(fd, p, 0)
			from = addrPort(sa)
		} else {
			n, err = unix.Read(fd, p)
		}
		switch err {
		case nil:
			return n, from, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, from, ErrWouldBlock
		default:
			return 0, from, err
		}
	}
}

func localAddr(fd int) netip.AddrPort {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return netip.AddrPort{}
	}
	return addrPort(sa)
}

func shutdownWrite(fd int) error {
	if err := unix.Shutdown(fd, unix.SHUT_WR); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func closeFD(fd int) error {
	if fd < 0 {
		return nil
	}
	if err := unix.Close(fd); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}
