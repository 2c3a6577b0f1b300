//go:build !linux
// +build !linux

// File: endpoint/socket_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub socket primitives for unsupported platforms.

package endpoint

import (
	"net/netip"

	"github.com/momentics/usock/api"
)

const invalidFD = -1

func openTCPListener(netip.AddrPort) (int, error) { return invalidFD, api.ErrNotSupported }
func openTCPClient(netip.AddrPort) (int, error)   { return invalidFD, api.ErrNotSupported }
func openUDP(netip.AddrPort) (int, error)         { return invalidFD, api.ErrNotSupported }

func acceptConn(int) (int, netip.AddrPort, error) {
	return invalidFD, netip.AddrPort{}, api.ErrNotSupported
}

func sendOn(int, []byte, netip.AddrPort) (int, error) { return 0, api.ErrNotSupported }

func recvOn(int, []byte, bool) (int, netip.AddrPort, error) {
	return 0, netip.AddrPort{}, api.ErrNotSupported
}

func localAddr(int) netip.AddrPort { return netip.AddrPort{} }
func shutdownWrite(int) error      { return api.ErrNotSupported }
func closeFD(int) error            { return nil }
