// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations, DTOs, and constants.

package api

import (
	"fmt"
	"net/netip"
	"strings"
)

// Protocol selects the transport of an endpoint.
type Protocol int

const (
	TCP Protocol = iota
	UDP
)

func (p Protocol) String() string {
	switch p {
	case TCP:
		return "tcp"
	case UDP:
		return "udp"
	default:
		return "unknown"
	}
}

// ParseProtocol accepts "tcp" or "udp" in any case.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(s) {
	case "tcp":
		return TCP, nil
	case "udp":
		return UDP, nil
	}
	return 0, fmt.Errorf("%w: protocol %q", ErrInvalidArgument, s)
}

// Role selects which side of a connection an endpoint plays.
type Role int

const (
	Client Role = iota
	Server
)

func (r Role) String() string {
	switch r {
	case Client:
		return "client"
	case Server:
		return "server"
	default:
		return "unknown"
	}
}

// ParseRole accepts "client" or "server" in any case.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(s) {
	case "client":
		return Client, nil
	case "server":
		return Server, nil
	}
	return 0, fmt.Errorf("%w: role %q", ErrInvalidArgument, s)
}

// State enumerates the lifecycle of an endpoint.
type State int32

const (
	StateUnstarted State = iota
	StateListening
	StateConnected
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateListening:
		return "listening"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Readiness is a bitmask of socket readiness classes reported by an event.
type Readiness uint8

const (
	ReadyAccept Readiness = 1 << iota
	ReadyRead
	ReadyWrite
	ReadyClose
)

// Has reports whether all bits of mask are set.
func (r Readiness) Has(mask Readiness) bool { return r&mask == mask }

func (r Readiness) String() string {
	if r == 0 {
		return "none"
	}
	var parts []string
	if r.Has(ReadyAccept) {
		parts = append(parts, "accept")
	}
	if r.Has(ReadyRead) {
		parts = append(parts, "read")
	}
	if r.Has(ReadyWrite) {
		parts = append(parts, "write")
	}
	if r.Has(ReadyClose) {
		parts = append(parts, "close")
	}
	return strings.Join(parts, "|")
}

// EndpointConfig holds the construction parameters of one endpoint.
type EndpointConfig struct {
	Protocol Protocol
	Role     Role
	Address  string // IPv4 address to bind (server, UDP) or connect to (TCP client)
	Port     uint16 // 0 binds an ephemeral port (server, UDP)
	Name     string // display name used in logs and metrics

	// Peer is the default destination of a UDP endpoint until a datagram
	// has been received. Optional.
	Peer string
}

// Validate checks the parameters without touching the network.
func (c EndpointConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: endpoint name is empty", ErrInvalidArgument)
	}
	if c.Protocol != TCP && c.Protocol != UDP {
		return fmt.Errorf("%w: endpoint %s: protocol %d", ErrInvalidArgument, c.Name, c.Protocol)
	}
	if c.Role != Client && c.Role != Server {
		return fmt.Errorf("%w: endpoint %s: role %d", ErrInvalidArgument, c.Name, c.Role)
	}
	if c.Port == 0 && c.Protocol == TCP && c.Role == Client {
		return fmt.Errorf("%w: endpoint %s: TCP client needs a port", ErrInvalidArgument, c.Name)
	}
	addr, err := netip.ParseAddr(c.Address)
	if err != nil || !addr.Is4() {
		return fmt.Errorf("%w: endpoint %s: address %q is not IPv4", ErrInvalidArgument, c.Name, c.Address)
	}
	if c.Peer != "" {
		if _, err := netip.ParseAddrPort(c.Peer); err != nil {
			return fmt.Errorf("%w: endpoint %s: peer %q: %v", ErrInvalidArgument, c.Name, c.Peer, err)
		}
	}
	return nil
}

// AddrPort returns the configured address and port.
func (c EndpointConfig) AddrPort() netip.AddrPort {
	addr, _ := netip.ParseAddr(c.Address)
	return netip.AddrPortFrom(addr, c.Port)
}

func (c EndpointConfig) String() string {
	return fmt.Sprintf("%s %s/%s %s", c.Name, c.Protocol, c.Role, c.AddrPort())
}
