// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package endpoint implements one socket's lifecycle: open as TCP server,
// TCP client or UDP peer, event handling, transmit, receive and close.
//
// An Endpoint reserves a registry slot at construction and keeps it for its
// whole life. A peer close moves it to a reconnection task that waits on the
// endpoint's own event while the slot is disarmed; the other endpoints of
// the registry keep being served meanwhile.
package endpoint
