// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides readiness events, the fixed-policy event registry
// and the multiplexed wait that dispatches one signalled slot per wake-up.
//
// Every endpoint owns one Event. The Registry keeps the events in index-stable
// slots and waits on all armed slots at once; a slot can be disarmed so that
// its owner waits on the Event in isolation while the rest keep being served.
// The Linux implementation nests one epoll instance per Event inside the
// Registry's epoll instance. Other platforms return api.ErrNotSupported.
package reactor
