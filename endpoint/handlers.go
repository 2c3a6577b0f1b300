// File: endpoint/handlers.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stock inbound handlers.

package endpoint

import (
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/momentics/usock/api"
)

// DefaultReplyPrefix is the reply text of the default handler.
const DefaultReplyPrefix = "Hey Client!"

// CounterReply answers every payload with prefix followed by a running
// count that starts at 1. The count is shared by every endpoint using the
// returned handler.
func CounterReply(prefix string) api.InboundHandler {
	return CounterReplyFunc(func() string { return prefix })
}

// CounterReplyFunc is CounterReply with the prefix read on every payload,
// so a reloaded configuration takes effect without a restart.
func CounterReplyFunc(prefix func() string) api.InboundHandler {
	var n atomic.Uint64
	return api.InboundHandlerFunc(func(ep api.Replier, payload []byte) {
		slog.Debug("received payload", "endpoint", ep.Name(), "payload", string(payload))
		reply := prefix() + strconv.FormatUint(n.Add(1), 10)
		if err := ep.Enqueue([]byte(reply)); err != nil {
			slog.Warn("reply dropped", "endpoint", ep.Name(), "err", err)
		}
	})
}

// Echo sends every payload back unchanged.
func Echo() api.InboundHandler {
	return api.InboundHandlerFunc(func(ep api.Replier, payload []byte) {
		if err := ep.Enqueue(payload); err != nil {
			slog.Warn("echo dropped", "endpoint", ep.Name(), "err", err)
		}
	})
}
