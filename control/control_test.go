package control

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/usock/api"
)

const sample = `
registry_capacity: 4
log_level: debug
reply_mode: echo
endpoints:
  - name: tcp-in
    protocol: tcp
    role: server
    address: 127.0.0.1
    port: 9000
  - name: udp-out
    protocol: UDP
    role: client
    address: 127.0.0.1
    port: 0
    peer: 127.0.0.1:9001
`

func TestDefaultDocument(t *testing.T) {
	doc := DefaultDocument()
	require.NoError(t, doc.Validate())
	cfgs, err := doc.EndpointConfigs()
	require.NoError(t, err)
	require.Len(t, cfgs, 1)
	assert.Equal(t, api.EndpointConfig{
		Protocol: api.TCP, Role: api.Server, Address: "127.0.0.1", Port: 8080,
		Name: "Universal_Socket->Socket_Tester",
	}, cfgs[0])
	assert.Equal(t, ReplyCounter, doc.ReplyMode)
}

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, 4, doc.RegistryCapacity)
	assert.Equal(t, slog.LevelDebug, doc.Level())
	assert.Equal(t, ReplyEcho, doc.ReplyMode)
	assert.Equal(t, "Hey Client!", doc.ReplyPrefix, "unset keys keep defaults")

	cfgs, err := doc.EndpointConfigs()
	require.NoError(t, err)
	require.Len(t, cfgs, 2)
	assert.Equal(t, api.UDP, cfgs[1].Protocol)
	assert.Equal(t, api.Client, cfgs[1].Role)
	assert.Equal(t, "127.0.0.1:9001", cfgs[1].Peer)
}

func TestParse_Empty(t *testing.T) {
	doc, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultDocument(), doc)
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":    "bogus: 1\n",
		"bad protocol":   "endpoints:\n  - {name: a, protocol: sctp, role: server, address: 127.0.0.1, port: 1}\n",
		"bad role":       "endpoints:\n  - {name: a, protocol: tcp, role: peer, address: 127.0.0.1, port: 1}\n",
		"ipv6":           "endpoints:\n  - {name: a, protocol: tcp, role: server, address: '::1', port: 1}\n",
		"client port 0":  "endpoints:\n  - {name: a, protocol: tcp, role: client, address: 127.0.0.1, port: 0}\n",
		"duplicate name": "endpoints:\n  - {name: a, protocol: udp, role: server, address: 127.0.0.1}\n  - {name: a, protocol: udp, role: server, address: 127.0.0.1}\n",
		"no endpoints":   "endpoints: []\n",
		"reply mode":     "reply_mode: shout\n",
		"log level":      "log_level: loud\n",
		"log format":     "log_format: xml\n",
		"over capacity":  "registry_capacity: 1\nendpoints:\n  - {name: a, protocol: udp, role: server, address: 127.0.0.1}\n  - {name: b, protocol: udp, role: server, address: 127.0.0.1}\n",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(in))
			require.Error(t, err)
		})
	}
}

func TestConfigStore_UpdateNotifiesAndRejectsInvalid(t *testing.T) {
	cs := NewConfigStore(DefaultDocument())
	var got []string
	cs.OnReload(func(prev, next Document) { got = append(got, prev.ReplyPrefix+"->"+next.ReplyPrefix) })

	next := cs.Snapshot()
	next.ReplyPrefix = "Hi!"
	require.NoError(t, cs.Update(next))
	assert.Equal(t, "Hi!", cs.ReplyPrefix())

	bad := cs.Snapshot()
	bad.ReplyMode = "nope"
	require.ErrorIs(t, cs.Update(bad), api.ErrInvalidArgument)
	assert.Equal(t, "Hi!", cs.ReplyPrefix())
	assert.Equal(t, []string{"Hey Client!->Hi!"}, got)
}

func TestConfigStore_SnapshotIsACopy(t *testing.T) {
	cs := NewConfigStore(DefaultDocument())
	snap := cs.Snapshot()
	snap.Endpoints[0].Port = 1
	assert.Equal(t, uint16(8080), cs.Snapshot().Endpoints[0].Port)
}

func TestWatcher_AppliesReloadableSettingsOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usock.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	doc, err := Load(path)
	require.NoError(t, err)

	cs := NewConfigStore(doc)
	var mu sync.Mutex
	var prefix string
	cs.OnReload(func(_, next Document) {
		mu.Lock()
		prefix = next.ReplyPrefix
		mu.Unlock()
	})

	w, err := NewWatcher(path, cs, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	updated := strings.Replace(sample, "registry_capacity: 4", "registry_capacity: 8", 1) + "reply_prefix: \"Yo!\"\nlog_format: json\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return prefix == "Yo!"
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 4, cs.Snapshot().RegistryCapacity, "capacity changes need a restart")
	assert.Equal(t, "text", cs.Snapshot().LogFormat, "log format changes need a restart")
}

func TestMetricsRegistry(t *testing.T) {
	mr := NewMetricsRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				mr.Add("endpoint.a.sent", 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(800), mr.Counter("endpoint.a.sent"))
	assert.Zero(t, mr.Counter("missing"))
	assert.False(t, mr.Updated().IsZero())

	mr.Set("mode", "echo")
	snap := mr.GetSnapshot()
	assert.Equal(t, "echo", snap["mode"])
	assert.Equal(t, int64(800), snap["endpoint.a.sent"])
}

func TestDebugProbes(t *testing.T) {
	dp := NewDebugProbes()
	RegisterPlatformProbes(dp)
	dp.RegisterProbe("endpoints", func() any { return 2 })

	names := dp.Names()
	assert.Contains(t, names, "platform.cpus")
	assert.Contains(t, names, "endpoints")
	assert.IsIncreasing(t, names)
	assert.Equal(t, 2, dp.DumpState()["endpoints"])

	dp.Log(slog.New(slog.DiscardHandler), "probe")
}
