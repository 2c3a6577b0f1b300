// File: cmd/usockd/run.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/usock/api"
	"github.com/momentics/usock/comms"
	"github.com/momentics/usock/control"
	"github.com/momentics/usock/endpoint"
)

// resolveDocument loads --config, or the default document, and applies the
// flags the user set explicitly.
func resolveDocument(cmd *cobra.Command, f flags) (control.Document, error) {
	doc := control.DefaultDocument()
	if f.config != "" {
		var err error
		if doc, err = control.Load(f.config); err != nil {
			return control.Document{}, err
		}
	}
	changed := cmd.Flags().Changed
	ep := &doc.Endpoints[0]
	if changed("protocol") {
		ep.Protocol = f.protocol
	}
	if changed("role") {
		ep.Role = f.role
	}
	if changed("address") {
		ep.Address = f.address
	}
	if changed("port") {
		ep.Port = f.port
	}
	if changed("name") {
		ep.Name = f.name
	}
	if changed("log-level") {
		doc.LogLevel = f.logLevel
	}
	if changed("log-format") {
		doc.LogFormat = f.logFormat
	}
	if changed("capacity") {
		doc.RegistryCapacity = f.capacity
	}
	if f.watch && f.config == "" {
		return control.Document{}, fmt.Errorf("%w: --watch needs --config", api.ErrInvalidArgument)
	}
	return doc, doc.Validate()
}

func newLogger(w io.Writer, format string, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// replyHandler builds the per-endpoint handler for the store's reply mode.
func replyHandler(store *control.ConfigStore) func() api.InboundHandler {
	return func() api.InboundHandler {
		switch store.Snapshot().ReplyMode {
		case control.ReplyEcho:
			return endpoint.Echo()
		case control.ReplyNone:
			return nil
		default:
			return endpoint.CounterReplyFunc(store.ReplyPrefix)
		}
	}
}

func run(parent context.Context, doc control.Document, f flags, logOut io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	level := new(slog.LevelVar)
	level.Set(doc.Level())
	logger := newLogger(logOut, doc.LogFormat, level)
	slog.SetDefault(logger)

	store := control.NewConfigStore(doc)
	store.OnReload(func(prev, next control.Document) {
		level.Set(next.Level())
		if prev.ReplyMode != next.ReplyMode {
			logger.Warn("reply mode changes apply to endpoints added after a restart", "reply_mode", next.ReplyMode)
		}
	})
	metrics := control.NewMetricsRegistry()
	probes := control.NewDebugProbes()
	control.RegisterPlatformProbes(probes)

	ci, err := comms.New(doc.RegistryCapacity,
		comms.WithLogger(logger),
		comms.WithCounter(metrics),
		comms.WithHandler(replyHandler(store)),
	)
	if err != nil {
		return err
	}
	probes.RegisterProbe("endpoints", func() any { return ci.Snapshot() })
	probes.RegisterProbe("metrics", func() any { return metrics.GetSnapshot() })

	cfgs, err := doc.EndpointConfigs()
	if err != nil {
		return errors.Join(err, ci.Close())
	}
	for _, cfg := range cfgs {
		if _, err := ci.Add(cfg); err != nil {
			return errors.Join(err, ci.Close())
		}
	}
	if err := ci.StartAll(); err != nil {
		return errors.Join(err, ci.Close())
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ci.Run(gctx) })
	if f.watch {
		w, err := control.NewWatcher(f.config, store, logger)
		if err != nil {
			stop()
			return errors.Join(err, g.Wait(), ci.Close())
		}
		g.Go(func() error { return w.Run(gctx) })
	}
	logger.Info("usockd running", "endpoints", ci.Len(), "capacity", ci.Registry().Capacity())

	runErr := g.Wait()
	probes.Log(logger, "shutdown state")
	closeErr := ci.Close()
	if runErr != nil {
		return runErr
	}
	return closeErr
}
