// control/watcher.go
// Author: momentics <momentics@gmail.com>
//
// Hot reload of the configuration file through fsnotify.

package control

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a configuration file into a ConfigStore whenever it is
// written or replaced. Only log level, reply mode and reply prefix are
// applied; log format, endpoint and capacity changes need a restart and are
// kept at their running values.
type Watcher struct {
	path    string
	store   *ConfigStore
	logger  *slog.Logger
	watcher *fsnotify.Watcher
}

// NewWatcher watches the directory of path, so editors that replace the
// file by rename are seen too.
func NewWatcher(path string, store *ConfigStore, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("config watcher: watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{
		path:    abs,
		store:   store,
		logger:  logger.With("component", "control", "config", abs),
		watcher: fw,
	}, nil
}

// Run processes file events until ctx is cancelled, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			if err := w.Reload(); err != nil {
				w.logger.Warn("config reload rejected, keeping previous settings", "err", err)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("config watcher error", "err", err)
		}
	}
}

// Reload reads the file now and applies its reloadable settings.
func (w *Watcher) Reload() error {
	next, err := Load(w.path)
	if err != nil {
		return err
	}
	cur := w.store.Snapshot()
	if !cur.sameTopology(next) {
		w.logger.Warn("endpoint changes require a restart; ignoring them")
	}
	if cur.LogFormat != next.LogFormat {
		w.logger.Warn("log format changes require a restart; ignoring them", "log_format", next.LogFormat)
	}
	cur.LogLevel = next.LogLevel
	cur.ReplyMode = next.ReplyMode
	cur.ReplyPrefix = next.ReplyPrefix
	if err := w.store.Update(cur); err != nil {
		return err
	}
	w.logger.Info("config reloaded", "log_level", cur.LogLevel, "reply_prefix", cur.ReplyPrefix)
	return nil
}
