package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/tsbridge/internal/event"
)

// TopicChanged is the bus topic live reloads publish on.
const TopicChanged = "config.changed"

// Changed announces a successful live reload. RequiresRestart is set
// when the new config changes the spawn command line.
type Changed struct {
	Path            string
	Config          *Config
	RequiresRestart bool
}

// Topic implements event.Event.
func (Changed) Topic() string { return TopicChanged }

// WatchOption configures Watch.
type WatchOption func(*watchOptions)

type watchOptions struct {
	debounce time.Duration
	logger   *slog.Logger
}

// WithDebounce sets how long a burst of file events settles before the
// reload. Default: 100ms.
func WithDebounce(d time.Duration) WatchOption {
	return func(o *watchOptions) {
		if d > 0 {
			o.debounce = d
		}
	}
}

// WithLogger sets the watch logger. Default: slog.Default().
func WithLogger(l *slog.Logger) WatchOption {
	return func(o *watchOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// Watch reloads path whenever it changes and publishes Changed on bus,
// until ctx is done. The parent directory is watched, so editors that
// replace the file by rename are still seen. A reload that fails to
// parse or validate keeps the previous config and is logged, not fatal.
func Watch(ctx context.Context, path string, bus *event.Bus, opts ...WatchOption) error {
	o := watchOptions{
		debounce: 100 * time.Millisecond,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	current, err := Load(abs)
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}

	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Name != abs {
				continue
			}
			// Rename-into-place arrives as Create.
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			settle = time.After(o.debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			o.logger.Warn("config watch error", "error", err)

		case <-settle:
			settle = nil
			next, err := Load(abs)
			if err != nil {
				o.logger.Warn("config reload failed", "path", abs, "error", err)
				continue
			}
			if err := next.Validate(); err != nil {
				o.logger.Warn("config reload invalid", "path", abs, "error", err)
				continue
			}
			restart := current.RequiresRestart(next)
			current = next
			o.logger.Info("config reloaded", "path", abs, "restart", restart)
			bus.Publish(ctx, Changed{Path: abs, Config: next, RequiresRestart: restart})
		}
	}
}
