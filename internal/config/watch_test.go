package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dshills/tsbridge/internal/event"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tsbridge.toml")
	write := func(content string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("[server]\ntsserverPath = \"/a/tsserver.js\"\n")

	bus := event.New()
	t.Cleanup(bus.Close)
	ch := make(chan Changed, 16)
	bus.Subscribe(TopicChanged, func(_ context.Context, e event.Event) {
		ch <- e.(Changed)
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	errCh := make(chan error, 1)
	go func() {
		errCh <- Watch(ctx, path, bus, WithDebounce(10*time.Millisecond), WithLogger(quietLogger()))
	}()

	// The watch may not be established yet; keep rewriting until an
	// event proves it is.
	next := "[server]\ntsserverPath = \"/b/tsserver.js\"\n"
	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	var got Changed
waiting:
	for {
		select {
		case got = <-ch:
			break waiting
		case <-tick.C:
			write(next)
		case <-deadline:
			t.Fatal("no reload event")
		}
	}
	tick.Stop()
	if got.Config.Server.TSServerPath != "/b/tsserver.js" {
		t.Fatalf("reloaded path = %q, want /b/tsserver.js", got.Config.Server.TSServerPath)
	}
	if !got.RequiresRestart {
		t.Fatal("RequiresRestart = false for a server path change")
	}

	// A non-spawn change reloads without the restart flag.
	write("[server]\ntsserverPath = \"/b/tsserver.js\"\n[restart]\nmaxRestarts = 7\n")
	got = awaitChanged(t, ch, func(c Changed) bool { return c.Config.Restart.MaxRestarts == 7 })
	if got.RequiresRestart {
		t.Fatal("RequiresRestart = true for a restart policy change")
	}

	// An invalid file keeps the previous config and publishes nothing.
	drainChanged(ch)
	write("[server\nbroken")
	time.Sleep(100 * time.Millisecond)
	select {
	case c := <-ch:
		t.Fatalf("unexpected event after invalid write: %+v", c)
	default:
	}

	// The watch survives the failure.
	write("[server]\ntsserverPath = \"/b/tsserver.js\"\n[restart]\nmaxRestarts = 9\n")
	awaitChanged(t, ch, func(c Changed) bool { return c.Config.Restart.MaxRestarts == 9 })

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Watch() = %v, want nil after cancel", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Watch() did not return after cancel")
	}
}

func awaitChanged(t *testing.T, ch <-chan Changed, match func(Changed) bool) Changed {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case c := <-ch:
			if match(c) {
				return c
			}
		case <-deadline:
			t.Fatal("timeout waiting for change event")
			return Changed{}
		}
	}
}

func drainChanged(ch <-chan Changed) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func TestWatchValidationFailureKeepsOldConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tsbridge.toml")
	valid := "[server]\ntsserverPath = \"/a/tsserver.js\"\n"
	if err := os.WriteFile(path, []byte(valid), 0o644); err != nil {
		t.Fatal(err)
	}

	bus := event.New()
	t.Cleanup(bus.Close)
	ch := make(chan Changed, 16)
	bus.Subscribe(TopicChanged, func(_ context.Context, e event.Event) {
		ch <- e.(Changed)
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, bus, WithDebounce(10*time.Millisecond), WithLogger(quietLogger()))
	}()

	// Parses fine but fails validation: proc transport with no path.
	invalid := "[server]\ntsserverPath = \"\"\n"
	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	wrote := 0
	for wrote < 10 {
		select {
		case c := <-ch:
			t.Fatalf("unexpected event for invalid config: %+v", c)
		case <-tick.C:
			if err := os.WriteFile(path, []byte(invalid), 0o644); err != nil {
				t.Fatal(err)
			}
			wrote++
		case <-deadline:
			t.Fatal("test stalled")
		}
	}

	// A later valid write still reloads.
	if err := os.WriteFile(path, []byte(valid), 0o644); err != nil {
		t.Fatal(err)
	}
	awaitChanged(t, ch, func(c Changed) bool { return c.Config.Server.TSServerPath == "/a/tsserver.js" })
}

func TestWatchMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nosuch", "tsbridge.toml")
	err := Watch(context.Background(), path, event.New(), WithLogger(quietLogger()))
	if err == nil {
		t.Fatal("Watch() error = nil, want missing directory error")
	}
}
