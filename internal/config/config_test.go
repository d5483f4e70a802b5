package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dshills/tsbridge/internal/tsserver"
)

func validProc() *Config {
	cfg := Default()
	cfg.Server.TSServerPath = "/opt/ts/lib/tsserver.js"
	return cfg
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tsbridge.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultValidates(t *testing.T) {
	if err := validProc().Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Transport.Kind != "proc" || cfg.Restart.MaxRestarts != 5 {
		t.Fatalf("Load() = %+v, want defaults", cfg)
	}
}

func TestLoadFull(t *testing.T) {
	path := writeConfig(t, `
[server]
nodePath = "/usr/local/bin/node"
tsserverPath = "/opt/ts/lib/tsserver.js"
nodeArgs = ["--inspect=9229"]
locale = "de"
maxTsServerMemory = 4096
globalPlugins = ["plugin-a"]
disableTypingsAcquisition = true

[transport]
kind = "socket"
addr = "127.0.0.1:6009"
framing = "lines"

[restart]
maxRestarts = 3
shortWindow = "5s"
longWindow = "2m"

[diagnostics]
delay = "150ms"
serverDelay = "10ms"

[log]
level = "debug"
format = "json"

[preferences]
quotePreference = "single"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.NodePath != "/usr/local/bin/node" {
		t.Errorf("Server.NodePath = %q", cfg.Server.NodePath)
	}
	if cfg.Server.TSServerPath != "/opt/ts/lib/tsserver.js" {
		t.Errorf("Server.TSServerPath = %q", cfg.Server.TSServerPath)
	}
	if len(cfg.Server.NodeArgs) != 1 || cfg.Server.NodeArgs[0] != "--inspect=9229" {
		t.Errorf("Server.NodeArgs = %v", cfg.Server.NodeArgs)
	}
	if cfg.Server.MaxTSServerMemory != 4096 {
		t.Errorf("Server.MaxTSServerMemory = %d", cfg.Server.MaxTSServerMemory)
	}
	if !cfg.Server.DisableTypingsAcquisition {
		t.Error("Server.DisableTypingsAcquisition = false")
	}
	if cfg.Transport.Kind != "socket" || cfg.Transport.Addr != "127.0.0.1:6009" || cfg.Transport.Framing != "lines" {
		t.Errorf("Transport = %+v", cfg.Transport)
	}
	if cfg.Restart.MaxRestarts != 3 {
		t.Errorf("Restart.MaxRestarts = %d", cfg.Restart.MaxRestarts)
	}
	if cfg.Restart.ShortWindow.Std() != 5*time.Second {
		t.Errorf("Restart.ShortWindow = %v", cfg.Restart.ShortWindow.Std())
	}
	if cfg.Restart.LongWindow.Std() != 2*time.Minute {
		t.Errorf("Restart.LongWindow = %v", cfg.Restart.LongWindow.Std())
	}
	if cfg.Diagnostics.Delay.Std() != 150*time.Millisecond {
		t.Errorf("Diagnostics.Delay = %v", cfg.Diagnostics.Delay.Std())
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Preferences["quotePreference"] != "single" {
		t.Errorf("Preferences = %v", cfg.Preferences)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "[restart]\nmaxRestarts = 2\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Restart.MaxRestarts != 2 {
		t.Errorf("Restart.MaxRestarts = %d, want 2", cfg.Restart.MaxRestarts)
	}
	if cfg.Restart.ShortWindow.Std() != 10*time.Second {
		t.Errorf("Restart.ShortWindow = %v, want default 10s", cfg.Restart.ShortWindow.Std())
	}
	if cfg.Server.NodePath != "node" {
		t.Errorf("Server.NodePath = %q, want default node", cfg.Server.NodePath)
	}
}

func TestLoadBadTOML(t *testing.T) {
	path := writeConfig(t, "[server\nbroken")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() error = nil, want parse error")
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := writeConfig(t, "[restart]\nshortWindow = \"soon\"\n")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() error = nil, want duration error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"proc ok", func(c *Config) {}, false},
		{"socket ok", func(c *Config) {
			c.Transport.Kind = "socket"
			c.Transport.Addr = "127.0.0.1:6009"
			c.Server.TSServerPath = ""
		}, false},
		{"server logging ok", func(c *Config) {
			c.Server.LogVerbosity = "requestTime"
			c.Server.LogFile = "/tmp/tsserver.log"
		}, false},
		{"unknown kind", func(c *Config) { c.Transport.Kind = "pipe" }, true},
		{"socket without addr", func(c *Config) { c.Transport.Kind = "socket" }, true},
		{"proc without path", func(c *Config) { c.Server.TSServerPath = "" }, true},
		{"bad locale", func(c *Config) { c.Server.Locale = "!!" }, true},
		{"bad framing", func(c *Config) { c.Transport.Framing = "csv" }, true},
		{"short over long", func(c *Config) {
			c.Restart.ShortWindow = Duration(10 * time.Minute)
		}, true},
		{"zero restarts", func(c *Config) { c.Restart.MaxRestarts = 0 }, true},
		{"zero diag delay", func(c *Config) { c.Diagnostics.Delay = 0 }, true},
		{"bad verbosity", func(c *Config) {
			c.Server.LogVerbosity = "loud"
			c.Server.LogFile = "/tmp/tsserver.log"
		}, true},
		{"verbosity without file", func(c *Config) { c.Server.LogVerbosity = "verbose" }, true},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }, true},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, true},
		{"negative memory", func(c *Config) { c.Server.MaxTSServerMemory = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validProc()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"WARN", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"trace", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRequiresRestart(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   bool
	}{
		{"server path", func(c *Config) { c.Server.TSServerPath = "/elsewhere/tsserver.js" }, true},
		{"node args", func(c *Config) { c.Server.NodeArgs = []string{"--inspect"} }, true},
		{"transport kind", func(c *Config) {
			c.Transport.Kind = "socket"
			c.Transport.Addr = "127.0.0.1:6009"
		}, true},
		{"restart policy", func(c *Config) { c.Restart.MaxRestarts = 9 }, false},
		{"diagnostics", func(c *Config) { c.Diagnostics.Delay = Duration(time.Second) }, false},
		{"preferences", func(c *Config) { c.Preferences = map[string]any{"quotePreference": "single"} }, false},
		{"log level", func(c *Config) { c.Log.Level = "debug" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := validProc()
			next := validProc()
			tt.mutate(next)
			if got := base.RequiresRestart(next); got != tt.want {
				t.Fatalf("RequiresRestart() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClientConfig(t *testing.T) {
	cfg := validProc()
	cfg.Server.Locale = "de"
	cfg.Server.GlobalPlugins = []string{"plugin-a"}
	cfg.Restart.MaxRestarts = 3
	cfg.Restart.ShortWindow = Duration(5 * time.Second)
	cfg.Diagnostics.Delay = Duration(150 * time.Millisecond)
	cfg.Preferences = map[string]any{"quotePreference": "single"}

	tc, err := cfg.ClientConfig()
	if err != nil {
		t.Fatalf("ClientConfig() error = %v", err)
	}
	if tc.Transport != tsserver.TransportProc {
		t.Errorf("Transport = %v, want proc", tc.Transport)
	}
	if tc.TSServerPath != cfg.Server.TSServerPath {
		t.Errorf("TSServerPath = %q", tc.TSServerPath)
	}
	if tc.Locale != "de" {
		t.Errorf("Locale = %q", tc.Locale)
	}
	if tc.Restart.MaxRestarts != 3 || tc.Restart.ShortWindow != 5*time.Second {
		t.Errorf("Restart = %+v", tc.Restart)
	}
	if tc.Diagnostics.Delay != 150*time.Millisecond {
		t.Errorf("Diagnostics.Delay = %v", tc.Diagnostics.Delay)
	}
	if got := tc.ConfigureOverrides["preferences.quotePreference"]; got != "single" {
		t.Errorf("ConfigureOverrides = %v", tc.ConfigureOverrides)
	}
}

func TestClientConfigSocket(t *testing.T) {
	cfg := Default()
	cfg.Transport.Kind = "socket"
	cfg.Transport.Addr = "127.0.0.1:6009"
	cfg.Transport.Framing = "headers"

	tc, err := cfg.ClientConfig()
	if err != nil {
		t.Fatalf("ClientConfig() error = %v", err)
	}
	if tc.Transport != tsserver.TransportSocket || tc.SocketAddr != "127.0.0.1:6009" {
		t.Errorf("Transport = %v addr %q", tc.Transport, tc.SocketAddr)
	}
	if tc.SocketFraming != tsserver.FrameHeaders {
		t.Errorf("SocketFraming = %v, want headers", tc.SocketFraming)
	}
}

func TestClientConfigBadKind(t *testing.T) {
	cfg := validProc()
	cfg.Transport.Kind = "pipe"
	if _, err := cfg.ClientConfig(); err == nil {
		t.Fatal("ClientConfig() error = nil, want kind error")
	}
}

func TestDurationText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("250ms")); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if d.Std() != 250*time.Millisecond {
		t.Fatalf("Std() = %v, want 250ms", d.Std())
	}
	out, err := d.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText() error = %v", err)
	}
	if string(out) != "250ms" {
		t.Fatalf("MarshalText() = %q, want 250ms", out)
	}
	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Fatal("UnmarshalText() error = nil, want parse error")
	}
}
