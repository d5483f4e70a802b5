package config

import (
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/dshills/tsbridge/internal/tsserver"
)

// Duration is a time.Duration that TOML carries as a string ("200ms").
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// ServerConfig is the [server] section. Every field here feeds the spawn
// command line.
type ServerConfig struct {
	// NodePath is the node executable. Default: "node"
	NodePath string `toml:"nodePath"`

	// TSServerPath is the tsserver entry script. Required for the proc
	// and ipc transports.
	TSServerPath string `toml:"tsserverPath"`

	// NodeArgs are extra arguments passed to node before the script.
	NodeArgs []string `toml:"nodeArgs"`

	// NpmLocation points the typings installer at a specific npm.
	NpmLocation string `toml:"npmLocation"`

	// Locale is a BCP 47 tag for server messages.
	Locale string `toml:"locale"`

	// MaxTSServerMemory caps the node heap in MB.
	MaxTSServerMemory int `toml:"maxTsServerMemory"`

	// GlobalPlugins are tsserver plugin names to load everywhere.
	GlobalPlugins []string `toml:"globalPlugins"`

	// PluginProbeLocations are extra directories to resolve plugins from.
	PluginProbeLocations []string `toml:"pluginProbeLocations"`

	// DisableTypingsAcquisition turns off automatic typings download.
	DisableTypingsAcquisition bool `toml:"disableTypingsAcquisition"`

	// LogVerbosity enables server-side logging
	// (terse, normal, requestTime, verbose). Needs LogFile.
	LogVerbosity string `toml:"logVerbosity"`

	// LogFile is the server-side log destination.
	LogFile string `toml:"logFile"`

	// TraceDirectory enables server tracing when set.
	TraceDirectory string `toml:"traceDirectory"`
}

// TransportConfig is the [transport] section.
type TransportConfig struct {
	// Kind is "proc", "ipc", or "socket". Default: "proc"
	Kind string `toml:"kind"`

	// Addr is the TCP address for the socket kind.
	Addr string `toml:"addr"`

	// Framing is the socket read framing: "headers", "lines", or "auto".
	// Default: "auto"
	Framing string `toml:"framing"`
}

// RestartConfig is the [restart] section.
type RestartConfig struct {
	// MaxRestarts is the exit count that triggers escalation. Default: 5
	MaxRestarts int `toml:"maxRestarts"`

	// ShortWindow is the instance lifetime under which an escalated
	// crash loop is fatal. Default: "10s"
	ShortWindow Duration `toml:"shortWindow"`

	// LongWindow is the instance lifetime under which an escalated
	// crash loop warns but keeps restarting. Default: "5m"
	LongWindow Duration `toml:"longWindow"`
}

// DiagnosticsConfig is the [diagnostics] section.
type DiagnosticsConfig struct {
	// Delay is the client-side coalescing window. Default: "200ms"
	Delay Duration `toml:"delay"`

	// ServerDelay is the per-file spacing the server applies. Default: "20ms"
	ServerDelay Duration `toml:"serverDelay"`
}

// LogConfig is the [log] section for tsbridge's own logging.
type LogConfig struct {
	// Level is "debug", "info", "warn", or "error". Default: "info"
	Level string `toml:"level"`

	// Format is "auto", "text", or "json". Auto picks text on a
	// terminal. Default: "auto"
	Format string `toml:"format"`
}

// Config is the full tsbridge configuration.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Transport   TransportConfig   `toml:"transport"`
	Restart     RestartConfig     `toml:"restart"`
	Diagnostics DiagnosticsConfig `toml:"diagnostics"`
	Log         LogConfig         `toml:"log"`

	// Preferences are tsserver user preferences applied onto the
	// configure request, keyed by preference name.
	Preferences map[string]any `toml:"preferences"`
}

// Default returns a config with every default filled in.
func Default() *Config {
	return &Config{
		Server: ServerConfig{NodePath: "node"},
		Transport: TransportConfig{
			Kind:    "proc",
			Framing: "auto",
		},
		Restart: RestartConfig{
			MaxRestarts: 5,
			ShortWindow: Duration(10 * time.Second),
			LongWindow:  Duration(5 * time.Minute),
		},
		Diagnostics: DiagnosticsConfig{
			Delay:       Duration(200 * time.Millisecond),
			ServerDelay: Duration(20 * time.Millisecond),
		},
		Log: LogConfig{Level: "info", Format: "auto"},
	}
}

// Validate checks cross-field consistency. It does not touch the
// filesystem; missing binaries surface at spawn time.
func (c *Config) Validate() error {
	kind, err := parseTransportKind(c.Transport.Kind)
	if err != nil {
		return err
	}
	if kind == tsserver.TransportSocket {
		if c.Transport.Addr == "" {
			return fmt.Errorf("transport.addr required for socket transport")
		}
	} else if c.Server.TSServerPath == "" {
		return fmt.Errorf("server.tsserverPath required for %s transport", kind)
	}
	if _, err := parseFraming(c.Transport.Framing); err != nil {
		return err
	}

	if c.Server.Locale != "" {
		if _, err := language.Parse(c.Server.Locale); err != nil {
			return fmt.Errorf("server.locale %q: %w", c.Server.Locale, err)
		}
	}
	if c.Server.MaxTSServerMemory < 0 {
		return fmt.Errorf("server.maxTsServerMemory must not be negative")
	}
	switch c.Server.LogVerbosity {
	case "", "terse", "normal", "requestTime", "verbose":
	default:
		return fmt.Errorf("server.logVerbosity %q is not a tsserver verbosity", c.Server.LogVerbosity)
	}
	if c.Server.LogVerbosity != "" && c.Server.LogFile == "" {
		return fmt.Errorf("server.logFile required with server.logVerbosity")
	}

	if c.Restart.MaxRestarts < 1 {
		return fmt.Errorf("restart.maxRestarts must be at least 1")
	}
	if c.Restart.ShortWindow <= 0 || c.Restart.LongWindow <= 0 {
		return fmt.Errorf("restart windows must be positive")
	}
	if c.Restart.ShortWindow > c.Restart.LongWindow {
		return fmt.Errorf("restart.shortWindow must not exceed restart.longWindow")
	}

	if c.Diagnostics.Delay <= 0 || c.Diagnostics.ServerDelay <= 0 {
		return fmt.Errorf("diagnostics delays must be positive")
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "auto", "text", "json":
	default:
		return fmt.Errorf("log.format %q is not auto, text, or json", c.Log.Format)
	}
	return nil
}

// RequiresRestart reports whether switching to next needs a new server
// process. The server and transport sections feed the spawn command
// line; the rest applies to a running client.
func (c *Config) RequiresRestart(next *Config) bool {
	return !reflect.DeepEqual(c.Server, next.Server) || c.Transport != next.Transport
}

// ClientConfig maps the file config onto a client config. The logger is
// left unset for the caller to fill.
func (c *Config) ClientConfig() (tsserver.Config, error) {
	kind, err := parseTransportKind(c.Transport.Kind)
	if err != nil {
		return tsserver.Config{}, err
	}
	framing, err := parseFraming(c.Transport.Framing)
	if err != nil {
		return tsserver.Config{}, err
	}

	tc := tsserver.Config{
		NodePath:                  c.Server.NodePath,
		TSServerPath:              c.Server.TSServerPath,
		NodeArgs:                  c.Server.NodeArgs,
		Transport:                 kind,
		SocketAddr:                c.Transport.Addr,
		SocketFraming:             framing,
		Locale:                    c.Server.Locale,
		MaxTSServerMemory:         c.Server.MaxTSServerMemory,
		GlobalPlugins:             c.Server.GlobalPlugins,
		PluginProbeLocations:      c.Server.PluginProbeLocations,
		NpmLocation:               c.Server.NpmLocation,
		DisableTypingsAcquisition: c.Server.DisableTypingsAcquisition,
		LogVerbosity:              c.Server.LogVerbosity,
		LogFile:                   c.Server.LogFile,
		TraceDirectory:            c.Server.TraceDirectory,
		Restart: tsserver.RestartPolicy{
			MaxRestarts: c.Restart.MaxRestarts,
			ShortWindow: c.Restart.ShortWindow.Std(),
			LongWindow:  c.Restart.LongWindow.Std(),
		},
		Diagnostics: tsserver.DiagnosticsOptions{
			Delay:       c.Diagnostics.Delay.Std(),
			ServerDelay: c.Diagnostics.ServerDelay.Std(),
		},
	}
	if len(c.Preferences) > 0 {
		overrides := make(map[string]any, len(c.Preferences))
		for name, value := range c.Preferences {
			overrides["preferences."+name] = value
		}
		tc.ConfigureOverrides = overrides
	}
	return tc, nil
}

// ParseLevel maps a config or flag level name to a slog level. Empty
// means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

func parseTransportKind(s string) (tsserver.TransportKind, error) {
	switch s {
	case "", "proc":
		return tsserver.TransportProc, nil
	case "ipc":
		return tsserver.TransportIPC, nil
	case "socket":
		return tsserver.TransportSocket, nil
	default:
		return 0, fmt.Errorf("transport.kind %q is not proc, ipc, or socket", s)
	}
}

func parseFraming(s string) (tsserver.FramingMode, error) {
	switch s {
	case "", "auto":
		return tsserver.FrameAuto, nil
	case "headers":
		return tsserver.FrameHeaders, nil
	case "lines":
		return tsserver.FrameLines, nil
	default:
		return 0, fmt.Errorf("transport.framing %q is not headers, lines, or auto", s)
	}
}
