package tsserver

import (
	"log/slog"
	"time"
)

// TransportKind selects how the client reaches the server.
type TransportKind int

const (
	// TransportProc spawns the server and speaks over stdio pipes.
	TransportProc TransportKind = iota

	// TransportIPC spawns the server and speaks over a node IPC channel fd.
	TransportIPC

	// TransportSocket attaches to an already-running server over TCP.
	TransportSocket
)

// String returns a human-readable kind name.
func (k TransportKind) String() string {
	switch k {
	case TransportProc:
		return "proc"
	case TransportIPC:
		return "ipc"
	case TransportSocket:
		return "socket"
	default:
		return "unknown"
	}
}

// RestartPolicy controls crash-loop escalation.
//
// Every unexpected exit restarts the server. Once more than MaxRestarts
// exits have accumulated, the policy looks at how long the last instance
// lived: under ShortWindow the loop is declared fatal and the client stops
// restarting; under LongWindow it keeps restarting with a warning; beyond
// that the counter was stale and the restart is silent.
type RestartPolicy struct {
	// MaxRestarts is the exit count that triggers escalation.
	// Default: 5
	MaxRestarts int

	// ShortWindow is the instance lifetime under which an escalated
	// crash loop is fatal. Default: 10 seconds
	ShortWindow time.Duration

	// LongWindow is the instance lifetime under which an escalated
	// crash loop warns but keeps restarting. Default: 5 minutes
	LongWindow time.Duration
}

// DefaultRestartPolicy returns the default crash-loop policy.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		MaxRestarts: 5,
		ShortWindow: 10 * time.Second,
		LongWindow:  5 * time.Minute,
	}
}

// DiagnosticsOptions controls geterr batching.
type DiagnosticsOptions struct {
	// Delay is how long the scheduler coalesces file requests before
	// issuing a pull. Default: 200ms
	Delay time.Duration

	// ServerDelay is the delay field sent inside geterr arguments; the
	// server spaces per-file diagnostics by it. Default: 20ms
	ServerDelay time.Duration
}

// DefaultDiagnosticsOptions returns the default batching options.
func DefaultDiagnosticsOptions() DiagnosticsOptions {
	return DiagnosticsOptions{
		Delay:       200 * time.Millisecond,
		ServerDelay: 20 * time.Millisecond,
	}
}

// Config configures a Client.
type Config struct {
	// NodePath is the node executable. Default: "node"
	NodePath string

	// TSServerPath is the tsserver entry script (tsserver.js).
	// Required for proc and ipc transports.
	TSServerPath string

	// NodeArgs are extra arguments passed to node before the script.
	NodeArgs []string

	// Dir is the server working directory. Default: inherited.
	Dir string

	// Env is appended to the inherited environment.
	Env []string

	// Transport selects proc, ipc, or socket.
	Transport TransportKind

	// SocketAddr is the TCP address for the socket transport.
	SocketAddr string

	// SocketFraming is the read framing for the socket transport.
	// Default: FrameAuto.
	SocketFraming FramingMode

	// Locale is a BCP 47 tag passed as --locale, if set.
	Locale string

	// MaxTSServerMemory caps the node heap in MB via --max-old-space-size.
	MaxTSServerMemory int

	// GlobalPlugins are passed as --globalPlugins.
	GlobalPlugins []string

	// PluginProbeLocations are passed as --pluginProbeLocations.
	PluginProbeLocations []string

	// NpmLocation is passed as --npmLocation for the typings installer.
	NpmLocation string

	// DisableTypingsAcquisition disables automatic typings acquisition.
	DisableTypingsAcquisition bool

	// LogVerbosity enables server-side logging when set
	// (terse, normal, requestTime, verbose).
	LogVerbosity string

	// LogFile is the server-side log destination, with LogVerbosity.
	LogFile string

	// TraceDirectory enables server tracing when set.
	TraceDirectory string

	// ConfigureOverrides are applied onto the initial configure request
	// payload by dotted path, e.g. "preferences.quotePreference": "single"
	// or "formatOptions.indentSize": 2.
	ConfigureOverrides map[string]any

	// CompilerOptionsForInferredProjects is sent after startup when set.
	CompilerOptionsForInferredProjects map[string]any

	// HostInfo names this client in the configure request.
	// Default: "tsbridge"
	HostInfo string

	// Restart is the crash-loop policy.
	Restart RestartPolicy

	// Diagnostics controls geterr batching.
	Diagnostics DiagnosticsOptions

	// Logger receives structured logs. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a config with all defaults filled in.
func DefaultConfig() Config {
	return Config{
		NodePath:      "node",
		Transport:     TransportProc,
		SocketFraming: FrameAuto,
		HostInfo:      "tsbridge",
		Restart:       DefaultRestartPolicy(),
		Diagnostics:   DefaultDiagnosticsOptions(),
	}
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Config) restart() RestartPolicy {
	p := c.Restart
	if p.MaxRestarts <= 0 {
		p.MaxRestarts = 5
	}
	if p.ShortWindow <= 0 {
		p.ShortWindow = 10 * time.Second
	}
	if p.LongWindow <= 0 {
		p.LongWindow = 5 * time.Minute
	}
	return p
}

func (c *Config) diagnostics() DiagnosticsOptions {
	o := c.Diagnostics
	if o.Delay <= 0 {
		o.Delay = 200 * time.Millisecond
	}
	if o.ServerDelay <= 0 {
		o.ServerDelay = 20 * time.Millisecond
	}
	return o
}
