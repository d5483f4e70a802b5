// Package main is the entry point for the tsbridge server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/dshills/tsbridge/internal/config"
	"github.com/dshills/tsbridge/internal/event"
	"github.com/dshills/tsbridge/internal/tsserver"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const stopTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
		return 1
	}

	// Stdout carries the protocol; all logging goes to stderr.
	logger := newLogger(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals for graceful shutdown
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		logger.Info("shutting down on signal")
		cancel()
	}()

	bus := event.New()
	defer bus.Close()

	clientCfg, err := cfg.ClientConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	clientCfg.Logger = logger

	client := tsserver.NewClient(clientCfg, bus)
	if err := client.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to start tsserver: %v\n", err)
		return 1
	}

	if opts.watch {
		sub := bus.Subscribe(config.TopicChanged, func(_ context.Context, e event.Event) {
			changed, ok := e.(config.Changed)
			if !ok {
				return
			}
			if changed.RequiresRestart {
				logger.Warn("config change needs a restart to take effect", "path", changed.Path)
				return
			}
			next, err := changed.Config.ClientConfig()
			if err != nil {
				logger.Warn("config change not applied", "error", err)
				return
			}
			client.Reconfigure(next.ConfigureOverrides)
			logger.Info("config change applied", "path", changed.Path)
		})
		defer sub.Cancel()
		go func() {
			if err := config.Watch(ctx, opts.configPath, bus, config.WithLogger(logger)); err != nil {
				logger.Warn("config watch stopped", "error", err)
			}
		}()
	}

	b := newBridge(client, bus, logger, os.Stdin, os.Stdout, !opts.noDiagnostics)
	runErr := b.run(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if err := client.Stop(stopCtx); err != nil && !errors.Is(err, tsserver.ErrNotStarted) {
		logger.Warn("tsserver stop failed", "error", err)
	}
	b.drain()

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		return 1
	}
	return 0
}

// newLogger builds the process logger from the [log] section. The auto
// format picks text on a terminal and JSON everywhere else.
func newLogger(cfg config.LogConfig) *slog.Logger {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	ho := &slog.HandlerOptions{Level: level}

	format := cfg.Format
	if format == "" || format == "auto" {
		if term.IsTerminal(int(os.Stderr.Fd())) {
			format = "text"
		} else {
			format = "json"
		}
	}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, ho))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, ho))
}

type options struct {
	configPath    string
	tsserverPath  string
	transport     string
	addr          string
	logLevel      string
	logFormat     string
	watch         bool
	noDiagnostics bool
}

// apply lays the command line over the file config. Empty flags leave
// the file values alone.
func (o options) apply(cfg *config.Config) {
	if o.tsserverPath != "" {
		cfg.Server.TSServerPath = o.tsserverPath
	}
	if o.transport != "" {
		cfg.Transport.Kind = o.transport
	}
	if o.addr != "" {
		cfg.Transport.Addr = o.addr
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
}

func parseFlags() options {
	var opts options
	var showVersion bool
	var showHelp bool

	flag.StringVar(&opts.configPath, "config", "tsbridge.toml", "Path to configuration file")
	flag.StringVar(&opts.configPath, "c", "tsbridge.toml", "Path to configuration file (shorthand)")
	flag.StringVar(&opts.tsserverPath, "tsserver", "", "Path to the tsserver entry script")
	flag.StringVar(&opts.transport, "transport", "", "Server transport (proc, ipc, socket)")
	flag.StringVar(&opts.addr, "addr", "", "Server address for the socket transport")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&opts.logFormat, "log-format", "", "Log format (auto, text, json)")
	flag.BoolVar(&opts.watch, "watch", false, "Reload the configuration file on change")
	flag.BoolVar(&opts.noDiagnostics, "no-diagnostics", false, "Do not pull diagnostics after opens and edits")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")
	flag.BoolVar(&showHelp, "help", false, "Show help message")
	flag.BoolVar(&showHelp, "h", false, "Show help message (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Tsbridge - supervised tsserver over stdio\n\n")
		fmt.Fprintf(os.Stderr, "Usage: tsbridge [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  tsbridge -tsserver node_modules/typescript/lib/tsserver.js\n")
		fmt.Fprintf(os.Stderr, "  tsbridge -c tsbridge.toml -watch\n")
		fmt.Fprintf(os.Stderr, "  tsbridge -transport socket -addr 127.0.0.1:6009\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("Tsbridge %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	return opts
}
