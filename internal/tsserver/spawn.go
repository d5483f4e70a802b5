package tsserver

import (
	"fmt"
	"strconv"
	"strings"
)

// Spawn is a fully assembled server command line.
type Spawn struct {
	NodePath   string
	ServerPath string
	NodeArgs   []string
	ServerArgs []string
	Env        []string
	Dir        string
	UseIPC     bool
}

// Args returns the full argument list after the node executable.
func (s Spawn) Args() []string {
	args := make([]string, 0, len(s.NodeArgs)+1+len(s.ServerArgs))
	args = append(args, s.NodeArgs...)
	args = append(args, s.ServerPath)
	args = append(args, s.ServerArgs...)
	return args
}

// BuildSpawn assembles the server command line from configuration.
// cancelBase is the cancellation pipe prefix; empty disables out-of-band
// cancellation. Version-gated flags are dropped when the server is too
// old, except --useNodeIpc, which is a hard requirement of the IPC
// transport.
func BuildSpawn(cfg Config, version APIVersion, cancelBase string) (Spawn, error) {
	if cfg.TSServerPath == "" {
		return Spawn{}, fmt.Errorf("build spawn: tsserver path not set")
	}

	node := cfg.NodePath
	if node == "" {
		node = "node"
	}

	sp := Spawn{
		NodePath:   node,
		ServerPath: cfg.TSServerPath,
		Dir:        cfg.Dir,
		Env:        cfg.Env,
	}
	sp.NodeArgs = append(sp.NodeArgs, cfg.NodeArgs...)
	if cfg.MaxTSServerMemory > 0 {
		sp.NodeArgs = append(sp.NodeArgs, "--max-old-space-size="+strconv.Itoa(cfg.MaxTSServerMemory))
	}

	args := []string{"--useInferredProjectPerProjectRoot"}
	if cancelBase != "" {
		// The trailing star tells the server the client appends the
		// request seq to the pipe name.
		args = append(args, "--cancellationPipeName", cancelBase+"*")
	}
	if cfg.Locale != "" {
		args = append(args, "--locale", cfg.Locale)
	}
	if len(cfg.GlobalPlugins) > 0 {
		args = append(args, "--globalPlugins", strings.Join(cfg.GlobalPlugins, ","))
	}
	if len(cfg.PluginProbeLocations) > 0 {
		args = append(args, "--pluginProbeLocations", strings.Join(cfg.PluginProbeLocations, ","))
	}
	if cfg.DisableTypingsAcquisition {
		args = append(args, "--disableAutomaticTypingAcquisition")
	} else if cfg.NpmLocation != "" {
		args = append(args, "--npmLocation", cfg.NpmLocation)
	} else {
		args = append(args, "--validateDefaultNpmLocation")
	}
	if cfg.LogVerbosity != "" && cfg.LogFile != "" {
		args = append(args, "--logVerbosity", cfg.LogVerbosity, "--logFile", cfg.LogFile)
	}
	if cfg.TraceDirectory != "" {
		args = append(args, "--traceDirectory", cfg.TraceDirectory)
	}

	if cfg.Transport == TransportIPC {
		if version.Known() && !version.AtLeast(minIPCVersion) {
			return Spawn{}, fmt.Errorf("build spawn: node ipc transport needs tsserver %s+, have %s", minIPCVersion, version)
		}
		args = append(args, "--useNodeIpc")
		sp.UseIPC = true
	}

	sp.ServerArgs = args
	return sp, nil
}
