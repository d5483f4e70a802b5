package tsserver

import (
	"slices"
	"strings"
	"testing"
)

// flagValue returns the argument following name, if name is present.
func flagValue(args []string, name string) (string, bool) {
	for i, a := range args {
		if a == name && i+1 < len(args) {
			return args[i+1], true
		}
	}
	return "", false
}

func hasFlag(args []string, name string) bool {
	return slices.Contains(args, name)
}

func TestBuildSpawnDefaults(t *testing.T) {
	cfg := Config{TSServerPath: "/opt/ts/lib/tsserver.js"}
	sp, err := BuildSpawn(cfg, VersionUnknown, "")
	if err != nil {
		t.Fatalf("BuildSpawn() error = %v", err)
	}
	if sp.NodePath != "node" {
		t.Fatalf("NodePath = %q, want node", sp.NodePath)
	}
	args := sp.Args()
	if args[0] != "/opt/ts/lib/tsserver.js" {
		t.Fatalf("Args()[0] = %q, want server script", args[0])
	}
	if !hasFlag(args, "--useInferredProjectPerProjectRoot") {
		t.Fatalf("args = %v, missing --useInferredProjectPerProjectRoot", args)
	}
	if !hasFlag(args, "--validateDefaultNpmLocation") {
		t.Fatalf("args = %v, missing --validateDefaultNpmLocation", args)
	}
	if hasFlag(args, "--cancellationPipeName") || hasFlag(args, "--useNodeIpc") {
		t.Fatalf("args = %v, unexpected optional flags", args)
	}
}

func TestBuildSpawnFull(t *testing.T) {
	cfg := Config{
		NodePath:             "/usr/local/bin/node",
		TSServerPath:         "/opt/ts/lib/tsserver.js",
		NodeArgs:             []string{"--inspect=9229"},
		MaxTSServerMemory:    3072,
		Locale:               "de",
		GlobalPlugins:        []string{"plugin-a", "plugin-b"},
		PluginProbeLocations: []string{"/probe/x", "/probe/y"},
		NpmLocation:          "/usr/bin/npm",
		LogVerbosity:         "verbose",
		LogFile:              "/tmp/tsserver.log",
		TraceDirectory:       "/tmp/traces",
	}
	sp, err := BuildSpawn(cfg, ParseAPIVersion("5.5.4"), "/tmp/tsbridge-cancel-x-")
	if err != nil {
		t.Fatalf("BuildSpawn() error = %v", err)
	}

	wantNodeArgs := []string{"--inspect=9229", "--max-old-space-size=3072"}
	if !slices.Equal(sp.NodeArgs, wantNodeArgs) {
		t.Fatalf("NodeArgs = %v, want %v", sp.NodeArgs, wantNodeArgs)
	}
	args := sp.Args()
	if args[len(sp.NodeArgs)] != cfg.TSServerPath {
		t.Fatalf("Args() = %v, server script not after node args", args)
	}

	wantValues := map[string]string{
		"--cancellationPipeName": "/tmp/tsbridge-cancel-x-*",
		"--locale":               "de",
		"--globalPlugins":        "plugin-a,plugin-b",
		"--pluginProbeLocations": "/probe/x,/probe/y",
		"--npmLocation":          "/usr/bin/npm",
		"--logVerbosity":         "verbose",
		"--logFile":              "/tmp/tsserver.log",
		"--traceDirectory":       "/tmp/traces",
	}
	for flag, want := range wantValues {
		got, ok := flagValue(args, flag)
		if !ok {
			t.Fatalf("args = %v, missing %s", args, flag)
		}
		if got != want {
			t.Fatalf("%s = %q, want %q", flag, got, want)
		}
	}
	if hasFlag(args, "--validateDefaultNpmLocation") {
		t.Fatalf("args = %v, --validateDefaultNpmLocation with explicit npm location", args)
	}
	if !strings.HasSuffix(wantValues["--cancellationPipeName"], "*") {
		t.Fatal("cancellation pipe name must end with *")
	}
}

func TestBuildSpawnTypingsDisabled(t *testing.T) {
	cfg := Config{
		TSServerPath:              "/opt/ts/lib/tsserver.js",
		DisableTypingsAcquisition: true,
		NpmLocation:               "/usr/bin/npm",
	}
	sp, err := BuildSpawn(cfg, VersionUnknown, "")
	if err != nil {
		t.Fatalf("BuildSpawn() error = %v", err)
	}
	args := sp.Args()
	if !hasFlag(args, "--disableAutomaticTypingAcquisition") {
		t.Fatalf("args = %v, missing --disableAutomaticTypingAcquisition", args)
	}
	if hasFlag(args, "--npmLocation") || hasFlag(args, "--validateDefaultNpmLocation") {
		t.Fatalf("args = %v, npm flags with typings disabled", args)
	}
}

func TestBuildSpawnLoggingNeedsBothSettings(t *testing.T) {
	cfg := Config{
		TSServerPath: "/opt/ts/lib/tsserver.js",
		LogVerbosity: "verbose",
	}
	sp, err := BuildSpawn(cfg, VersionUnknown, "")
	if err != nil {
		t.Fatalf("BuildSpawn() error = %v", err)
	}
	args := sp.Args()
	if hasFlag(args, "--logVerbosity") || hasFlag(args, "--logFile") {
		t.Fatalf("args = %v, logging flags without a log file", args)
	}
}

func TestBuildSpawnIPCVersionGate(t *testing.T) {
	tests := []struct {
		name     string
		version  APIVersion
		wantErr  bool
		wantFlag bool
	}{
		{"too old", ParseAPIVersion("4.3.0"), true, false},
		{"minimum", ParseAPIVersion("4.4.0"), false, true},
		{"newer", ParseAPIVersion("5.5.4"), false, true},
		{"unknown version allowed", VersionUnknown, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{TSServerPath: "/opt/ts/lib/tsserver.js", Transport: TransportIPC}
			sp, err := BuildSpawn(cfg, tt.version, "")
			if tt.wantErr {
				if err == nil {
					t.Fatal("BuildSpawn() error = nil, want version error")
				}
				return
			}
			if err != nil {
				t.Fatalf("BuildSpawn() error = %v", err)
			}
			if got := hasFlag(sp.Args(), "--useNodeIpc"); got != tt.wantFlag {
				t.Fatalf("--useNodeIpc present = %v, want %v", got, tt.wantFlag)
			}
			if !sp.UseIPC {
				t.Fatal("UseIPC = false, want true")
			}
		})
	}
}

func TestBuildSpawnIPCFlagOnlyForIPCTransport(t *testing.T) {
	cfg := Config{TSServerPath: "/opt/ts/lib/tsserver.js", Transport: TransportProc}
	sp, err := BuildSpawn(cfg, ParseAPIVersion("4.3.0"), "")
	if err != nil {
		t.Fatalf("BuildSpawn() error = %v", err)
	}
	if hasFlag(sp.Args(), "--useNodeIpc") || sp.UseIPC {
		t.Fatal("ipc flag set for proc transport")
	}
}

func TestBuildSpawnMissingServerPath(t *testing.T) {
	if _, err := BuildSpawn(Config{}, VersionUnknown, ""); err == nil {
		t.Fatal("BuildSpawn() error = nil, want missing path error")
	}
}
