package tsserver

import "encoding/json"

// Topics published by the client on the event bus.
const (
	TopicServerStarted        = "tsserver.started"
	TopicServerStopped        = "tsserver.stopped"
	TopicDiagnostics          = "tsserver.diagnostics"
	TopicConfigFileDiag       = "tsserver.configfilediag"
	TopicTypingsInstall       = "tsserver.typings"
	TopicProjectsUpdated      = "tsserver.projectsupdated"
	TopicLanguageServiceState = "tsserver.languageservice"
	TopicTelemetry            = "tsserver.telemetry"
)

// ServerStartedEvent announces a running server instance.
type ServerStartedEvent struct {
	Version   APIVersion
	PID       int
	Restarted bool
}

// Topic implements event.Event.
func (ServerStartedEvent) Topic() string { return TopicServerStarted }

// ServerStoppedEvent announces the end of an instance. Fatal is set when
// the crash loop escalated and no restart follows.
type ServerStoppedEvent struct {
	Status ExitStatus
	Fatal  bool
}

// Topic implements event.Event.
func (ServerStoppedEvent) Topic() string { return TopicServerStopped }

// DiagKind distinguishes the three diagnostics streams.
type DiagKind int

const (
	DiagSyntax DiagKind = iota
	DiagSemantic
	DiagSuggestion
)

// String returns a human-readable kind name.
func (k DiagKind) String() string {
	switch k {
	case DiagSyntax:
		return "syntax"
	case DiagSemantic:
		return "semantic"
	case DiagSuggestion:
		return "suggestion"
	default:
		return "unknown"
	}
}

// DiagnosticsEvent carries one file's diagnostics batch. Diagnostics is
// the server's array, uninterpreted.
type DiagnosticsEvent struct {
	Kind        DiagKind
	File        string
	Diagnostics json.RawMessage
}

// Topic implements event.Event.
func (DiagnosticsEvent) Topic() string { return TopicDiagnostics }

// ConfigFileDiagEvent carries diagnostics for a project config file.
type ConfigFileDiagEvent struct {
	TriggerFile string
	ConfigFile  string
	Diagnostics json.RawMessage
}

// Topic implements event.Event.
func (ConfigFileDiagEvent) Topic() string { return TopicConfigFileDiag }

// TypingsInstallEvent reports typings acquisition progress. Success is
// meaningful only when Begin is false.
type TypingsInstallEvent struct {
	Begin    bool
	Packages []string
	Success  bool
}

// Topic implements event.Event.
func (TypingsInstallEvent) Topic() string { return TopicTypingsInstall }

// ProjectsUpdatedEvent reports a background project graph update.
type ProjectsUpdatedEvent struct {
	OpenFiles []string
}

// Topic implements event.Event.
func (ProjectsUpdatedEvent) Topic() string { return TopicProjectsUpdated }

// LanguageServiceStateEvent reports the server enabling or disabling its
// language service for a project (large-project fallback).
type LanguageServiceStateEvent struct {
	ProjectName string
	Enabled     bool
}

// Topic implements event.Event.
func (LanguageServiceStateEvent) Topic() string { return TopicLanguageServiceState }

// TelemetryEvent passes through server telemetry.
type TelemetryEvent struct {
	Name    string
	Payload json.RawMessage
}

// Topic implements event.Event.
func (TelemetryEvent) Topic() string { return TopicTelemetry }
