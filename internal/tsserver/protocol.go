package tsserver

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Message types on the tsserver wire.
const (
	typeRequest  = "request"
	typeResponse = "response"
	typeEvent    = "event"
)

// Commands the pipeline itself issues or special-cases. Everything else
// passes through untouched.
const (
	CommandOpen             = "open"
	CommandChange           = "change"
	CommandClose            = "close"
	CommandGeterr           = "geterr"
	CommandGeterrForProject = "geterrForProject"
	CommandConfigure        = "configure"
	CommandCompilerOptions  = "compilerOptionsForInferredProjects"
	CommandExit             = "exit"
	CommandUpdateOpen       = "updateOpen"
	CommandReloadProjects   = "reloadProjects"
	CommandConfigurePlugin  = "configurePlugin"
)

// Events the pipeline recognizes.
const (
	EventRequestCompleted    = "requestCompleted"
	EventSyntaxDiag          = "syntaxDiag"
	EventSemanticDiag        = "semanticDiag"
	EventSuggestionDiag      = "suggestionDiag"
	EventConfigFileDiag      = "configFileDiag"
	EventProjectLangService  = "projectLanguageServiceState"
	EventProjectsUpdated     = "projectsUpdatedInBackground"
	EventTypingsInstallerPid = "typingsInstallerPid"
	EventBeginInstallTypes   = "beginInstallTypes"
	EventEndInstallTypes     = "endInstallTypes"
	EventTelemetry           = "telemetry"
)

// noContentMessage is the failure message the server uses for requests
// that succeeded but produced nothing. It is reported as an empty success.
const noContentMessage = "No content available."

// Request is a client-to-server message.
type Request struct {
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	Command   string          `json:"command"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Marshal encodes the request for the wire.
func (r *Request) Marshal() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", r.Command, err)
	}
	return data, nil
}

// Response is a server-to-client answer to a request.
type Response struct {
	Seq        int64           `json:"seq"`
	Type       string          `json:"type"`
	Command    string          `json:"command"`
	RequestSeq int64           `json:"request_seq"`
	Success    bool            `json:"success"`
	Message    string          `json:"message,omitempty"`
	Body       json.RawMessage `json:"body,omitempty"`
}

// IsNoContent reports whether the response is the server's success-empty
// special case.
func (r *Response) IsNoContent() bool {
	return !r.Success && r.Message == noContentMessage
}

// Event is an unsolicited server-to-client message.
type Event struct {
	Seq   int64           `json:"seq"`
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Body  json.RawMessage `json:"body,omitempty"`
}

// requestCompletedBody is the payload of a requestCompleted event.
type requestCompletedBody struct {
	RequestSeq int64 `json:"request_seq"`
}

// DecodeMessage decodes one wire payload into *Response or *Event.
// The type field is probed before the full decode so malformed bodies
// report which shape failed.
func DecodeMessage(data []byte) (any, error) {
	typ := gjson.GetBytes(data, "type")
	if !typ.Exists() {
		return nil, &ProtocolError{Reason: "message without type", Raw: data}
	}

	switch typ.String() {
	case typeResponse:
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, &ProtocolError{Reason: "malformed response", Raw: data}
		}
		return &resp, nil

	case typeEvent:
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, &ProtocolError{Reason: "malformed event", Raw: data}
		}
		return &ev, nil

	case typeRequest:
		// Servers do not send requests on this protocol.
		return nil, &ProtocolError{Reason: "unexpected request from server", Raw: data}

	default:
		return nil, &ProtocolError{Reason: "unknown message type " + typ.String(), Raw: data}
	}
}

// Location is a 1-based line and offset position in a document.
type Location struct {
	Line   int `json:"line"`
	Offset int `json:"offset"`
}

// Argument shapes for the requests the pipeline issues itself.
type openArgs struct {
	File            string `json:"file"`
	FileContent     string `json:"fileContent,omitempty"`
	ProjectRootPath string `json:"projectRootPath,omitempty"`
	ScriptKindName  string `json:"scriptKindName,omitempty"`
}

type changeArgs struct {
	File         string `json:"file"`
	Line         int    `json:"line"`
	Offset       int    `json:"offset"`
	EndLine      int    `json:"endLine"`
	EndOffset    int    `json:"endOffset"`
	InsertString string `json:"insertString"`
}

type closeArgs struct {
	File string `json:"file"`
}

type geterrArgs struct {
	Delay int64    `json:"delay"`
	Files []string `json:"files"`
}

// isFenceCommand reports whether the command mutates document state and
// must keep strict ordering.
func isFenceCommand(command string) bool {
	switch command {
	case CommandOpen, CommandChange, CommandClose, CommandUpdateOpen:
		return true
	}
	return false
}

// isAsyncCommand reports whether the command completes via a
// requestCompleted event rather than a response message.
func isAsyncCommand(command string) bool {
	switch command {
	case CommandGeterr, CommandGeterrForProject:
		return true
	}
	return false
}
