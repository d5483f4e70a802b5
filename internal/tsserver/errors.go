package tsserver

import (
	"errors"
	"fmt"
)

// Standard errors returned by the tsserver client.
var (
	// ErrNotStarted indicates the client has not been started.
	ErrNotStarted = errors.New("tsserver client not started")

	// ErrAlreadyStarted indicates the client is already running.
	ErrAlreadyStarted = errors.New("tsserver client already started")

	// ErrShutdown indicates the client has been shut down.
	ErrShutdown = errors.New("tsserver client shut down")

	// ErrServerExited indicates the server process terminated.
	ErrServerExited = errors.New("tsserver process exited")

	// ErrServerErrored indicates the server exceeded the restart policy
	// and will not be restarted.
	ErrServerErrored = errors.New("tsserver errored, not restarting")

	// ErrTransportClosed indicates a write to a dead transport.
	ErrTransportClosed = errors.New("transport closed")

	// ErrIPCUnsupported indicates the node IPC transport was requested on
	// a platform without socketpair support.
	ErrIPCUnsupported = errors.New("node ipc transport not supported on this platform")

	// ErrDocumentNotOpen indicates the document is not open.
	ErrDocumentNotOpen = errors.New("document not open")

	// ErrDocumentAlreadyOpen indicates the document is already open.
	ErrDocumentAlreadyOpen = errors.New("document already open")

	// ErrQueueClosed indicates an enqueue after the queue was drained.
	ErrQueueClosed = errors.New("request queue closed")
)

// ProtocolError indicates a malformed frame or message on the wire.
// The stream is unrecoverable after one of these.
type ProtocolError struct {
	Reason string
	Raw    []byte
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if len(e.Raw) > 0 {
		raw := e.Raw
		if len(raw) > 64 {
			raw = raw[:64]
		}
		return fmt.Sprintf("protocol error: %s: %q", e.Reason, raw)
	}
	return fmt.Sprintf("protocol error: %s", e.Reason)
}

// ResponseError represents a failed response from the server.
type ResponseError struct {
	Command string
	Seq     int64
	Message string
}

// Error implements the error interface.
func (e *ResponseError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tsserver %s request %d failed", e.Command, e.Seq)
	}
	return fmt.Sprintf("tsserver %s request %d failed: %s", e.Command, e.Seq, e.Message)
}
