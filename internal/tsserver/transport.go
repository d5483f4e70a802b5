package tsserver

import (
	"context"
	"strconv"
)

// ExitStatus describes how a server instance went away.
type ExitStatus struct {
	// Code is the process exit code, or -1 when killed by a signal.
	Code int

	// Signal names the terminating signal, if any.
	Signal string
}

// String returns a human-readable status.
func (s ExitStatus) String() string {
	if s.Signal != "" {
		return "signal " + s.Signal
	}
	return "exit code " + strconv.Itoa(s.Code)
}

// Transport moves framed messages to and from one server instance.
// Implementations: ChildTransport (spawned process, stdio or node IPC
// channel) and SocketTransport (attach over TCP).
type Transport interface {
	// Write frames and sends one message payload.
	// Returns ErrTransportClosed once the peer is gone.
	Write(ctx context.Context, msg []byte) error

	// Messages returns the incoming payload channel. It is closed after
	// the final message when the stream ends, for any reason.
	Messages() <-chan []byte

	// Err yields the fatal stream error, if one occurred, after Messages
	// closes. Clean EOF yields nothing.
	Err() <-chan error

	// Exit yields the peer's exit status exactly once.
	Exit() <-chan ExitStatus

	// Kill hard-stops the peer and releases the transport. Idempotent.
	Kill()
}
