package tsserver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
)

// SocketTransport attaches to an already-running server over TCP.
// Requests are always line-framed (that is what the server parses);
// the read side honors mode, including FrameAuto detection on the first
// byte. The cancellation pipe cannot reach an attached server: cancelled
// requests still resolve immediately, but the server runs them to
// completion and the late responses are dropped.
type SocketTransport struct {
	conn   net.Conn
	writer *FrameWriter
	logger *slog.Logger

	msgCh   chan []byte
	errCh   chan error
	exitCh  chan ExitStatus
	closeCh chan struct{}

	exited    atomic.Bool
	closeOnce sync.Once
}

// DialSocketTransport connects to addr and wraps the connection.
func DialSocketTransport(ctx context.Context, addr string, mode FramingMode, logger *slog.Logger) (*SocketTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial tsserver %s: %w", addr, err)
	}
	t := newSocketTransport(conn, mode, logger)
	t.logger.Debug("tsserver attached", "addr", addr, "framing", mode.String())
	return t, nil
}

func newSocketTransport(conn net.Conn, mode FramingMode, logger *slog.Logger) *SocketTransport {
	if logger == nil {
		logger = slog.Default()
	}
	t := &SocketTransport{
		conn:    conn,
		writer:  NewFrameWriter(conn, FrameLines),
		logger:  logger,
		msgCh:   make(chan []byte, 16),
		errCh:   make(chan error, 1),
		exitCh:  make(chan ExitStatus, 1),
		closeCh: make(chan struct{}),
	}
	go t.readLoop(NewFrameReader(conn, mode))
	return t
}

// Write implements Transport.
func (t *SocketTransport) Write(ctx context.Context, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.exited.Load() || t.closed() {
		return ErrTransportClosed
	}
	return t.writer.WriteMessage(msg)
}

// Messages implements Transport.
func (t *SocketTransport) Messages() <-chan []byte { return t.msgCh }

// Err implements Transport.
func (t *SocketTransport) Err() <-chan error { return t.errCh }

// Exit implements Transport.
func (t *SocketTransport) Exit() <-chan ExitStatus { return t.exitCh }

// Kill implements Transport. Closing the connection is all a detached
// client can do.
func (t *SocketTransport) Kill() {
	t.closeOnce.Do(func() {
		close(t.closeCh)
		t.conn.Close()
	})
}

func (t *SocketTransport) closed() bool {
	select {
	case <-t.closeCh:
		return true
	default:
		return false
	}
}

func (t *SocketTransport) readLoop(fr *FrameReader) {
	for {
		msg, err := fr.ReadMessage()
		if err != nil {
			if err != io.EOF && !t.closed() {
				select {
				case t.errCh <- err:
				default:
				}
			}
			t.exited.Store(true)
			close(t.msgCh)
			t.exitCh <- ExitStatus{Code: 0, Signal: "hangup"}
			return
		}
		select {
		case t.msgCh <- msg:
		case <-t.closeCh:
			t.exited.Store(true)
			close(t.msgCh)
			t.exitCh <- ExitStatus{Code: 0, Signal: "hangup"}
			return
		}
	}
}
