package tsserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
)

// ChildTransport is a spawned server child. StartProcTransport speaks the
// stdio protocol; StartIPCTransport speaks line-framed JSON over a node
// IPC channel on fd 3.
type ChildTransport struct {
	cmd    *exec.Cmd
	writer *FrameWriter
	logger *slog.Logger

	msgCh   chan []byte
	errCh   chan error
	exitCh  chan ExitStatus
	closeCh chan struct{}

	exited    atomic.Bool
	closeOnce sync.Once

	// ioWG counts the pipe readers. Wait closes the pipes, so it must
	// not run until they have drained.
	ioWG sync.WaitGroup

	// IPC channel parent end; nil in stdio mode.
	channel *os.File
}

// StartProcTransport spawns the server for the stdio protocol: requests go
// to stdin line-framed, responses come from stdout headers-framed, stderr
// is drained to the logger.
func StartProcTransport(ctx context.Context, sp Spawn, logger *slog.Logger) (*ChildTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.CommandContext(ctx, sp.NodePath, sp.Args()...)
	cmd.Dir = sp.Dir
	cmd.Env = append(os.Environ(), sp.Env...)
	setSysProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("start tsserver: %w", err)
	}

	t := newChildTransport(cmd, NewFrameWriter(stdin, FrameLines), logger)
	t.ioWG.Add(2)
	go t.readLoop(NewFrameReader(stdout, FrameHeaders))
	go t.drainLoop("stderr", stderr)
	go t.monitor()

	logger.Debug("tsserver spawned", "pid", cmd.Process.Pid, "transport", "proc")
	return t, nil
}

// StartIPCTransport spawns the server with a node IPC channel on fd 3 and
// line framing both ways. Stdio carries only server logs. Unix only.
func StartIPCTransport(ctx context.Context, sp Spawn, logger *slog.Logger) (*ChildTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}

	parent, child, err := newIPCChannel()
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, sp.NodePath, sp.Args()...)
	cmd.Dir = sp.Dir
	// ExtraFiles[0] lands on fd 3 in the child.
	cmd.ExtraFiles = []*os.File{child}
	cmd.Env = append(os.Environ(), "NODE_CHANNEL_FD=3")
	cmd.Env = append(cmd.Env, sp.Env...)
	setSysProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		parent.Close()
		child.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		parent.Close()
		child.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		parent.Close()
		child.Close()
		return nil, fmt.Errorf("start tsserver: %w", err)
	}
	// The child holds its own dup of the channel fd.
	child.Close()

	t := newChildTransport(cmd, NewFrameWriter(parent, FrameLines), logger)
	t.channel = parent
	t.ioWG.Add(3)
	go t.readLoop(NewFrameReader(parent, FrameLines))
	go t.drainLoop("stdout", stdout)
	go t.drainLoop("stderr", stderr)
	go t.monitor()

	logger.Debug("tsserver spawned", "pid", cmd.Process.Pid, "transport", "ipc")
	return t, nil
}

func newChildTransport(cmd *exec.Cmd, w *FrameWriter, logger *slog.Logger) *ChildTransport {
	return &ChildTransport{
		cmd:     cmd,
		writer:  w,
		logger:  logger,
		msgCh:   make(chan []byte, 16),
		errCh:   make(chan error, 1),
		exitCh:  make(chan ExitStatus, 1),
		closeCh: make(chan struct{}),
	}
}

// Write implements Transport.
func (t *ChildTransport) Write(ctx context.Context, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.exited.Load() || t.closed() {
		return ErrTransportClosed
	}
	return t.writer.WriteMessage(msg)
}

// Messages implements Transport.
func (t *ChildTransport) Messages() <-chan []byte { return t.msgCh }

// Err implements Transport.
func (t *ChildTransport) Err() <-chan error { return t.errCh }

// Exit implements Transport.
func (t *ChildTransport) Exit() <-chan ExitStatus { return t.exitCh }

// PID returns the child process id.
func (t *ChildTransport) PID() int {
	if t.cmd.Process == nil {
		return 0
	}
	return t.cmd.Process.Pid
}

// Kill implements Transport. The whole process group goes down so the
// typings installer child dies with the server.
func (t *ChildTransport) Kill() {
	t.closeOnce.Do(func() {
		close(t.closeCh)
		if t.channel != nil {
			t.channel.Close()
		}
		if t.cmd.Process != nil {
			killProcessTree(t.cmd.Process)
		}
	})
}

func (t *ChildTransport) closed() bool {
	select {
	case <-t.closeCh:
		return true
	default:
		return false
	}
}

func (t *ChildTransport) readLoop(fr *FrameReader) {
	defer t.ioWG.Done()
	for {
		msg, err := fr.ReadMessage()
		if err != nil {
			if err != io.EOF && !t.exited.Load() && !t.closed() {
				select {
				case t.errCh <- err:
				default:
				}
			}
			close(t.msgCh)
			return
		}
		select {
		case t.msgCh <- msg:
		case <-t.closeCh:
			close(t.msgCh)
			return
		}
	}
}

// drainLoop forwards server log output to the client logger.
func (t *ChildTransport) drainLoop(name string, r io.Reader) {
	defer t.ioWG.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		t.logger.Debug("tsserver "+name, "line", line)
	}
}

func (t *ChildTransport) monitor() {
	t.ioWG.Wait()
	err := t.cmd.Wait()
	t.exited.Store(true)
	if t.channel != nil {
		t.channel.Close()
	}
	st := exitStatusOf(err)
	t.logger.Debug("tsserver exited", "status", st.String())
	t.exitCh <- st
}

func exitStatusOf(err error) ExitStatus {
	if err == nil {
		return ExitStatus{Code: 0}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return ExitStatus{Code: exitErr.ExitCode(), Signal: exitSignal(exitErr)}
	}
	return ExitStatus{Code: -1}
}
