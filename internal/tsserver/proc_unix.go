//go:build unix

package tsserver

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// exitSignal names the terminating signal, if the process was signaled.
func exitSignal(err *exec.ExitError) string {
	ws, ok := err.Sys().(syscall.WaitStatus)
	if ok && ws.Signaled() {
		return ws.Signal().String()
	}
	return ""
}

// setSysProcAttr puts the child in its own process group so Kill can take
// its descendants down with it.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessTree kills the child's process group, falling back to the
// process itself.
func killProcessTree(p *os.Process) {
	pgid, err := unix.Getpgid(p.Pid)
	if err == nil && pgid == p.Pid {
		if unix.Kill(-pgid, unix.SIGKILL) == nil {
			return
		}
	}
	p.Kill()
}

// newIPCChannel creates the duplex channel passed to the child as fd 3.
func newIPCChannel() (parent, child *os.File, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	parent = os.NewFile(uintptr(fds[0]), "tsserver-ipc-parent")
	child = os.NewFile(uintptr(fds[1]), "tsserver-ipc-child")
	return parent, child, nil
}
