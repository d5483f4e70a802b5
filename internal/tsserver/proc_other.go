//go:build !unix

package tsserver

import (
	"os"
	"os/exec"
)

func exitSignal(err *exec.ExitError) string { return "" }

func setSysProcAttr(cmd *exec.Cmd) {}

func killProcessTree(p *os.Process) { p.Kill() }

func newIPCChannel() (parent, child *os.File, err error) {
	return nil, nil, ErrIPCUnsupported
}
