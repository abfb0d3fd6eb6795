//go:build !unix

package gitcmd

import (
	"os"
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

func signalGroup(p *os.Process, sig os.Signal) error {
	return p.Signal(sig)
}

var Terminate os.Signal = os.Interrupt
