package gitcmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/tasuku43/gitpush/internal/infra/debuglog"
)

// Process is a long-running git command whose output is consumed as it is
// produced. Callers drain Stdout and Stderr before calling Wait.
type Process struct {
	Stdout io.ReadCloser
	Stderr io.ReadCloser

	cmd    *exec.Cmd
	cancel context.CancelFunc
	entry  debuglog.Entry
}

// Start launches git without waiting for it. The operation timeout still
// applies and kills the whole process group when it expires.
func (r *Runner) Start(ctx context.Context, args []string, opts Options) (*Process, error) {
	if err := validateArgs(args); err != nil {
		return nil, err
	}
	op := opts.Op
	if op == "" {
		op = classify(args)
	}
	runCtx, cancel := context.WithTimeout(ctx, r.timeouts().For(op))
	cmd := exec.CommandContext(runCtx, r.binary(), args...)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	cmd.Env = r.env()
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	entry := debuglog.Entry{Task: r.task, Op: string(op)}
	if debuglog.Enabled() {
		entry.Trace = debuglog.NewTrace("git")
		debuglog.LogCommand(entry, debuglog.FormatCommand("git", args), r.redactor)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("git %s start failed: %w", r.describe(args), err)
	}
	return &Process{Stdout: stdout, Stderr: stderr, cmd: cmd, cancel: cancel, entry: entry}, nil
}

func (p *Process) PID() int {
	if p == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Entry returns the trace entry the process was logged under.
func (p *Process) Entry() debuglog.Entry {
	return p.entry
}

// Signal delivers sig to the process group.
func (p *Process) Signal(sig os.Signal) error {
	if p == nil || p.cmd.Process == nil {
		return os.ErrProcessDone
	}
	return signalGroup(p.cmd.Process, sig)
}

func (p *Process) Kill() error {
	return p.Signal(os.Kill)
}

// Wait reaps the process and returns its exit code.
func (p *Process) Wait() (int, error) {
	defer p.cancel()
	err := p.cmd.Wait()
	code := exitCode(err)
	if debuglog.Enabled() {
		debuglog.LogExit(p.entry, code)
	}
	return code, err
}
