package gitcmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/tasuku43/gitpush/internal/infra/debuglog"
	"github.com/tasuku43/gitpush/internal/infra/redact"
)

type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

type Options struct {
	Dir string
	// Op overrides the operation classified from the subcommand.
	Op Op
}

// Runner invokes the git executable. A zero Runner uses "git" from PATH and
// the default timeouts.
type Runner struct {
	Binary   string
	Timeouts Timeouts
	Env      []string

	task     string
	redactor redact.Redactor
}

func NewRunner(timeouts Timeouts) *Runner {
	return &Runner{Timeouts: DefaultTimeouts().Merge(timeouts)}
}

// With returns a copy of r that tags traces with task and masks output using redactor.
func (r *Runner) With(task string, redactor redact.Redactor) *Runner {
	next := *r
	next.task = task
	next.redactor = redactor
	return &next
}

// Redact masks text with the runner's redactor.
func (r *Runner) Redact(text string) string {
	return redact.Chain{r.redactor, redact.URLCredentials{}}.Redact(text)
}

// Run executes git synchronously under the timeout of the classified
// operation. Captured output is redacted before it is returned.
func (r *Runner) Run(ctx context.Context, args []string, opts Options) (Result, error) {
	if err := validateArgs(args); err != nil {
		return Result{
			Stderr:   err.Error(),
			ExitCode: -1,
		}, err
	}
	op := opts.Op
	if op == "" {
		op = classify(args)
	}
	timeout := r.timeouts().For(op)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.binary(), args...)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	cmd.Env = r.env()
	setProcessGroup(cmd)
	cmd.WaitDelay = 2 * time.Second

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	entry := debuglog.Entry{Task: r.task, Op: string(op)}
	if debuglog.Enabled() {
		entry.Trace = debuglog.NewTrace("git")
		debuglog.LogCommand(entry, debuglog.FormatCommand("git", args), r.redactor)
	}
	err := cmd.Run()
	result := Result{
		Stdout:   r.Redact(stdout.String()),
		Stderr:   r.Redact(stderr.String()),
		ExitCode: exitCode(err),
	}
	if debuglog.Enabled() {
		debuglog.LogStdoutLines(entry, result.Stdout, nil)
		debuglog.LogStderrLines(entry, result.Stderr, nil)
		debuglog.LogExit(entry, result.ExitCode)
	}
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return result, fmt.Errorf("git %s after %s: %w", r.describe(args), timeout, ErrTimeout)
		}
		if ctx.Err() != nil {
			return result, fmt.Errorf("git %s interrupted: %w", r.describe(args), ctx.Err())
		}
		return result, fmt.Errorf("git %s failed: %w", r.describe(args), err)
	}
	return result, nil
}

func (r *Runner) describe(args []string) string {
	return r.Redact(fmt.Sprintf("%v", args))
}

func (r *Runner) binary() string {
	if r == nil || strings.TrimSpace(r.Binary) == "" {
		return "git"
	}
	return r.Binary
}

func (r *Runner) timeouts() Timeouts {
	if r == nil || len(r.Timeouts) == 0 {
		return DefaultTimeouts()
	}
	return r.Timeouts
}

func (r *Runner) env() []string {
	env := os.Environ()
	if r != nil {
		env = append(env, r.Env...)
	}
	return append(env, "GIT_TERMINAL_PROMPT=0")
}

// IsNothingToCommit reports whether a commit failed only because the index
// matched HEAD.
func IsNothingToCommit(res Result) bool {
	text := strings.ToLower(res.Stdout + "\n" + res.Stderr)
	return strings.Contains(text, "nothing to commit") || strings.Contains(text, "nothing added to commit")
}

func validateArgs(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("git command is required")
	}
	if !isAllowedSubcommand(args[0]) {
		return fmt.Errorf("git subcommand %q is not allowed", args[0])
	}
	return nil
}

func isAllowedSubcommand(subcommand string) bool {
	_, ok := allowedSubcommands[subcommand]
	return ok
}

var allowedSubcommands = map[string]struct{}{
	"add":          {},
	"checkout":     {},
	"clean":        {},
	"clone":        {},
	"commit":       {},
	"config":       {},
	"fetch":        {},
	"init":         {},
	"ls-remote":    {},
	"pull":         {},
	"push":         {},
	"read-tree":    {},
	"remote":       {},
	"reset":        {},
	"rev-parse":    {},
	"status":       {},
	"symbolic-ref": {},
	"update-ref":   {},
	"version":      {},
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1
	}
	return exitErr.ExitCode()
}
