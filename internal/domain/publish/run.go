package publish

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tasuku43/gitpush/internal/infra/debuglog"
	"github.com/tasuku43/gitpush/internal/infra/gitcmd"
	"github.com/tasuku43/gitpush/internal/infra/redact"
)

// Run is one publish subprocess.
type Run struct {
	TaskID    string
	StartedAt time.Time

	proc   *gitcmd.Process
	logger *slog.Logger

	done     chan struct{}
	exitCode int
	err      error

	cancelOnce sync.Once
	canceled   atomic.Bool
}

func (r *Run) PID() int {
	return r.proc.PID()
}

// Done is closed once the process has exited and its output is drained.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the process exits and returns its exit code.
func (r *Run) Wait() (int, error) {
	<-r.done
	return r.exitCode, r.err
}

// Canceled reports whether Cancel was called before the process exited.
func (r *Run) Canceled() bool {
	return r.canceled.Load()
}

// Cancel sends SIGTERM to the process group, escalates to SIGKILL after
// grace and returns once the process is gone. It is safe to call repeatedly.
func (r *Run) Cancel(grace time.Duration) error {
	var sigErr error
	r.cancelOnce.Do(func() {
		select {
		case <-r.done:
			return
		default:
		}
		r.canceled.Store(true)
		if grace > 0 {
			r.logger.Info("terminating push", "grace", grace)
			if err := r.proc.Signal(gitcmd.Terminate); err != nil && !errors.Is(err, os.ErrProcessDone) {
				sigErr = err
			}
			timer := time.NewTimer(grace)
			defer timer.Stop()
			select {
			case <-r.done:
				return
			case <-timer.C:
			}
		}
		r.logger.Warn("killing push")
		if err := r.proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			sigErr = err
		}
	})
	<-r.done
	return sigErr
}

func (r *Run) supervise(req Request, unregister func()) {
	defer close(r.done)
	defer unregister()

	entry := r.proc.Entry()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.pump("stdout", r.proc.Stdout, req.Redactor, entry, req.Sink.Stdout)
	}()
	go func() {
		defer wg.Done()
		r.pump("stderr", r.proc.Stderr, req.Redactor, entry, req.Sink.Stderr)
	}()
	wg.Wait()
	r.exitCode, r.err = r.proc.Wait()
	r.logger.Info("push exited", "code", r.exitCode, "canceled", r.canceled.Load())
}

func (r *Run) pump(kind string, src io.Reader, redactor redact.Redactor, entry debuglog.Entry, sink func(string)) {
	err := redact.Each(src, redactor, func(line string) {
		if debuglog.Enabled() {
			debuglog.LogLine(entry, kind, line, nil)
		}
		sink(line)
	})
	if err != nil {
		r.logger.Warn("read push output failed", "stream", kind, "error", err)
		// keep the pipe drained so the process cannot block on a full buffer
		_, _ = io.Copy(io.Discard, src)
	}
}
