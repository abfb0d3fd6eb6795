package publish

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tasuku43/gitpush/internal/apperr"
	"github.com/tasuku43/gitpush/internal/infra/gitcmd"
	"github.com/tasuku43/gitpush/internal/infra/redact"
)

const (
	DefaultGrace = 5 * time.Second
	remoteName   = "origin"
)

// Sink receives redacted output lines as they are produced.
type Sink interface {
	Stdout(line string)
	Stderr(line string)
}

type Request struct {
	TaskID   string
	Dir      string
	Branch   string
	Force    bool
	Redactor redact.Redactor
	Sink     Sink
}

// Supervisor launches publish subprocesses and keeps a registry of the live
// ones for cancellation and shutdown.
type Supervisor struct {
	git    *gitcmd.Runner
	logger *slog.Logger
	grace  time.Duration

	mu   sync.Mutex
	live map[string]*Run
}

func NewSupervisor(git *gitcmd.Runner, grace time.Duration, logger *slog.Logger) *Supervisor {
	if git == nil {
		git = gitcmd.NewRunner(nil)
	}
	if grace <= 0 {
		grace = DefaultGrace
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Supervisor{git: git, logger: logger, grace: grace, live: map[string]*Run{}}
}

func (s *Supervisor) Grace() time.Duration {
	return s.grace
}

// Start spawns the push. Cancelling ctx terminates the process gracefully:
// SIGTERM to its group, then SIGKILL after the grace period.
func (s *Supervisor) Start(ctx context.Context, req Request) (*Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	args := gitcmd.PushArgs(remoteName, req.Branch, req.Force)
	git := s.git.With(req.TaskID, req.Redactor)
	proc, err := git.Start(context.WithoutCancel(ctx), args, gitcmd.Options{Dir: req.Dir})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodePublishFailure, err, "start push")
	}
	run := &Run{
		TaskID:    req.TaskID,
		StartedAt: time.Now(),
		proc:      proc,
		done:      make(chan struct{}),
		logger:    s.logger.With("task_id", req.TaskID, "pid", proc.PID()),
	}
	s.register(run)
	s.logger.Info("push started", "task_id", req.TaskID, "pid", proc.PID(), "branch", req.Branch, "force", req.Force)

	go run.supervise(req, func() { s.unregister(run) })
	go func() {
		select {
		case <-ctx.Done():
			_ = run.Cancel(s.grace)
		case <-run.done:
		}
	}()
	return run, nil
}

func (s *Supervisor) register(run *Run) {
	s.mu.Lock()
	s.live[run.TaskID] = run
	s.mu.Unlock()
}

func (s *Supervisor) unregister(run *Run) {
	s.mu.Lock()
	if s.live[run.TaskID] == run {
		delete(s.live, run.TaskID)
	}
	s.mu.Unlock()
}

// Lookup returns the live run of a task.
func (s *Supervisor) Lookup(taskID string) (*Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.live[taskID]
	return run, ok
}

// Live lists the running publish processes ordered by start time.
func (s *Supervisor) Live() []*Run {
	s.mu.Lock()
	out := make([]*Run, 0, len(s.live))
	for _, run := range s.live {
		out = append(out, run)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// TerminateAll cancels every live run concurrently and waits for them.
func (s *Supervisor) TerminateAll(grace time.Duration) {
	if grace <= 0 {
		grace = s.grace
	}
	runs := s.Live()
	var wg sync.WaitGroup
	for _, run := range runs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run.Cancel(grace); err != nil {
				s.logger.Warn("terminate push failed", "task_id", run.TaskID, "error", err)
			}
		}()
	}
	wg.Wait()
	if len(runs) > 0 {
		s.logger.Info("terminated publish processes", "count", len(runs))
	}
}

// Reap kills a run without a grace period and waits for it to be collected.
func (s *Supervisor) Reap(taskID string) bool {
	run, ok := s.Lookup(taskID)
	if !ok {
		return false
	}
	_ = run.Cancel(0)
	return true
}
