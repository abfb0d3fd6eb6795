// Package push runs push tasks: admission, workspace preparation, staging,
// commit and the supervised publish.
package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tasuku43/gitpush/internal/apperr"
	"github.com/tasuku43/gitpush/internal/app/monitor"
	"github.com/tasuku43/gitpush/internal/config"
	"github.com/tasuku43/gitpush/internal/domain/publish"
	"github.com/tasuku43/gitpush/internal/domain/queue"
	"github.com/tasuku43/gitpush/internal/domain/stage"
	"github.com/tasuku43/gitpush/internal/domain/task"
	"github.com/tasuku43/gitpush/internal/domain/workspace"
	"github.com/tasuku43/gitpush/internal/infra/archive"
	"github.com/tasuku43/gitpush/internal/infra/gitcmd"
	"github.com/tasuku43/gitpush/internal/infra/paths"
)

type SubmitResult struct {
	TaskID  string
	Status  task.Status
	Message string
}

type CancelResult struct {
	TaskID  string
	Success bool
	Message string
}

type Stats struct {
	Queued   int
	Running  int
	Ceiling  int
	Live     int
	ByStatus map[task.Status]int
}

// Service is the entry point for submitting, observing and cancelling push
// tasks. Start launches the dispatcher and the monitor; Close stops both.
type Service struct {
	cfg        config.Config
	store      *task.Store
	queue      *queue.Queue
	workspaces *workspace.Manager
	stager     *stage.Stager
	git        *gitcmd.Runner
	supervisor *publish.Supervisor
	monitor    *monitor.Monitor
	archive    *archive.Archive
	logger     *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	stop    context.CancelFunc
	loops   sync.WaitGroup
}

type Option func(*options)

type options struct {
	gitEnv    []string
	gitBinary string
	sampler   monitor.Sampler
}

// WithGitEnv appends variables to the environment of every git command.
func WithGitEnv(env ...string) Option {
	return func(o *options) {
		o.gitEnv = append(o.gitEnv, env...)
	}
}

// WithGitBinary runs the given executable instead of git from PATH.
func WithGitBinary(path string) Option {
	return func(o *options) {
		o.gitBinary = path
	}
}

func WithSampler(s monitor.Sampler) Option {
	return func(o *options) {
		o.sampler = s
	}
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Root == "" {
		return nil, errors.New("root directory is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	git := gitcmd.NewRunner(cfg.Timeouts.Git())
	git.Env = o.gitEnv
	if o.gitBinary != "" {
		git.Binary = o.gitBinary
	}

	s := &Service{
		cfg:     cfg,
		store:   task.NewStore(task.WithDefaultHost(cfg.GitHost)),
		queue:   queue.New(cfg.MaxConcurrent),
		git:     git,
		logger:  logger,
		cancels: map[string]context.CancelFunc{},
	}
	s.workspaces = workspace.NewManager(cfg.Root, git, cfg.Identity(), logger)
	s.supervisor = publish.NewSupervisor(git, cfg.CancelGrace, logger)

	monitorOpts := []monitor.Option{monitor.WithSampler(o.sampler)}
	if cfg.ArchiveEnabled() {
		arch, err := archive.Open(ctx, cfg.Archive)
		if err != nil {
			return nil, err
		}
		s.archive = arch
		monitorOpts = append(monitorOpts, monitor.WithArchiver(arch))
	}
	s.monitor = monitor.New(s.store, s.supervisor, monitor.Options{
		Interval:            cfg.MonitorInterval,
		Retention:           cfg.Retention,
		AggressiveRetention: cfg.AggressiveRetention,
		MemoryCeiling:       cfg.MemoryCeilingBytes(),
		CPUCeiling:          cfg.CPUCeilingPercent,
		ArchiveRetention:    cfg.ArchiveRetention,
	}, logger, monitorOpts...)
	s.stager = stage.New(logger, stage.WithPressure(s.monitor.UnderPressure))
	return s, nil
}

// Start launches the dispatcher and the monitor. Calling it twice is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return
	}
	loopCtx, stop := context.WithCancel(ctx)
	s.stop = stop
	s.mu.Unlock()

	s.logger.Info("push service started",
		"root", s.cfg.Root,
		"workspaces", paths.WorkspacesRoot(s.cfg.Root),
		"max_concurrent", s.queue.Ceiling(),
		"archive", s.archive != nil,
	)
	s.loops.Add(2)
	go func() {
		defer s.loops.Done()
		_ = s.queue.Run(loopCtx, s.handle)
	}()
	go func() {
		defer s.loops.Done()
		_ = s.monitor.Run(loopCtx)
	}()
}

// Close cancels running tasks, stops the background loops and makes sure no
// publish subprocess outlives the service.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	stop := s.stop
	s.mu.Unlock()
	if stop != nil {
		stop()
	}

	done := make(chan struct{})
	go func() {
		s.loops.Wait()
		close(done)
	}()
	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}
	s.supervisor.TerminateAll(s.supervisor.Grace())

	for _, snap := range s.store.List() {
		if snap.Status != task.StatusPending {
			continue
		}
		_, _ = s.store.Update(snap.ID, func(t *task.Task) {
			t.Status = task.StatusCanceled
			t.Progress = "service stopped"
		})
	}
	if s.archive != nil {
		if err := s.archive.Close(); err != nil && waitErr == nil {
			waitErr = err
		}
	}
	s.logger.Info("push service stopped")
	return waitErr
}

// Submit validates spec and queues a new task.
func (s *Service) Submit(ctx context.Context, spec task.Spec) (SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return SubmitResult{}, err
	}
	snap, err := s.store.Submit(spec)
	if err != nil {
		return SubmitResult{}, err
	}
	s.queue.Push(snap.ID, snap.Spec.Priority)
	s.logger.Info("push task queued",
		"task_id", snap.ID,
		"repo", snap.RepoKey,
		"branch", snap.Spec.Branch,
		"paths", len(snap.Spec.Paths),
		"priority", snap.Spec.Priority,
	)
	return SubmitResult{TaskID: snap.ID, Status: snap.Status, Message: "push task queued"}, nil
}

// Status returns the current snapshot of a task. Tasks already evicted from
// memory are looked up in the archive.
func (s *Service) Status(ctx context.Context, id string) (task.Snapshot, error) {
	snap, err := s.store.Get(id)
	if err == nil || s.archive == nil || !apperr.Is(err, apperr.CodeNotFound) {
		return snap, err
	}
	rec, archErr := s.archive.Get(ctx, id)
	if archErr != nil {
		if errors.Is(archErr, archive.ErrNotFound) {
			return task.Snapshot{}, err
		}
		return task.Snapshot{}, apperr.Wrap(apperr.CodeInternal, archErr, "read archive")
	}
	return fromRecord(rec), nil
}

func (s *Service) List() []task.Snapshot {
	return s.store.List()
}

// History returns archived tasks, most recent first.
func (s *Service) History(ctx context.Context, limit int) ([]task.Snapshot, error) {
	if s.archive == nil {
		return nil, nil
	}
	records, err := s.archive.Recent(ctx, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "read archive")
	}
	out := make([]task.Snapshot, 0, len(records))
	for _, rec := range records {
		out = append(out, fromRecord(rec))
	}
	return out, nil
}

func (s *Service) Stats() Stats {
	return Stats{
		Queued:   s.queue.Len(),
		Running:  s.queue.Running(),
		Ceiling:  s.queue.Ceiling(),
		Live:     len(s.supervisor.Live()),
		ByStatus: s.store.Counts(),
	}
}

// Ready reports whether the dispatcher is running.
func (s *Service) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

// Cancel stops a task. A queued task is dropped immediately; a running task
// is interrupted at its next checkpoint and a live push is terminated before
// Cancel returns.
func (s *Service) Cancel(ctx context.Context, id string) (CancelResult, error) {
	snap, err := s.store.RequestCancel(id)
	if err != nil {
		return CancelResult{}, err
	}
	result := CancelResult{TaskID: id}
	if snap.Status.Terminal() {
		result.Message = fmt.Sprintf("task already finished: %s", snap.Status)
		return result, nil
	}
	if s.queue.Remove(id) {
		if _, err := s.store.Update(id, func(t *task.Task) {
			t.Status = task.StatusCanceled
			t.Progress = "canceled"
		}); err != nil {
			return CancelResult{}, err
		}
		s.logger.Info("queued task canceled", "task_id", id)
		result.Success = true
		result.Message = "task canceled before it started"
		return result, nil
	}

	s.mu.Lock()
	cancel := s.cancels[id]
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if run, ok := s.supervisor.Lookup(id); ok {
		if err := run.Cancel(s.supervisor.Grace()); err != nil {
			return CancelResult{}, apperr.Wrap(apperr.CodeInternal, err, "terminate push")
		}
		result.Success = true
		result.Message = "task canceled"
		return result, nil
	}
	result.Success = true
	result.Message = "cancellation requested"
	return result, nil
}

// Watch polls a task and sends every snapshot that differs from the
// previous one. The channel is closed after a terminal snapshot or when ctx
// is done.
func (s *Service) Watch(ctx context.Context, id string, interval time.Duration) (<-chan task.Snapshot, error) {
	first, err := s.Status(ctx, id)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ch := make(chan task.Snapshot, 1)
	go func() {
		defer close(ch)
		send := func(snap task.Snapshot) bool {
			select {
			case ch <- snap:
				return true
			case <-ctx.Done():
				return false
			}
		}
		last := first
		if !send(first) || first.Status.Terminal() {
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			snap, err := s.Status(ctx, id)
			if err != nil {
				return
			}
			if changed(last, snap) {
				if !send(snap) {
					return
				}
				last = snap
			}
			if snap.Status.Terminal() {
				return
			}
		}
	}()
	return ch, nil
}

func changed(a, b task.Snapshot) bool {
	return a.Status != b.Status ||
		a.Progress != b.Progress ||
		a.PID != b.PID ||
		a.Counters != b.Counters ||
		len(a.Output) != len(b.Output) ||
		len(a.Error) != len(b.Error)
}

func (s *Service) track(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancels[id] = cancel
	s.mu.Unlock()
}

func (s *Service) untrack(id string) {
	s.mu.Lock()
	delete(s.cancels, id)
	s.mu.Unlock()
}

func fromRecord(rec archive.Record) task.Snapshot {
	return task.Snapshot{Task: task.Task{
		ID:       rec.TaskID,
		Spec:     task.Spec{Branch: rec.Branch},
		RepoKey:  rec.RepoKey,
		Status:   task.Status(rec.Status),
		Progress: "archived",
		Error:    rec.Error,
		Counters: task.Counters{
			Copied:           rec.Copied,
			Skipped:          rec.Skipped,
			Renamed:          rec.Renamed,
			SkippedIdentical: rec.SkippedIdentical,
			EmptyDirs:        rec.EmptyDirs,
			TotalBytes:       rec.TotalBytes,
			TotalFiles:       rec.TotalFiles,
		},
		CreatedAt:  rec.CreatedAt,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
	}}
}
