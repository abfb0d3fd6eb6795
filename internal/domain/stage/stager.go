package stage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/tasuku43/gitpush/internal/apperr"
	"github.com/tasuku43/gitpush/internal/domain/task"
	"github.com/tasuku43/gitpush/internal/infra/paths"
)

const (
	sequentialBelow = 8
	maxWorkers      = 16
)

// ErrNothingToPublish is returned when no source produced a file or an empty
// directory marker.
var ErrNothingToPublish = apperr.New(apperr.CodeValidation, "nothing to publish")

type Request struct {
	Sources  []string
	Dest     string
	Conflict task.Conflict
	Ignore   []string
	Limits   task.Limits
	// Progress receives the running counters after every processed entry.
	Progress func(task.Counters)
}

type Option func(*Stager)

// WithPressure installs a check consulted before sizing the worker pool.
func WithPressure(underPressure func() bool) Option {
	return func(s *Stager) {
		s.pressure = underPressure
	}
}

// WithWorkers caps the copy pool size.
func WithWorkers(n int) Option {
	return func(s *Stager) {
		if n > 0 {
			s.workers = n
		}
	}
}

// Stager copies sources into a workspace applying ignore rules, conflict
// strategies and limits.
type Stager struct {
	logger   *slog.Logger
	pressure func() bool
	workers  int
}

func New(logger *slog.Logger, opts ...Option) *Stager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Stager{logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stage copies every source under req.Dest. Cancellation is observed
// between files.
func (s *Stager) Stage(ctx context.Context, req Request) (task.Counters, error) {
	if req.Conflict == "" {
		req.Conflict = task.ConflictOverwrite
	}
	req.Limits = req.Limits.WithDefaults()
	p, err := s.plan(ctx, req)
	if err != nil {
		return task.Counters{}, err
	}

	for _, j := range p.files {
		if j.size > req.Limits.MaxSingleFile {
			return task.Counters{}, apperr.LimitExceeded("file %s exceeds the single file limit (%d > %d bytes)",
				j.dest, j.size, req.Limits.MaxSingleFile)
		}
	}

	acc := &accumulator{limits: req.Limits, progress: req.Progress}
	locks := &dirLocks{}
	process := func(j job) {
		if acc.failed() || ctx.Err() != nil {
			return
		}
		s.processFile(req, j, acc, locks)
	}

	workers := s.workerCount(len(p.files))
	if workers <= 1 {
		for _, j := range p.files {
			if ctx.Err() != nil || acc.failed() {
				break
			}
			process(j)
		}
	} else {
		if err := s.runPool(ctx, workers, p.files, acc, process); err != nil {
			return acc.snapshot(), err
		}
	}
	if err := ctx.Err(); err != nil {
		return acc.snapshot(), err
	}
	if err := acc.err(); err != nil {
		return acc.snapshot(), err
	}

	for _, dir := range p.emptyDirs {
		if err := ctx.Err(); err != nil {
			return acc.snapshot(), err
		}
		if err := writeKeep(filepath.Join(req.Dest, dir)); err != nil {
			s.logger.Warn("create .gitkeep failed", "dir", dir, "error", err)
			continue
		}
		acc.emptyDir()
	}

	counters := acc.snapshot()
	if acc.processed() == 0 && counters.EmptyDirs == 0 {
		return counters, ErrNothingToPublish
	}
	return counters, nil
}

func (s *Stager) runPool(ctx context.Context, workers int, files []job, acc *accumulator, process func(job)) error {
	pool, err := ants.NewPool(workers, ants.WithOptions(ants.Options{
		PanicHandler: func(p any) {
			s.logger.Error("stage worker panic", "panic", p)
		},
	}))
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, err, "create copy pool")
	}
	defer pool.Release()

	s.logger.Debug("staging in parallel", "files", len(files), "workers", workers)
	var wg sync.WaitGroup
	for _, j := range files {
		if ctx.Err() != nil || acc.failed() {
			break
		}
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			process(j)
		}); err != nil {
			wg.Done()
			s.logger.Warn("submit copy failed", "path", j.src, "error", err)
			acc.ioFailure()
		}
	}
	wg.Wait()
	return nil
}

func (s *Stager) workerCount(files int) int {
	if files < sequentialBelow {
		return 1
	}
	n := min(files, runtime.NumCPU()*2, maxWorkers)
	if s.workers > 0 {
		n = min(n, s.workers)
	}
	if s.pressure != nil && s.pressure() {
		n = max(1, n/2)
	}
	return n
}

func (s *Stager) processFile(req Request, j job, acc *accumulator, locks *dirLocks) {
	if j.size > req.Limits.MaxSingleFile {
		acc.fail(apperr.LimitExceeded("file %s exceeds the single file limit (%d > %d bytes)",
			j.dest, j.size, req.Limits.MaxSingleFile))
		return
	}
	dest := filepath.Join(req.Dest, j.dest)
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.logger.Warn("create directory failed", "path", dir, "error", err)
		acc.ioFailure()
		return
	}

	outcome := outcomeCopied
	if _, err := os.Lstat(dest); err == nil {
		switch req.Conflict {
		case task.ConflictSkip:
			acc.record(outcomeSkipped, 0)
			return
		case task.ConflictRename:
			outcome = outcomeRenamed
		default:
			same, err := SameContent(j.src, dest)
			if err != nil {
				s.logger.Warn("compare failed", "path", j.src, "error", err)
			}
			if same {
				acc.record(outcomeIdentical, 0)
				return
			}
		}
	}

	if err := acc.reserve(j.size); err != nil {
		acc.fail(err)
		return
	}
	if outcome == outcomeRenamed {
		name, err := locks.claimUnique(dir, filepath.Base(dest))
		if err != nil {
			s.logger.Warn("pick unique name failed", "path", dest, "error", err)
			acc.release(j.size)
			acc.ioFailure()
			return
		}
		dest = filepath.Join(dir, name)
	}
	written, err := copyFile(j.src, dest)
	acc.release(j.size)
	if err != nil {
		s.logger.Warn("copy failed", "src", j.src, "dest", dest, "error", err)
		if outcome == outcomeRenamed {
			_ = os.Remove(dest)
		}
		acc.ioFailure()
		return
	}
	acc.record(outcome, written)
}

func writeKeep(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	keep := filepath.Join(dir, ".gitkeep")
	if ok, _ := paths.FileExists(keep); ok {
		return nil
	}
	return os.WriteFile(keep, nil, 0o644)
}
