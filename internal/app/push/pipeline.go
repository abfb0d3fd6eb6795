package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tasuku43/gitpush/internal/apperr"
	"github.com/tasuku43/gitpush/internal/domain/publish"
	"github.com/tasuku43/gitpush/internal/domain/repospec"
	"github.com/tasuku43/gitpush/internal/domain/stage"
	"github.com/tasuku43/gitpush/internal/domain/task"
	"github.com/tasuku43/gitpush/internal/domain/workspace"
	"github.com/tasuku43/gitpush/internal/infra/gitcmd"
	"github.com/tasuku43/gitpush/internal/infra/logging"
	"github.com/tasuku43/gitpush/internal/infra/redact"
)

var errCanceled = errors.New("task canceled")

// ErrNothingToCommit is reported when staging left the work tree identical
// to the remote branch.
var ErrNothingToCommit = apperr.New(apperr.CodeValidation, "nothing to commit: files are ignored or identical to the remote")

type publishError struct {
	code int
}

func (e *publishError) Error() string {
	return fmt.Sprintf("push failed with exit code %d", e.code)
}

// handle owns one task from dispatch to its terminal status.
func (s *Service) handle(ctx context.Context, id string) {
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.track(id, cancel)
	defer s.untrack(id)

	spec, err := s.store.Spec(id)
	if err != nil {
		s.logger.Warn("dispatched task vanished", "task_id", id, "error", err)
		return
	}
	logger := logging.ForTask(s.logger, id, spec.Repo, spec.Branch)
	if s.store.CancelRequested(id) {
		s.finish(id, errCanceled, logger)
		return
	}
	if _, err := s.store.Update(id, func(t *task.Task) {
		t.Status = task.StatusRunning
		t.Progress = "preparing workspace"
	}); err != nil {
		logger.Warn("start task failed", "error", err)
		return
	}
	logger.Info("push task started")
	s.finish(id, s.execute(taskCtx, id, spec, logger), logger)
}

func (s *Service) execute(ctx context.Context, id string, spec task.Spec, logger *slog.Logger) error {
	repo, err := repospec.NormalizeWithHost(spec.Repo, s.store.DefaultHost())
	if err != nil {
		return apperr.Validation("%v", err)
	}
	redactor := s.store.Redactor(id)
	if err := s.checkpoint(ctx, id); err != nil {
		return err
	}

	ws, err := s.workspaces.Prepare(ctx, workspace.Request{
		TaskID:     id,
		Repo:       repo,
		Branch:     spec.Branch,
		Credential: spec.Credential,
		Redactor:   redactor,
	})
	if err != nil {
		return err
	}
	defer ws.Release()
	s.progress(id, "staging files", func(t *task.Task) { t.Workspace = ws.Path })
	if err := s.checkpoint(ctx, id); err != nil {
		return err
	}

	counters, err := s.stager.Stage(ctx, stage.Request{
		Sources:  spec.Paths,
		Dest:     ws.Path,
		Conflict: spec.Conflict,
		Ignore:   spec.IgnorePatterns,
		Limits:   spec.Limits,
		Progress: func(c task.Counters) {
			_, _ = s.store.Update(id, func(t *task.Task) { t.Counters = c })
		},
	})
	if err != nil {
		return err
	}
	logger.Info("files staged",
		"copied", counters.Copied,
		"skipped", counters.Skipped,
		"renamed", counters.Renamed,
		"identical", counters.SkippedIdentical,
		"empty_dirs", counters.EmptyDirs,
		"bytes", counters.TotalBytes,
	)

	force, err := s.commit(ctx, id, ws, spec, redactor, logger)
	if err != nil {
		return err
	}
	if err := s.checkpoint(ctx, id); err != nil {
		return err
	}
	return s.publish(ctx, id, ws, force, redactor, logger)
}

// commit records the staged tree and merges the remote branch. It reports
// whether the push has to be forced.
func (s *Service) commit(ctx context.Context, id string, ws *workspace.Workspace, spec task.Spec, redactor redact.Redactor, logger *slog.Logger) (bool, error) {
	git := s.git.With(id, redactor)
	if err := s.checkpoint(ctx, id); err != nil {
		return false, err
	}
	s.progress(id, "committing", nil)
	if err := git.AddAll(ctx, ws.Path); err != nil {
		return false, apperr.Wrap(gitcmd.ErrorCode(err), err, "stage changes")
	}
	status, err := git.StatusPorcelain(ctx, ws.Path)
	if err != nil {
		return false, apperr.Wrap(gitcmd.ErrorCode(err), err, "inspect changes")
	}
	if status == "" {
		return false, ErrNothingToCommit
	}
	if !ws.Fresh {
		if err := git.Checkout(ctx, ws.Path, ws.Branch); err != nil {
			return false, apperr.Wrap(gitcmd.ErrorCode(err), err, "switch to %s", ws.Branch)
		}
	}
	committed, err := git.Commit(ctx, ws.Path, s.cfg.CommitMessage)
	if err != nil {
		return false, apperr.Wrap(gitcmd.ErrorCode(err), err, "commit")
	}
	if !committed {
		return false, ErrNothingToCommit
	}

	force := spec.Force
	if ws.Fresh {
		return force, nil
	}
	if err := s.checkpoint(ctx, id); err != nil {
		return false, err
	}
	s.progress(id, "pulling remote changes", nil)
	if err := git.Pull(ctx, ws.Path, "origin", ws.Branch); err != nil {
		if ctx.Err() != nil {
			return false, errCanceled
		}
		logger.Warn("pull failed, pushing with force", "error", err)
		force = true
	}
	return force, nil
}

func (s *Service) publish(ctx context.Context, id string, ws *workspace.Workspace, force bool, redactor redact.Redactor, logger *slog.Logger) error {
	s.progress(id, "pushing", nil)
	run, err := s.supervisor.Start(ctx, publish.Request{
		TaskID:   id,
		Dir:      ws.Path,
		Branch:   ws.Branch,
		Force:    force,
		Redactor: redactor,
		Sink:     &taskSink{store: s.store, id: id},
	})
	if err != nil {
		return err
	}
	_, _ = s.store.Update(id, func(t *task.Task) { t.PID = run.PID() })
	logger.Info("push running", "pid", run.PID(), "force", force)

	code, waitErr := run.Wait()
	if code == 0 && waitErr == nil {
		return nil
	}
	if run.Canceled() || ctx.Err() != nil {
		return errCanceled
	}
	return &publishError{code: code}
}

// checkpoint is the cooperative cancellation point between steps.
func (s *Service) checkpoint(ctx context.Context, id string) error {
	if ctx.Err() != nil || s.store.CancelRequested(id) {
		return errCanceled
	}
	return nil
}

func (s *Service) progress(id, message string, fn func(*task.Task)) {
	_, _ = s.store.Update(id, func(t *task.Task) {
		t.Progress = message
		if fn != nil {
			fn(t)
		}
	})
}

// finish maps the pipeline outcome onto the terminal status.
func (s *Service) finish(id string, err error, logger *slog.Logger) {
	canceled := errors.Is(err, errCanceled) || errors.Is(err, context.Canceled) ||
		(err != nil && s.store.CancelRequested(id))
	var pubErr *publishError
	snap, updateErr := s.store.Update(id, func(t *task.Task) {
		switch {
		case err == nil:
			t.Status = task.StatusDone
			t.Progress = "push completed"
			// git reports progress on stderr; keep it with the output
			if t.Error != "" {
				t.Output = task.AppendLine(t.Output, t.Error)
				t.Error = ""
			}
		case canceled:
			t.Status = task.StatusCanceled
			t.Progress = "canceled"
		case errors.As(err, &pubErr):
			t.Status = task.StatusError
			t.Progress = "push failed"
			if t.Error == "" {
				t.Error = pubErr.Error()
			}
		default:
			t.Status = task.StatusError
			t.Progress = "failed"
			t.Error = err.Error()
		}
	})
	if updateErr != nil {
		logger.Warn("record task result failed", "error", updateErr)
		return
	}
	switch snap.Status {
	case task.StatusDone:
		logger.Info("push task done", "files", snap.Counters.TotalFiles, "bytes", snap.Counters.TotalBytes)
	case task.StatusCanceled:
		logger.Info("push task canceled")
	default:
		logger.Error("push task failed", "code", apperr.CodeOf(err), "error", snap.Error)
	}
}
