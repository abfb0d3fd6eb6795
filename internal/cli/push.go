package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/tasuku43/gitpush/internal/app/push"
	"github.com/tasuku43/gitpush/internal/domain/task"
	"github.com/tasuku43/gitpush/internal/ui"
)

// TokenEnv supplies the push credential when --token is not given.
const TokenEnv = "GITPUSH_TOKEN"

// TaskError reports a push task that did not finish as done.
type TaskError struct {
	Snapshot task.Snapshot
}

func (e *TaskError) Error() string {
	if e.Snapshot.Status == task.StatusCanceled {
		return fmt.Sprintf("task %s was canceled", e.Snapshot.ID)
	}
	return fmt.Sprintf("task %s failed", e.Snapshot.ID)
}

func (e *TaskError) Canceled() bool {
	return e.Snapshot.Status == task.StatusCanceled
}

var errAborted = errors.New("aborted")

type pushFlags struct {
	repo          string
	branch        string
	token         stringFlag
	conflict      string
	ignore        stringSliceFlag
	maxTotalBytes int64
	maxFiles      int
	maxSingleFile int64
	force         bool
	yes           bool
	priority      int
}

func (a *app) runPush(ctx context.Context, args []string) error {
	var f pushFlags
	fs := flag.NewFlagSet("push", flag.ContinueOnError)
	fs.StringVar(&f.repo, "repo", "", "repository")
	fs.StringVar(&f.branch, "branch", "", "target branch")
	fs.Var(&f.token, "token", "credential")
	fs.StringVar(&f.conflict, "conflict", "", "conflict strategy")
	fs.Var(&f.ignore, "ignore", "ignore pattern")
	fs.Int64Var(&f.maxTotalBytes, "max-total-bytes", 0, "limit on staged bytes")
	fs.IntVar(&f.maxFiles, "max-files", 0, "limit on staged files")
	fs.Int64Var(&f.maxSingleFile, "max-single-file", 0, "limit on a single file")
	fs.BoolVar(&f.force, "force", false, "force push")
	fs.BoolVar(&f.yes, "yes", false, "skip confirmation")
	fs.IntVar(&f.priority, "priority", 0, "queue priority")
	fs.SetOutput(a.stderr)
	fs.Usage = func() { printPushHelp(a.stdout) }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return &UsageError{msg: err.Error()}
	}
	if f.repo == "" || fs.NArg() == 0 {
		return usagef("usage: gitpush push --repo <repo> [flags] <PATH>...")
	}
	token := f.token.value
	if !f.token.set {
		token = a.lookup(TokenEnv)
	}
	spec := task.Spec{
		Repo:           f.repo,
		Branch:         f.branch,
		Paths:          fs.Args(),
		Conflict:       task.Conflict(f.conflict),
		IgnorePatterns: f.ignore,
		Limits: task.Limits{
			MaxTotalBytes: f.maxTotalBytes,
			MaxFiles:      f.maxFiles,
			MaxSingleFile: f.maxSingleFile,
		},
		Force:      f.force,
		Priority:   f.priority,
		Credential: token,
	}

	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}
	logger, err := a.newLogger(cfg, true)
	if err != nil {
		return err
	}
	stopDebug, err := a.startDebug(cfg)
	if err != nil {
		return err
	}
	defer stopDebug()

	interactive := a.interactive()
	r := a.renderer(a.stdout)
	if spec.Force && !f.yes {
		if !interactive {
			return usagef("--force requires --yes when not running in a terminal")
		}
		branch := spec.Branch
		if branch == "" {
			branch = task.DefaultBranch
		}
		ok, err := ui.Confirm(fmt.Sprintf("force push to %s?", branch), ui.DefaultTheme(), !a.noColor, a.stdin, a.stdout)
		if err != nil {
			if errors.Is(err, ui.ErrPromptCanceled) {
				return errAborted
			}
			return err
		}
		if !ok {
			return errAborted
		}
	}

	svc, err := push.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	svc.Start(ctx)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		_ = svc.Close(closeCtx)
	}()

	res, err := svc.Submit(ctx, spec)
	if err != nil {
		return err
	}
	r.Header("gitpush push")
	r.KeyValue("repo", f.repo)
	r.KeyValue("task", res.TaskID)
	r.Blank()

	updates, err := svc.Watch(ctx, res.TaskID, 100*time.Millisecond)
	if err != nil {
		return err
	}
	cancelTask := func() {
		_, _ = svc.Cancel(context.WithoutCancel(ctx), res.TaskID)
	}

	var final task.Snapshot
	if interactive {
		final, err = ui.Watch(ctx, "pushing", updates, cancelTask, ui.DefaultTheme(), !a.noColor, a.stdin, a.stdout)
	} else {
		sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		go func() {
			<-sigCtx.Done()
			if ctx.Err() == nil {
				cancelTask()
			}
		}()
		r.Section("Steps")
		final, err = ui.WatchPlain(r, updates)
		stop()
	}
	if err != nil {
		return err
	}
	r.Blank()
	ui.RenderResult(r, final)
	if final.Status != task.StatusDone {
		return &TaskError{Snapshot: final}
	}
	return nil
}
