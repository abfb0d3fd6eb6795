package cli

import (
	"context"
	"errors"
	"flag"

	"github.com/tasuku43/gitpush/internal/app/push"
	"github.com/tasuku43/gitpush/internal/ui"
)

func (a *app) runHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	var limit int
	fs.IntVar(&limit, "limit", 50, "number of tasks")
	fs.SetOutput(a.stderr)
	fs.Usage = func() { printHistoryHelp(a.stdout) }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return &UsageError{msg: err.Error()}
	}
	if fs.NArg() != 0 || limit < 0 {
		return usagef("usage: gitpush history [--limit <n>]")
	}

	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}
	if !cfg.ArchiveEnabled() {
		return errors.New("task archive is disabled (GITPUSH_ARCHIVE=off)")
	}
	logger, err := a.newLogger(cfg, true)
	if err != nil {
		return err
	}
	svc, err := push.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close(context.WithoutCancel(ctx)) }()

	snaps, err := svc.History(ctx, limit)
	if err != nil {
		return err
	}
	ui.RenderTasks(a.renderer(a.stdout), "History", snaps)
	return nil
}
