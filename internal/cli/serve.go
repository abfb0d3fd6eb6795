package cli

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tasuku43/gitpush/internal/app/push"
	"github.com/tasuku43/gitpush/internal/transport/httpapi"
)

const closeTimeout = 30 * time.Second

func (a *app) runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	var addr stringFlag
	fs.Var(&addr, "addr", "listen address")
	fs.SetOutput(a.stderr)
	fs.Usage = func() { printServeHelp(a.stdout) }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return &UsageError{msg: err.Error()}
	}
	if fs.NArg() != 0 {
		return usagef("usage: gitpush serve [--addr <host:port>]")
	}

	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}
	if addr.set {
		cfg.Addr = addr.value
	}
	logger, err := a.newLogger(cfg, false)
	if err != nil {
		return err
	}
	stopDebug, err := a.startDebug(cfg)
	if err != nil {
		return err
	}
	defer stopDebug()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := push.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	svc.Start(ctx)

	srv := httpapi.New(svc, httpapi.Options{
		Addr:      cfg.Addr,
		JWTSecret: cfg.JWTSecret,
		Version:   versionString(),
	}, logger)
	serveErr := srv.ListenAndServe(ctx)
	if serveErr != nil {
		logger.Error("http server failed", "error", serveErr)
	}

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	closeErr := svc.Close(closeCtx)
	if closeErr != nil {
		logger.Error("failed to stop push service", "error", closeErr)
	}
	return errors.Join(serveErr, closeErr)
}
