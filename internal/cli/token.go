package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/tasuku43/gitpush/internal/transport/httpapi"
)

func (a *app) runToken(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	var subject string
	var ttl time.Duration
	fs.StringVar(&subject, "subject", "gitpush", "token subject")
	fs.DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	fs.SetOutput(a.stderr)
	fs.Usage = func() { printTokenHelp(a.stdout) }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return &UsageError{msg: err.Error()}
	}
	if fs.NArg() != 0 || ttl <= 0 {
		return usagef("usage: gitpush token [--subject <s>] [--ttl <duration>]")
	}
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return errors.New("GITPUSH_JWT_SECRET is not set")
	}
	token, err := httpapi.IssueToken(cfg.JWTSecret, subject, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, token)
	return nil
}
