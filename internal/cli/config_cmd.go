package cli

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/tasuku43/gitpush/internal/infra/redact"
)

func (a *app) runConfig(ctx context.Context, args []string) error {
	if len(args) != 0 {
		return usagef("usage: gitpush config")
	}
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}
	if cfg.JWTSecret != "" {
		cfg.JWTSecret = redact.Mask
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "# root: %s\n", cfg.Root)
	_, err = a.stdout.Write(data)
	return err
}
