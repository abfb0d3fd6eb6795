package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/tasuku43/gitpush/internal/infra/gitcmd"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cfg, err := Load(context.Background(), Options{
		Root:     root,
		EnvFile:  filepath.Join(root, "missing.env"),
		Lookuper: envconfig.MapLookuper(map[string]string{}),
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Root != root || cfg.MaxConcurrent != 2 || cfg.Retention != time.Hour || cfg.CommitMessage != "upload" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Archive != filepath.Join(root, "archive.db") || !cfg.ArchiveEnabled() {
		t.Fatalf("archive = %q", cfg.Archive)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got := cfg.Timeouts.Git().For(gitcmd.OpPush); got != 600*time.Second {
		t.Fatalf("push timeout = %v", got)
	}
}

func TestLoadPrecedence(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	yamlBody := strings.Join([]string{
		"addr: 0.0.0.0:9000",
		"max_concurrent: 4",
		"retention: 30m",
		"commit_message: sync",
		"timeouts:",
		"  push: 20m",
		"  fetch: 1m",
	}, "\n")
	if err := os.WriteFile(filepath.Join(root, "gitpush.yaml"), []byte(yamlBody), 0o644); err != nil {
		t.Fatal(err)
	}
	envFile := filepath.Join(root, ".env")
	if err := os.WriteFile(envFile, []byte("GITPUSH_MAX_CONCURRENT=6\nGITPUSH_ARCHIVE=off\nGITPUSH_LOG_LEVEL=debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(context.Background(), Options{
		Root:    root,
		EnvFile: envFile,
		Lookuper: envconfig.MapLookuper(map[string]string{
			"GITPUSH_MAX_CONCURRENT": "8",
			"GITPUSH_TIMEOUT_FETCH":  "90s",
		}),
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != "0.0.0.0:9000" {
		t.Fatalf("addr from yaml = %q", cfg.Addr)
	}
	if cfg.MaxConcurrent != 8 {
		t.Fatalf("process env should win over .env and yaml: %d", cfg.MaxConcurrent)
	}
	if cfg.Retention != 30*time.Minute || cfg.CommitMessage != "sync" {
		t.Fatalf("yaml values lost: %+v", cfg)
	}
	if cfg.ArchiveEnabled() || cfg.LogLevel != "debug" {
		t.Fatalf(".env values lost: archive=%q level=%q", cfg.Archive, cfg.LogLevel)
	}
	timeouts := cfg.Timeouts.Git()
	if timeouts.For(gitcmd.OpPush) != 20*time.Minute || timeouts.For(gitcmd.OpFetch) != 90*time.Second {
		t.Fatalf("timeouts = %v", timeouts)
	}
	if timeouts.For(gitcmd.OpInit) != 30*time.Second {
		t.Fatalf("unset timeout should keep default: %v", timeouts.For(gitcmd.OpInit))
	}
}

func TestLoadRootFromEnv(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cfg, err := Load(context.Background(), Options{
		EnvFile:  filepath.Join(root, "none.env"),
		Lookuper: envconfig.MapLookuper(map[string]string{"GITPUSH_ROOT": root}),
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Root != root {
		t.Fatalf("root = %q, want %q", cfg.Root, root)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "gitpush.yaml"), []byte("max_concurrent: [1"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(context.Background(), Options{
		Root:     root,
		EnvFile:  filepath.Join(root, "none.env"),
		Lookuper: envconfig.MapLookuper(map[string]string{}),
	})
	if err == nil || !strings.Contains(err.Error(), "gitpush.yaml") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "concurrency", mutate: func(c *Config) { c.MaxConcurrent = 0 }, want: "max_concurrent"},
		{name: "memory", mutate: func(c *Config) { c.MemoryCeilingMB = -1 }, want: "memory_ceiling_mb"},
		{name: "cpu", mutate: func(c *Config) { c.CPUCeilingPercent = 0 }, want: "cpu_ceiling_percent"},
		{name: "level", mutate: func(c *Config) { c.LogLevel = "loud" }, want: "log level"},
		{name: "identity", mutate: func(c *Config) { c.CommitterEmail = " " }, want: "committer"},
		{name: "archive retention", mutate: func(c *Config) { c.ArchiveRetention = -time.Hour }, want: "archive_retention"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate() = %v, want mention of %q", err, tc.want)
			}
		})
	}
}
