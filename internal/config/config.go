// Package config resolves gitpush settings from defaults, the YAML file in
// the root directory, a .env file and the process environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/tasuku43/gitpush/internal/domain/workspace"
	"github.com/tasuku43/gitpush/internal/infra/gitcmd"
	"github.com/tasuku43/gitpush/internal/infra/logging"
	"github.com/tasuku43/gitpush/internal/infra/paths"
)

// ArchiveOff disables the task archive when used as the archive path.
const ArchiveOff = "off"

type Config struct {
	Root string `yaml:"-"`

	Addr                string        `yaml:"addr" env:"GITPUSH_ADDR"`
	MaxConcurrent       int           `yaml:"max_concurrent" env:"GITPUSH_MAX_CONCURRENT"`
	Retention           time.Duration `yaml:"retention" env:"GITPUSH_RETENTION"`
	AggressiveRetention time.Duration `yaml:"aggressive_retention" env:"GITPUSH_AGGRESSIVE_RETENTION"`
	MonitorInterval     time.Duration `yaml:"monitor_interval" env:"GITPUSH_MONITOR_INTERVAL"`
	MemoryCeilingMB     int           `yaml:"memory_ceiling_mb" env:"GITPUSH_MEMORY_CEILING_MB"`
	CPUCeilingPercent   float64       `yaml:"cpu_ceiling_percent" env:"GITPUSH_CPU_CEILING_PERCENT"`
	CancelGrace         time.Duration `yaml:"cancel_grace" env:"GITPUSH_CANCEL_GRACE"`
	GitHost             string        `yaml:"git_host" env:"GITPUSH_GIT_HOST"`
	CommitterName       string        `yaml:"committer_name" env:"GITPUSH_COMMITTER_NAME"`
	CommitterEmail      string        `yaml:"committer_email" env:"GITPUSH_COMMITTER_EMAIL"`
	CommitMessage       string        `yaml:"commit_message" env:"GITPUSH_COMMIT_MESSAGE"`
	Archive             string        `yaml:"archive" env:"GITPUSH_ARCHIVE"`
	ArchiveRetention    time.Duration `yaml:"archive_retention" env:"GITPUSH_ARCHIVE_RETENTION"`
	JWTSecret           string        `yaml:"jwt_secret" env:"GITPUSH_JWT_SECRET"`
	LogLevel            string        `yaml:"log_level" env:"GITPUSH_LOG_LEVEL"`
	Debug               bool          `yaml:"debug" env:"GITPUSH_DEBUG"`

	Timeouts Timeouts `yaml:"timeouts"`
}

// Timeouts overrides the per-operation git timeouts. Zero keeps the default.
type Timeouts struct {
	Init     time.Duration `yaml:"init" env:"GITPUSH_TIMEOUT_INIT"`
	Clone    time.Duration `yaml:"clone" env:"GITPUSH_TIMEOUT_CLONE"`
	Fetch    time.Duration `yaml:"fetch" env:"GITPUSH_TIMEOUT_FETCH"`
	Pull     time.Duration `yaml:"pull" env:"GITPUSH_TIMEOUT_PULL"`
	Push     time.Duration `yaml:"push" env:"GITPUSH_TIMEOUT_PUSH"`
	Add      time.Duration `yaml:"add" env:"GITPUSH_TIMEOUT_ADD"`
	Commit   time.Duration `yaml:"commit" env:"GITPUSH_TIMEOUT_COMMIT"`
	Checkout time.Duration `yaml:"checkout" env:"GITPUSH_TIMEOUT_CHECKOUT"`
	Clean    time.Duration `yaml:"clean" env:"GITPUSH_TIMEOUT_CLEAN"`
	Reset    time.Duration `yaml:"reset" env:"GITPUSH_TIMEOUT_RESET"`
	Default  time.Duration `yaml:"default" env:"GITPUSH_TIMEOUT_DEFAULT"`
}

func (t Timeouts) Git() gitcmd.Timeouts {
	return gitcmd.DefaultTimeouts().Merge(gitcmd.Timeouts{
		gitcmd.OpInit:     t.Init,
		gitcmd.OpClone:    t.Clone,
		gitcmd.OpFetch:    t.Fetch,
		gitcmd.OpPull:     t.Pull,
		gitcmd.OpPush:     t.Push,
		gitcmd.OpAdd:      t.Add,
		gitcmd.OpCommit:   t.Commit,
		gitcmd.OpCheckout: t.Checkout,
		gitcmd.OpClean:    t.Clean,
		gitcmd.OpReset:    t.Reset,
		gitcmd.OpDefault:  t.Default,
	})
}

func Default() Config {
	identity := workspace.DefaultIdentity()
	return Config{
		Addr:                "127.0.0.1:8000",
		MaxConcurrent:       2,
		Retention:           time.Hour,
		AggressiveRetention: 5 * time.Minute,
		MonitorInterval:     time.Minute,
		MemoryCeilingMB:     1024,
		CPUCeilingPercent:   90,
		CancelGrace:         5 * time.Second,
		GitHost:             "github.com",
		CommitterName:       identity.Name,
		CommitterEmail:      identity.Email,
		CommitMessage:       "upload",
		ArchiveRetention:    30 * 24 * time.Hour,
		LogLevel:            "info",
	}
}

type Options struct {
	// Root is the --root flag value; empty falls back to GITPUSH_ROOT and
	// then ~/.gitpush.
	Root string
	// EnvFile is the .env path. Empty means ".env" in the working directory.
	EnvFile string
	// Lookuper replaces the process environment, mainly for tests.
	Lookuper envconfig.Lookuper
}

// Load resolves the configuration. Later sources win: defaults, then
// <root>/gitpush.yaml, then the environment (process variables shadow .env
// entries).
func Load(ctx context.Context, opts Options) (Config, error) {
	lookuper, err := envLookuper(opts)
	if err != nil {
		return Config{}, err
	}

	rootFlag := opts.Root
	if rootFlag == "" {
		if v, ok := lookuper.Lookup(paths.RootEnv); ok {
			rootFlag = v
		}
	}
	root, err := paths.ResolveRoot(rootFlag)
	if err != nil {
		return Config{}, fmt.Errorf("resolve root: %w", err)
	}

	cfg := Default()
	if err := loadFile(paths.ConfigFile(root), &cfg); err != nil {
		return Config{}, err
	}
	cfg.Root = root

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:           &cfg,
		Lookuper:         lookuper,
		DefaultOverwrite: true,
	}); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	if cfg.Archive == "" {
		cfg.Archive = paths.ArchiveFile(root)
	}
	return cfg, nil
}

func envLookuper(opts Options) (envconfig.Lookuper, error) {
	base := opts.Lookuper
	if base == nil {
		base = envconfig.OsLookuper()
	}
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	dotenv, err := godotenv.Read(envFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return base, nil
		}
		return nil, fmt.Errorf("read %s: %w", envFile, err)
	}
	return envconfig.MultiLookuper(base, envconfig.MapLookuper(dotenv)), nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// ArchiveEnabled reports whether evicted tasks are persisted.
func (c Config) ArchiveEnabled() bool {
	return c.Archive != "" && !strings.EqualFold(c.Archive, ArchiveOff)
}

func (c Config) Identity() workspace.Identity {
	return workspace.Identity{Name: c.CommitterName, Email: c.CommitterEmail}
}

func (c Config) MemoryCeilingBytes() uint64 {
	return uint64(c.MemoryCeilingMB) << 20
}

func (c Config) Validate() error {
	var problems []string
	if c.MaxConcurrent <= 0 {
		problems = append(problems, "max_concurrent must be positive")
	}
	if c.Retention <= 0 {
		problems = append(problems, "retention must be positive")
	}
	if c.AggressiveRetention <= 0 {
		problems = append(problems, "aggressive_retention must be positive")
	}
	if c.MonitorInterval <= 0 {
		problems = append(problems, "monitor_interval must be positive")
	}
	if c.MemoryCeilingMB <= 0 {
		problems = append(problems, "memory_ceiling_mb must be positive")
	}
	if c.CPUCeilingPercent <= 0 {
		problems = append(problems, "cpu_ceiling_percent must be positive")
	}
	if c.ArchiveRetention < 0 {
		problems = append(problems, "archive_retention must not be negative")
	}
	if c.CancelGrace < 0 {
		problems = append(problems, "cancel_grace must not be negative")
	}
	if strings.TrimSpace(c.GitHost) == "" {
		problems = append(problems, "git_host is required")
	}
	if strings.TrimSpace(c.CommitterName) == "" || strings.TrimSpace(c.CommitterEmail) == "" {
		problems = append(problems, "committer name and email are required")
	}
	if strings.TrimSpace(c.CommitMessage) == "" {
		problems = append(problems, "commit_message is required")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
