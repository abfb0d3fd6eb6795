package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/sethvargo/go-envconfig"

	"github.com/tasuku43/gitpush/internal/config"
	"github.com/tasuku43/gitpush/internal/infra/debuglog"
	"github.com/tasuku43/gitpush/internal/infra/logging"
	"github.com/tasuku43/gitpush/internal/ui"
)

// UsageError marks bad command line input.
type UsageError struct {
	msg string
}

func (e *UsageError) Error() string {
	return e.msg
}

func usagef(format string, args ...any) error {
	return &UsageError{msg: fmt.Sprintf(format, args...)}
}

// ExitCode maps an error returned by Run to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var usage *UsageError
	if errors.As(err, &usage) {
		return 2
	}
	var taskErr *TaskError
	if errors.As(err, &taskErr) && taskErr.Canceled() {
		return 130
	}
	return 1
}

// Run executes the command line given in args (without the program name).
func Run(ctx context.Context, args []string) error {
	a := &app{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	return a.run(ctx, args)
}

type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	// lookuper replaces the process environment in tests.
	lookuper envconfig.Lookuper

	root     string
	envFile  string
	logLevel string
	debug    bool
	noColor  bool
}

func (a *app) run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("gitpush", flag.ContinueOnError)
	var helpFlag, versionFlag bool
	fs.StringVar(&a.root, "root", "", "override gitpush root")
	fs.StringVar(&a.envFile, "env-file", "", "read variables from file")
	fs.StringVar(&a.logLevel, "log-level", "", "log level")
	fs.BoolVar(&a.debug, "debug", false, "write debug logs to file")
	fs.BoolVar(&a.noColor, "no-color", false, "disable colored output")
	fs.BoolVar(&versionFlag, "version", false, "print version")
	fs.BoolVar(&helpFlag, "help", false, "show help")
	fs.BoolVar(&helpFlag, "h", false, "show help")
	fs.SetOutput(a.stderr)
	fs.Usage = func() {
		printGlobalHelp(a.stdout)
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return &UsageError{msg: err.Error()}
	}

	rest := fs.Args()
	if versionFlag {
		printVersion(a.stdout)
		return nil
	}
	if helpFlag {
		if len(rest) > 0 && printCommandHelp(rest[0], a.stdout) {
			return nil
		}
		printGlobalHelp(a.stdout)
		return nil
	}
	if len(rest) == 0 {
		printGlobalHelp(a.stdout)
		return nil
	}
	if rest[0] == "help" {
		if len(rest) > 1 && printCommandHelp(rest[1], a.stdout) {
			return nil
		}
		printGlobalHelp(a.stdout)
		return nil
	}
	if len(rest) > 1 && isHelpArg(rest[1]) && printCommandHelp(rest[0], a.stdout) {
		return nil
	}

	switch rest[0] {
	case "serve":
		return a.runServe(ctx, rest[1:])
	case "push":
		return a.runPush(ctx, rest[1:])
	case "history":
		return a.runHistory(ctx, rest[1:])
	case "token":
		return a.runToken(ctx, rest[1:])
	case "config":
		return a.runConfig(ctx, rest[1:])
	case "version":
		printVersion(a.stdout)
		return nil
	default:
		return usagef("unknown command: %s", rest[0])
	}
}

func (a *app) loadConfig(ctx context.Context) (config.Config, error) {
	cfg, err := config.Load(ctx, config.Options{Root: a.root, EnvFile: a.envFile, Lookuper: a.lookuper})
	if err != nil {
		return config.Config{}, err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.debug {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// lookup reads a variable from the same environment config.Load uses.
func (a *app) lookup(key string) string {
	l := a.lookuper
	if l == nil {
		l = envconfig.OsLookuper()
	}
	v, _ := l.Lookup(key)
	return v
}

// newLogger logs to stderr at the configured level. Quiet commands drop to
// warn unless --log-level was given explicitly.
func (a *app) newLogger(cfg config.Config, quiet bool) (*slog.Logger, error) {
	if quiet && a.logLevel == "" {
		return logging.New(a.stderr, slog.LevelWarn), nil
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return logging.New(a.stderr, level), nil
}

// startDebug enables the git trace log under the root when requested.
func (a *app) startDebug(cfg config.Config) (func(), error) {
	if !cfg.Debug {
		return func() {}, nil
	}
	if err := debuglog.Enable(cfg.Root); err != nil {
		return nil, err
	}
	return func() { _ = debuglog.Close() }, nil
}

func (a *app) renderer(w io.Writer) *ui.Renderer {
	theme := ui.DefaultTheme()
	useColor := false
	if f, ok := w.(*os.File); ok {
		useColor = ui.ColorEnabled(f, a.noColor)
	}
	return ui.NewRenderer(w, theme, useColor)
}

// interactive reports whether both stdin and stdout are terminals.
func (a *app) interactive() bool {
	in, ok := a.stdin.(*os.File)
	if !ok {
		return false
	}
	out, ok := a.stdout.(*os.File)
	if !ok {
		return false
	}
	return ui.IsTerminal(in) && ui.IsTerminal(out)
}
