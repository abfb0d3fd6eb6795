package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tasuku43/gitpush/internal/ui"
)

func isHelpArg(arg string) bool {
	switch strings.TrimSpace(arg) {
	case "-h", "--help", "help":
		return true
	default:
		return false
	}
}

func printGlobalHelp(w io.Writer) {
	theme, useColor := helpTheme(w)
	fmt.Fprintln(w, "Usage: gitpush <command> [flags] [args]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, helpSectionTitle(theme, useColor, "Commands:"))
	fmt.Fprintln(w, helpCommand(theme, useColor, "serve [--addr <host:port>]", "run the push service over HTTP"))
	fmt.Fprintln(w, helpCommand(theme, useColor, "push --repo <repo> <PATH>...", "push local files to a repository branch"))
	fmt.Fprintln(w, helpCommand(theme, useColor, "history [--limit <n>]", "list archived tasks"))
	fmt.Fprintln(w, helpCommand(theme, useColor, "token [--subject <s>] [--ttl <d>]", "issue an API bearer token"))
	fmt.Fprintln(w, helpCommand(theme, useColor, "config", "print the effective configuration"))
	fmt.Fprintln(w, helpCommand(theme, useColor, "version", "print gitpush version"))
	fmt.Fprintln(w, helpCommand(theme, useColor, "help [command]", "show help for a command"))
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, helpSectionTitle(theme, useColor, "Global flags:"))
	fmt.Fprintln(w, helpFlag(theme, useColor, "--root <path>", "override gitpush root"))
	fmt.Fprintln(w, helpFlag(theme, useColor, "--env-file <path>", "read variables from file (default .env)"))
	fmt.Fprintln(w, helpFlag(theme, useColor, "--log-level <lvl>", "debug, info, warn or error"))
	fmt.Fprintln(w, helpFlag(theme, useColor, "--debug", "write git traces to <root>/logs"))
	fmt.Fprintln(w, helpFlag(theme, useColor, "--no-color", "disable colored output"))
	fmt.Fprintln(w, helpFlag(theme, useColor, "--version", "print version"))
	fmt.Fprintln(w, helpFlag(theme, useColor, "--help, -h", "show help"))
}

func printCommandHelp(cmd string, w io.Writer) bool {
	switch cmd {
	case "serve":
		printServeHelp(w)
	case "push":
		printPushHelp(w)
	case "history":
		printHistoryHelp(w)
	case "token":
		printTokenHelp(w)
	case "config":
		printConfigHelp(w)
	case "version":
		printVersion(w)
	default:
		return false
	}
	return true
}

func printServeHelp(w io.Writer) {
	theme, useColor := helpTheme(w)
	fmt.Fprintln(w, "Usage: gitpush serve [--addr <host:port>]")
	fmt.Fprintln(w, helpFlag(theme, useColor, "--addr", "listen address (default from GITPUSH_ADDR or 127.0.0.1:8000)"))
	fmt.Fprintln(w, "  Bearer authentication is enabled when GITPUSH_JWT_SECRET is set.")
}

func printPushHelp(w io.Writer) {
	theme, useColor := helpTheme(w)
	fmt.Fprintln(w, "Usage: gitpush push --repo <repo> [--branch <name>] [flags] <PATH>...")
	fmt.Fprintln(w, helpFlag(theme, useColor, "--repo", "owner/repo, host/owner/repo or a clone URL"))
	fmt.Fprintln(w, helpFlag(theme, useColor, "--branch", "target branch (default main)"))
	fmt.Fprintln(w, helpFlag(theme, useColor, "--token", "credential (default GITPUSH_TOKEN)"))
	fmt.Fprintln(w, helpFlag(theme, useColor, "--conflict", "overwrite, skip or rename"))
	fmt.Fprintln(w, helpFlag(theme, useColor, "--ignore <glob>", "extra ignore pattern (repeatable)"))
	fmt.Fprintln(w, helpFlag(theme, useColor, "--max-total-bytes", "limit on staged bytes"))
	fmt.Fprintln(w, helpFlag(theme, useColor, "--max-files", "limit on staged files"))
	fmt.Fprintln(w, helpFlag(theme, useColor, "--max-single-file", "limit on a single file's bytes"))
	fmt.Fprintln(w, helpFlag(theme, useColor, "--force", "force push"))
	fmt.Fprintln(w, helpFlag(theme, useColor, "--yes", "skip the force push confirmation"))
}

func printHistoryHelp(w io.Writer) {
	theme, useColor := helpTheme(w)
	fmt.Fprintln(w, "Usage: gitpush history [--limit <n>]")
	fmt.Fprintln(w, helpFlag(theme, useColor, "--limit", "number of tasks to show (default 50)"))
}

func printTokenHelp(w io.Writer) {
	theme, useColor := helpTheme(w)
	fmt.Fprintln(w, "Usage: gitpush token [--subject <s>] [--ttl <duration>]")
	fmt.Fprintln(w, helpFlag(theme, useColor, "--subject", "token subject (default gitpush)"))
	fmt.Fprintln(w, helpFlag(theme, useColor, "--ttl", "token lifetime (default 24h)"))
}

func printConfigHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: gitpush config")
	fmt.Fprintln(w, "  Print the merged configuration as YAML with secrets masked")
}

func helpTheme(w io.Writer) (ui.Theme, bool) {
	theme := ui.DefaultTheme()
	if file, ok := w.(*os.File); ok {
		return theme, ui.IsTerminal(file)
	}
	return theme, false
}

func helpSectionTitle(theme ui.Theme, useColor bool, title string) string {
	if !useColor {
		return title
	}
	return theme.SectionTitle.Render(title)
}

func helpCommand(theme ui.Theme, useColor bool, name, description string) string {
	if useColor {
		return fmt.Sprintf("  %s  %s", theme.Accent.Render(name), description)
	}
	return fmt.Sprintf("  %-34s %s", name, description)
}

func helpFlag(theme ui.Theme, useColor bool, flag, description string) string {
	if useColor {
		return fmt.Sprintf("  %s  %s", theme.Accent.Render(flag), description)
	}
	return fmt.Sprintf("  %-18s %s", flag, description)
}
