package debuglog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tasuku43/gitpush/internal/infra/redact"
)

func TestTraceLogRedactsCredentials(t *testing.T) {
	root := t.TempDir()
	if err := Enable(root); err != nil {
		t.Fatalf("Enable error: %v", err)
	}
	t.Cleanup(func() {
		_ = Close()
		SetRedactor(nil)
	})

	entry := Entry{Trace: NewTrace("git"), Task: "task-1", Op: "push"}
	secrets := redact.NewSecrets("hunter2")
	LogCommand(entry, FormatCommand("git", []string{"remote", "add", "origin", "https://hunter2:x@github.com/o/r.git"}), secrets)
	LogStderrLines(entry, "remote: HUNTER2 rejected\n\nsecond line\n", secrets)
	LogExit(entry, 1)

	name := "debug-" + time.Now().Format("20060102") + ".log"
	data, err := os.ReadFile(filepath.Join(root, "logs", name))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	text := string(data)
	if strings.Contains(strings.ToLower(text), "hunter2") {
		t.Fatalf("secret leaked into trace log:\n%s", text)
	}
	for _, want := range []string{"kind=cmd", "task=task-1", "op=push", "kind=stderr", "code=1", `line="second line"`} {
		if !strings.Contains(text, want) {
			t.Fatalf("trace log missing %q:\n%s", want, text)
		}
	}
}

func TestDisabledLogIsNoop(t *testing.T) {
	if Enabled() {
		t.Skip("debug log enabled by another test")
	}
	LogCommand(Entry{Trace: "x"}, "git status", nil)
}

func TestFormatCommand(t *testing.T) {
	t.Parallel()

	if got := FormatCommand("git", nil); got != "git" {
		t.Fatalf("FormatCommand() = %q", got)
	}
	if got := FormatCommand("git", []string{"push", "origin"}); got != "git push origin" {
		t.Fatalf("FormatCommand() = %q", got)
	}
}
