package debuglog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tasuku43/gitpush/internal/infra/redact"
)

type loggerState struct {
	mu       sync.Mutex
	enabled  atomic.Bool
	writer   *os.File
	pid      int
	redactor redact.Redactor
}

var state loggerState
var traceSeq uint64

// Enable opens <rootDir>/logs/debug-YYYYMMDD.log for appending.
func Enable(rootDir string) error {
	if strings.TrimSpace(rootDir) == "" {
		return fmt.Errorf("root directory is required")
	}
	logDir := filepath.Join(rootDir, "logs")
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return fmt.Errorf("create debug log dir: %w", err)
	}
	name := fmt.Sprintf("debug-%s.log", time.Now().Format("20060102"))
	path := filepath.Join(logDir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open debug log file: %w", err)
	}
	state.mu.Lock()
	if state.writer != nil {
		_ = state.writer.Close()
	}
	state.writer = file
	state.pid = os.Getpid()
	state.enabled.Store(true)
	state.mu.Unlock()
	return nil
}

func Close() error {
	state.mu.Lock()
	state.enabled.Store(false)
	var err error
	if state.writer != nil {
		err = state.writer.Close()
		state.writer = nil
	}
	state.mu.Unlock()
	return err
}

func Enabled() bool {
	return state.enabled.Load()
}

// SetRedactor installs a filter applied to every command and output line
// before it reaches the log file. URL credentials are always masked.
func SetRedactor(r redact.Redactor) {
	state.mu.Lock()
	state.redactor = r
	state.mu.Unlock()
}

func NewTrace(prefix string) string {
	value := atomic.AddUint64(&traceSeq, 1)
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "cmd"
	}
	return fmt.Sprintf("%s:%x", prefix, value)
}

func FormatCommand(name string, args []string) string {
	if len(args) == 0 {
		return strings.TrimSpace(name)
	}
	return strings.TrimSpace(name + " " + strings.Join(args, " "))
}

// Entry is one trace line. Task and Op are optional.
type Entry struct {
	Trace string
	Task  string
	Op    string
}

func LogCommand(e Entry, cmd string, r redact.Redactor) {
	logLine(e, "cmd", redact.String(r, cmd), "", nil)
}

func LogStdoutLines(e Entry, text string, r redact.Redactor) {
	logOutputLines(e, "stdout", text, r)
}

func LogStderrLines(e Entry, text string, r redact.Redactor) {
	logOutputLines(e, "stderr", text, r)
}

func LogLine(e Entry, kind, line string, r redact.Redactor) {
	logLine(e, kind, "", redact.String(r, line), nil)
}

func LogExit(e Entry, code int) {
	logLine(e, "exit", "", "", &code)
}

func logOutputLines(e Entry, kind, text string, r redact.Redactor) {
	if strings.TrimSpace(text) == "" {
		return
	}
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		logLine(e, kind, "", redact.String(r, line), nil)
	}
}

func logLine(e Entry, kind, cmd, line string, code *int) {
	if !Enabled() {
		return
	}
	trace := strings.TrimSpace(e.Trace)
	if trace == "" {
		trace = "unknown"
	}
	kind = strings.TrimSpace(kind)
	if kind == "" {
		kind = "info"
	}
	ts := time.Now().Format(time.RFC3339Nano)
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.writer == nil {
		return
	}
	global := redact.Chain{state.redactor, redact.URLCredentials{}}
	var b strings.Builder
	fmt.Fprintf(&b, "ts=%s pid=%d trace=%s kind=%s", ts, state.pid, trace, kind)
	if e.Task != "" {
		fmt.Fprintf(&b, " task=%s", e.Task)
	}
	if e.Op != "" {
		fmt.Fprintf(&b, " op=%s", e.Op)
	}
	if cmd != "" {
		fmt.Fprintf(&b, " cmd=%q", global.Redact(cmd))
	}
	if line != "" {
		fmt.Fprintf(&b, " line=%q", global.Redact(line))
	}
	if code != nil {
		fmt.Fprintf(&b, " code=%d", *code)
	}
	b.WriteByte('\n')
	_, _ = state.writer.Write([]byte(b.String()))
}
