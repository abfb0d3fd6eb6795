package ui

import (
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

const (
	Indent       = "  "
	StepPrefix   = "•"
	LogConnector = "└─"
)

var wrapWidth atomic.Int64

// SetWrapWidth sets the width new renderers wrap at. Zero disables wrapping.
func SetWrapWidth(width int) {
	if width < 0 {
		width = 0
	}
	wrapWidth.Store(int64(width))
}

func currentWrapWidth() int {
	return int(wrapWidth.Load())
}

type Renderer struct {
	out       io.Writer
	theme     Theme
	useColor  bool
	wrapWidth int
}

func NewRenderer(out io.Writer, theme Theme, useColor bool) *Renderer {
	return &Renderer{
		out:       out,
		theme:     theme,
		useColor:  useColor,
		wrapWidth: currentWrapWidth(),
	}
}

func (r *Renderer) Header(text string) {
	r.writeLine(r.style(text, r.theme.Header))
}

func (r *Renderer) Blank() {
	fmt.Fprintln(r.out)
}

func (r *Renderer) Section(title string) {
	r.writeLine(r.style(title, r.theme.SectionTitle))
}

func (r *Renderer) Step(text string) {
	r.bullet(text, r.theme.Muted)
}

// StepLog writes a detail line under the previous step.
func (r *Renderer) StepLog(text string) {
	r.writeWithPrefix(Indent+Indent+LogConnector+" ", r.style(text, r.theme.Muted))
}

// StepLogOutput writes command output aligned with StepLog text.
func (r *Renderer) StepLogOutput(text string) {
	r.writeWithPrefix(LogOutputPrefix(), r.style(text, r.theme.Muted))
}

// StepLogLines writes each non-blank line of text with StepLogOutput.
func (r *Renderer) StepLogLines(text string) {
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		r.StepLogOutput(line)
	}
}

func (r *Renderer) Result(text string) {
	r.bullet(text, r.theme.Muted)
}

func (r *Renderer) Success(text string) {
	r.bullet(r.style(text, r.theme.Success), r.theme.Success)
}

func (r *Renderer) BulletError(text string) {
	r.bullet(r.style(text, r.theme.Error), r.theme.Error)
}

func (r *Renderer) Warn(text string) {
	r.writeWithPrefix(Indent, r.style(text, r.theme.Warn))
}

// KeyValue writes "key: value" with the key muted.
func (r *Renderer) KeyValue(key, value string) {
	r.bullet(r.style(key+":", r.theme.Muted)+" "+value, r.theme.Muted)
}

func LogOutputPrefix() string {
	return Indent + Indent + strings.Repeat(" ", utf8.RuneCountInString(LogConnector)+1)
}

func (r *Renderer) style(text string, style lipgloss.Style) string {
	if !r.useColor {
		return text
	}
	return style.Render(text)
}

func (r *Renderer) bullet(text string, prefixStyle lipgloss.Style) {
	r.writeWithPrefix(Indent+r.style(StepPrefix, prefixStyle)+" ", text)
}

func (r *Renderer) writeWithPrefix(prefix, text string) {
	if r.wrapWidth <= 0 {
		r.writeLine(prefix + text)
		return
	}
	prefixWidth := lipgloss.Width(prefix)
	available := r.wrapWidth - prefixWidth
	if available <= 0 {
		r.writeLine(prefix + text)
		return
	}
	lines := strings.Split(ansi.Wrap(text, available, ""), "\n")
	r.writeLine(prefix + lines[0])
	padding := strings.Repeat(" ", prefixWidth)
	for _, line := range lines[1:] {
		r.writeLine(padding + line)
	}
}

func (r *Renderer) writeLine(text string) {
	fmt.Fprintln(r.out, strings.TrimRight(text, "\n"))
}
