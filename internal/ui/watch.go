package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"

	"github.com/tasuku43/gitpush/internal/domain/task"
)

// ErrDetached is returned when the user stops watching before the task ends.
var ErrDetached = errors.New("stopped watching before the task finished")

type snapshotMsg task.Snapshot

type streamClosedMsg struct{}

type watchModel struct {
	title     string
	theme     Theme
	useColor  bool
	spinner   spinner.Model
	updates   <-chan task.Snapshot
	cancel    func()
	last      task.Snapshot
	canceling bool
	finished  bool
	width     int
	err       error
}

func newWatchModel(title string, updates <-chan task.Snapshot, cancel func(), theme Theme, useColor bool) watchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	if useColor {
		sp.Style = theme.Accent
	}
	return watchModel{
		title:    title,
		theme:    theme,
		useColor: useColor,
		spinner:  sp,
		updates:  updates,
		cancel:   cancel,
	}
}

// Watch shows a live spinner for a task until it reaches a terminal state.
// The first Ctrl-C calls cancel; a second one detaches with ErrDetached.
func Watch(ctx context.Context, title string, updates <-chan task.Snapshot, cancel func(), theme Theme, useColor bool, in io.Reader, out io.Writer) (task.Snapshot, error) {
	model := newWatchModel(title, updates, cancel, theme, useColor)
	prog := tea.NewProgram(model, tea.WithInput(in), tea.WithOutput(out), tea.WithContext(ctx))
	final, err := prog.Run()
	if err != nil {
		return model.last, err
	}
	m := final.(watchModel)
	return m.last, m.err
}

func waitForSnapshot(updates <-chan task.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-updates
		if !ok {
			return streamClosedMsg{}
		}
		return snapshotMsg(snap)
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForSnapshot(m.updates))
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case snapshotMsg:
		m.last = task.Snapshot(msg)
		if m.last.Status.Terminal() {
			m.finished = true
			return m, tea.Quit
		}
		return m, waitForSnapshot(m.updates)
	case streamClosedMsg:
		m.finished = true
		if !m.last.Status.Terminal() {
			m.err = ErrDetached
		}
		return m, tea.Quit
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			if m.canceling || m.cancel == nil {
				m.err = ErrDetached
				m.finished = true
				return m, tea.Quit
			}
			m.canceling = true
			cancel := m.cancel
			return m, func() tea.Msg {
				cancel()
				return nil
			}
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m watchModel) View() string {
	if m.finished {
		return ""
	}
	r := &Renderer{theme: m.theme, useColor: m.useColor}
	status := m.last.Status
	if status == "" {
		status = task.StatusPending
	}
	lines := []string{
		fmt.Sprintf("%s%s %s %s", Indent, m.spinner.View(), m.title, statusLabel(r, status)),
	}
	if progress := strings.TrimSpace(m.last.Progress); progress != "" {
		lines = append(lines, Indent+Indent+LogConnector+" "+r.style(m.truncate(progress), m.theme.Muted))
	}
	if m.last.Counters != (task.Counters{}) {
		lines = append(lines, LogOutputPrefix()+r.style(CountersLine(m.last.Counters), m.theme.Muted))
	}
	if m.canceling {
		lines = append(lines, Indent+r.style("canceling, press ctrl+c again to stop watching", m.theme.Warn))
	}
	return strings.Join(lines, "\n") + "\n"
}

func (m watchModel) truncate(text string) string {
	limit := m.width - len(LogOutputPrefix())
	if m.width <= 0 || limit <= 0 {
		return text
	}
	return ansi.Truncate(text, limit, "…")
}

// WatchPlain prints one step per progress change. It is used when output is
// not a terminal.
func WatchPlain(r *Renderer, updates <-chan task.Snapshot) (task.Snapshot, error) {
	var last task.Snapshot
	progress := ""
	for snap := range updates {
		last = snap
		if p := strings.TrimSpace(snap.Progress); p != "" && p != progress {
			progress = p
			r.Step(p)
		}
	}
	if !last.Status.Terminal() {
		return last, ErrDetached
	}
	return last, nil
}
