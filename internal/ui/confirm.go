package ui

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

var ErrPromptCanceled = errors.New("prompt canceled")

// Confirm asks a yes/no question inline. Esc and Ctrl-C return
// ErrPromptCanceled.
func Confirm(label string, theme Theme, useColor bool, in io.Reader, out io.Writer) (bool, error) {
	prog := tea.NewProgram(newConfirmModel(label, theme, useColor), tea.WithInput(in), tea.WithOutput(out))
	final, err := prog.Run()
	if err != nil {
		return false, err
	}
	m := final.(confirmModel)
	if m.err != nil {
		return false, m.err
	}
	return m.value, nil
}

type confirmModel struct {
	label    string
	theme    Theme
	useColor bool
	input    textinput.Model
	value    bool
	done     bool
	err      error
}

func newConfirmModel(label string, theme Theme, useColor bool) confirmModel {
	ti := textinput.New()
	ti.Prompt = ""
	ti.Placeholder = "y/N"
	ti.CharLimit = 3
	ti.Focus()
	if useColor {
		ti.PlaceholderStyle = theme.Muted
	}
	return confirmModel{label: label, theme: theme, useColor: useColor, input: ti}
}

func (m confirmModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m confirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.err = ErrPromptCanceled
			m.done = true
			return m, tea.Quit
		case tea.KeyEnter:
			switch strings.ToLower(strings.TrimSpace(m.input.Value())) {
			case "y", "yes":
				m.value = true
			case "", "n", "no":
				m.value = false
			default:
				m.input.SetValue("")
				return m, nil
			}
			m.done = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m confirmModel) View() string {
	prefix := StepPrefix
	label := m.label
	if m.useColor {
		prefix = m.theme.Accent.Render(prefix)
		label = m.theme.Header.Render(label)
	}
	answer := m.input.View()
	if m.done {
		answer = "no"
		if m.value {
			answer = "yes"
		}
	}
	return fmt.Sprintf("%s%s %s (y/N): %s\n", Indent, prefix, label, answer)
}
