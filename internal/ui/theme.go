package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

type Theme struct {
	Header       lipgloss.Style
	SectionTitle lipgloss.Style
	Accent       lipgloss.Style
	Success      lipgloss.Style
	Warn         lipgloss.Style
	Error        lipgloss.Style
	Muted        lipgloss.Style
}

func DefaultTheme() Theme {
	return Theme{
		Header:       lipgloss.NewStyle().Bold(true),
		SectionTitle: lipgloss.NewStyle().Bold(true),
		Accent:       lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
		Success:      lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		Warn:         lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		Error:        lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		Muted:        lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// ColorEnabled decides whether to style output written to f. It honors
// NO_COLOR and friends through the terminal's environment color profile and
// aligns lipgloss with that profile.
func ColorEnabled(f *os.File, noColor bool) bool {
	if noColor || !IsTerminal(f) {
		lipgloss.SetColorProfile(termenv.Ascii)
		return false
	}
	profile := termenv.NewOutput(f).EnvColorProfile()
	lipgloss.SetColorProfile(profile)
	return profile != termenv.Ascii
}
