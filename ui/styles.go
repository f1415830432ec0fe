// Package ui renders the branch tree and branch details as terminal text.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"

	"github.com/mrbonezy/canopy/model"
)

type Styles struct {
	Header           func(string) string
	Normal           func(string) string
	Selected         func(string) string
	Disabled         func(string) string
	DisabledSelected func(string) string
	Secondary        func(string) string
	Warn             func(string) string
	Status           func(model.BranchStatus, string) string
}

var (
	headerStyle           = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Bold(true)
	normalStyle           = lipgloss.NewStyle().Foreground(lipgloss.Color("251"))
	selectedStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4")).Bold(true)
	disabledStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	disabledSelectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4")).Bold(true)
	secondaryStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	warnStyle             = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)

	statusColors = map[model.BranchStatus]lipgloss.Color{
		model.StatusActive:          lipgloss.Color("2"),
		model.StatusWaitingOnPR:     lipgloss.Color("4"),
		model.StatusWaitingOnPerson: lipgloss.Color("5"),
		model.StatusBlockedByIssue:  lipgloss.Color("1"),
		model.StatusReadyToMerge:    lipgloss.Color("#7D56F4"),
		model.StatusStale:           lipgloss.Color("3"),
		model.StatusAbandoned:       lipgloss.Color("241"),
	}
)

func DefaultStyles() Styles {
	return Styles{
		Header:           func(s string) string { return headerStyle.Render(s) },
		Normal:           func(s string) string { return normalStyle.Render(s) },
		Selected:         func(s string) string { return selectedStyle.Render(s) },
		Disabled:         func(s string) string { return disabledStyle.Render(s) },
		DisabledSelected: func(s string) string { return disabledSelectedStyle.Render(s) },
		Secondary:        func(s string) string { return secondaryStyle.Render(s) },
		Warn:             func(s string) string { return warnStyle.Render(s) },
		Status: func(status model.BranchStatus, s string) string {
			color, ok := statusColors[status]
			if !ok {
				return s
			}
			return lipgloss.NewStyle().Foreground(color).Render(s)
		},
	}
}

// PlainStyles renders text unchanged; used for --json neighbours and tests.
func PlainStyles() Styles {
	id := func(s string) string { return s }
	return Styles{
		Header:           id,
		Normal:           id,
		Selected:         id,
		Disabled:         id,
		DisabledSelected: id,
		Secondary:        id,
		Warn:             id,
		Status:           func(_ model.BranchStatus, s string) string { return s },
	}
}

// ConfigureColor drops to the ASCII profile when stdout is not a terminal
// or noColor is set.
func ConfigureColor(noColor bool) {
	if noColor || !isatty.IsTerminal(os.Stdout.Fd()) {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}
