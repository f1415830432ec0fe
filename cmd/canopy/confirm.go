package main

import (
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

func canopyHuhTheme() *huh.Theme {
	t := *huh.ThemeCharm()
	t.Focused.FocusedButton = t.Focused.FocusedButton.Background(lipgloss.Color("#7D56F4"))
	t.Focused.Next = t.Focused.FocusedButton
	return &t
}

func newConfirmForm(title string, description string, result *bool) *huh.Form {
	confirm := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(result)

	return huh.NewForm(huh.NewGroup(confirm)).
		WithTheme(canopyHuhTheme()).
		WithShowHelp(false)
}

func newTokenForm(token *string) *huh.Form {
	input := huh.NewInput().
		Title("GitHub token").
		Description("A personal access token with repo scope. Stored encrypted.").
		EchoMode(huh.EchoModePassword).
		Value(token)

	return huh.NewForm(huh.NewGroup(input)).
		WithTheme(canopyHuhTheme()).
		WithShowHelp(false)
}
