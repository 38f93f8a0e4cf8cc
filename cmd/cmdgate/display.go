package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/glamour"
)

// Display prints chat output.
type Display interface {
	Prompt(historyCount int)
	Message(role string, colorCode string, historyCount int, text string)
	Error(format string, args ...any)
}

// RawDisplay prints plain text with ANSI colored role prefixes.
type RawDisplay struct {
	Out io.Writer
}

func (r *RawDisplay) Prompt(historyCount int) {
	fmt.Fprintf(r.Out, "\u001b[94mYou [%d]\u001b[0m: ", historyCount)
}

func (r *RawDisplay) Message(role string, colorCode string, historyCount int, text string) {
	fmt.Fprintf(r.Out, "\u001b[%sm%s [%d]\u001b[0m: %s\n", colorCode, role, historyCount, text)
}

func (r *RawDisplay) Error(format string, args ...any) {
	fmt.Fprintf(r.Out, "\u001b[91mError\u001b[0m: "+format+"\n", args...)
}

// GlamourDisplay renders messages as markdown, falling back to RawDisplay
// when rendering fails.
type GlamourDisplay struct {
	RawDisplay
}

func (g *GlamourDisplay) Message(role string, colorCode string, historyCount int, text string) {
	pretty, err := glamour.RenderWithEnvironmentConfig(text)
	if err != nil {
		g.RawDisplay.Message(role, colorCode, historyCount, text)
		return
	}
	fmt.Fprintf(g.Out, "\u001b[%sm%s [%d]\u001b[0m: ", colorCode, role, historyCount)
	fmt.Fprintln(g.Out, pretty)
}
