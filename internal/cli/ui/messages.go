package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Problem is a failure reported to the user, with optional hints
type Problem struct {
	// Context names what failed, e.g. "configuration"
	Context     string
	Message     string
	Suggestions []string
	// Hints are follow-up commands
	Hints []string
}

// WriteProblem renders p
//
//	✗ MODEL NOT FOUND: Cannot find model "Pst"
//	   Did you mean: Post?
//	   → restful models
func WriteProblem(w io.Writer, p Problem, noColor bool) {
	red := newColor(noColor, color.FgRed, color.Bold)
	yellow := newColor(noColor, color.FgYellow)
	cyan := newColor(noColor, color.FgCyan)

	if p.Context != "" {
		red.Fprintf(w, "✗ %s: %s\n", strings.ToUpper(p.Context), p.Message)
	} else {
		red.Fprintf(w, "✗ %s\n", p.Message)
	}
	if len(p.Suggestions) > 0 {
		yellow.Fprintf(w, "   Did you mean: %s?\n", strings.Join(p.Suggestions, ", "))
	}
	for _, h := range p.Hints {
		cyan.Fprintf(w, "   → %s\n", h)
	}
}

// WriteSuccess writes a green check line
func WriteSuccess(w io.Writer, noColor bool, format string, args ...any) {
	newColor(noColor, color.FgGreen, color.Bold).Fprintf(w, "✓ %s\n", fmt.Sprintf(format, args...))
}

// WriteWarning writes a yellow warning line
func WriteWarning(w io.Writer, noColor bool, format string, args ...any) {
	newColor(noColor, color.FgYellow).Fprintf(w, "! %s\n", fmt.Sprintf(format, args...))
}

func newColor(noColor bool, attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if noColor {
		c.DisableColor()
	}
	return c
}
