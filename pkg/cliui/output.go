package cliui

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"
)

// Output writes styled text to w. Escape sequences are stripped unless w is
// a terminal, so piped output and log files stay plain.
type Output struct {
	w        io.Writer
	terminal bool
}

// NewOutput wraps w, detecting whether it is an interactive terminal.
func NewOutput(w io.Writer) *Output {
	terminal := false
	if f, ok := w.(*os.File); ok {
		terminal = term.IsTerminal(int(f.Fd())) //nolint:gosec // fd fits in int
	}
	return &Output{w: w, terminal: terminal}
}

// IsTerminal reports whether styled output reaches the writer unchanged.
func (o *Output) IsTerminal() bool {
	return o.terminal
}

// Print writes s.
func (o *Output) Print(s string) {
	if !o.terminal {
		s = ansi.Strip(s)
	}
	_, _ = io.WriteString(o.w, s)
}

// Printf formats and writes.
func (o *Output) Printf(format string, args ...any) {
	o.Print(fmt.Sprintf(format, args...))
}

// Println writes s followed by a newline.
func (o *Output) Println(s string) {
	o.Print(s + "\n")
}

// Step runs fn behind a spinner on a terminal. Elsewhere only the final
// result line is written.
func (o *Output) Step(msg string, fn func() error) error {
	if o.terminal {
		return Step(o.w, msg, fn)
	}

	start := time.Now()
	err := fn()
	o.Print(stepResult(msg, err, time.Since(start)))
	return err
}
