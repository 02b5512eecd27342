package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// NewService builds the logger of a long-running server: pretty records on
// stdout and, when logFile is set, JSON records appended to logFile as well.
// The returned close func releases the log file and is always non-nil.
func NewService(component string, debug bool, logFile string, stdout io.Writer) (*slog.Logger, func() error, error) {
	console := New(
		WithWriter(stdout),
		WithPretty(true),
		WithDebug(debug),
		WithComponent(component),
	)
	if logFile == "" {
		return console, func() error { return nil }, nil
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	file := New(
		WithWriter(f),
		WithJSON(true),
		WithDebug(debug),
		WithComponent(component),
	)
	return Multi(console, file), f.Close, nil
}
