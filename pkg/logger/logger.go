// Package logger builds the slog loggers used by the chatrelay services and
// the chat client.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	charmlog "github.com/charmbracelet/log"
)

// ComponentKey is the attribute key carrying the component name on text and
// JSON records.
const ComponentKey = "component"

type config struct {
	level     slog.Level
	pretty    bool
	json      bool
	component string
	writer    io.Writer
}

// New creates a *slog.Logger. Without options it writes slog text records at
// Info level to os.Stdout.
func New(opts ...Option) *slog.Logger {
	c := &config{
		level:  slog.LevelInfo,
		writer: os.Stdout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.writer == nil {
		c.writer = os.Stdout
	}

	if c.pretty {
		return slog.New(newPrettyHandler(c))
	}

	hopts := &slog.HandlerOptions{Level: c.level}
	var h slog.Handler
	if c.json {
		h = slog.NewJSONHandler(c.writer, hopts)
	} else {
		h = slog.NewTextHandler(c.writer, hopts)
	}
	if c.component != "" {
		h = h.WithAttrs([]slog.Attr{slog.String(ComponentKey, c.component)})
	}
	return slog.New(h)
}

func newPrettyHandler(c *config) slog.Handler {
	level := charmlog.InfoLevel
	if c.level <= slog.LevelDebug {
		level = charmlog.DebugLevel
	}

	return charmlog.NewWithOptions(c.writer, charmlog.Options{
		Level:           level,
		ReportTimestamp: true,
		Prefix:          c.component,
	})
}

// Nop returns a logger that discards every record.
func Nop() *slog.Logger {
	return slog.New(nopHandler{})
}

type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (h nopHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h nopHandler) WithGroup(string) slog.Handler           { return h }
