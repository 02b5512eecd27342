// Package sse provides a minimal, purpose-built SSE (Server-Sent Events)
// line decoder and frame writer for chatrelay. The decoder is fed raw
// transport chunks and yields complete lines only, so event boundaries never
// have to line up with chunk boundaries.
//
// This package intentionally does NOT parse "event:", "id:" or "retry:"
// fields: chatrelay streams carry everything in "data:" lines.
//
// See the SSE specification:
// https://html.spec.whatwg.org/multipage/server-sent-events.html
package sse

import (
	"io"
	"strings"
)

// DataPrefix starts every line that carries an event payload.
const DataPrefix = "data: "

// Data returns the payload of a "data: " line. ok is false for any other
// line: comments, blank keep-alives and unused fields.
func Data(line string) (payload string, ok bool) {
	return strings.CutPrefix(line, DataPrefix)
}

// WriteData writes payload as a single data frame terminated by a blank line.
func WriteData(w io.Writer, payload []byte) error {
	frame := make([]byte, 0, len(DataPrefix)+len(payload)+2)
	frame = append(frame, DataPrefix...)
	frame = append(frame, payload...)
	frame = append(frame, '\n', '\n')

	_, err := w.Write(frame)
	return err
}

// WriteComment writes an SSE comment line, typically used as a keep-alive.
func WriteComment(w io.Writer, text string) error {
	_, err := io.WriteString(w, ": "+text+"\n\n")
	return err
}
