package sse

import "bytes"

// LineDecoder splits a byte stream into lines across arbitrary chunk
// boundaries.
//
// ┌──────────────┐   ┌─────────────────────┐   ┌────────────────┐
// │ chunk []byte │──▶│ pending + chunk     │──▶│ complete lines │
// └──────────────┘   └─────────────────────┘   └────────────────┘
//
//	          │
//	          ▼
//	┌─────────────────────┐
//	│ trailing fragment   │ (kept for the next chunk)
//	└─────────────────────┘
//
// A LineDecoder is owned by a single consumer for the lifetime of one stream
// and is not safe for concurrent use.
type LineDecoder struct {
	pending []byte
}

// Feed appends chunk to the pending buffer and returns every line completed
// by it, in order, without its "\n" or "\r\n" terminator. The trailing
// fragment after the last terminator stays buffered.
func (d *LineDecoder) Feed(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}

	d.pending = append(d.pending, chunk...)

	var lines []string
	for {
		i := bytes.IndexByte(d.pending, '\n')
		if i < 0 {
			break
		}

		line := d.pending[:i]
		line = bytes.TrimSuffix(line, []byte{'\r'})
		lines = append(lines, string(line))
		d.pending = d.pending[i+1:]
	}

	// Compact so a long stream doesn't pin the prefix of an ever-growing
	// backing array.
	if len(d.pending) == 0 {
		d.pending = d.pending[:0:0]
	} else if cap(d.pending) > 2*len(d.pending)+4096 {
		d.pending = append([]byte(nil), d.pending...)
	}

	return lines
}

// Buffered returns the number of bytes of the incomplete trailing line.
func (d *LineDecoder) Buffered() int {
	return len(d.pending)
}

// Reset discards the pending buffer.
func (d *LineDecoder) Reset() {
	d.pending = nil
}
