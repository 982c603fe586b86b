// Package stream rebuilds newline-delimited JSON values from a byte stream
// that arrives in arbitrary chunks.
package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ProtocolDecodeError reports a line that is not a JSON object. It is
// always recovered by the caller; the line is still delivered as raw text.
type ProtocolDecodeError struct {
	Line []byte
	Err  error
}

func (e *ProtocolDecodeError) Error() string {
	return fmt.Sprintf("decode line %q: %v", truncate(e.Line, 80), e.Err)
}

func (e *ProtocolDecodeError) Unwrap() error { return e.Err }

// ParsedLine is one complete line of output. Value is set when the line is
// a JSON object; otherwise Err holds a *ProtocolDecodeError and the line is
// a raw-text fallback.
type ParsedLine struct {
	Raw   []byte
	Value map[string]any
	Err   error
}

// IsJSON reports whether the line decoded to a structured value.
func (p ParsedLine) IsJSON() bool { return p.Err == nil && p.Value != nil }

// Text returns the raw line as a string.
func (p ParsedLine) Text() string { return string(p.Raw) }

// Decoder splits UTF-8 text on '\n' and decodes each line. It holds one
// pending partial line between calls and is not safe for concurrent use.
type Decoder struct {
	pending []byte
}

// NewDecoder returns an empty decoder.
func NewDecoder() *Decoder { return &Decoder{} }

// Feed appends chunk and returns every line it completed, in order.
func (d *Decoder) Feed(chunk []byte) []ParsedLine {
	if len(chunk) == 0 {
		return nil
	}
	d.pending = append(d.pending, chunk...)

	var lines []ParsedLine
	for {
		idx := bytes.IndexByte(d.pending, '\n')
		if idx < 0 {
			break
		}
		line := d.pending[:idx]
		if parsed, ok := parseLine(line); ok {
			lines = append(lines, parsed)
		}
		d.pending = d.pending[idx+1:]
	}

	// Compact so the backing array does not grow without bound on long streams.
	if len(d.pending) == 0 {
		d.pending = nil
	} else {
		d.pending = append([]byte(nil), d.pending...)
	}
	return lines
}

// Flush emits the unterminated tail, if any, as a final line.
func (d *Decoder) Flush() []ParsedLine {
	tail := d.pending
	d.pending = nil
	if parsed, ok := parseLine(tail); ok {
		return []ParsedLine{parsed}
	}
	return nil
}

// Pending returns the number of buffered bytes not yet newline-terminated.
func (d *Decoder) Pending() int { return len(d.pending) }

func parseLine(line []byte) (ParsedLine, bool) {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if len(bytes.TrimSpace(line)) == 0 {
		return ParsedLine{}, false
	}

	raw := make([]byte, len(line))
	copy(raw, line)

	var value map[string]any
	if err := json.Unmarshal(raw, &value); err != nil {
		return ParsedLine{Raw: raw, Err: &ProtocolDecodeError{Line: raw, Err: err}}, true
	}
	if value == nil {
		// "null" decodes without error but carries no structure.
		return ParsedLine{Raw: raw, Err: &ProtocolDecodeError{Line: raw, Err: errNotObject}}, true
	}
	return ParsedLine{Raw: raw, Value: value}, true
}

var errNotObject = errors.New("not a JSON object")

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
