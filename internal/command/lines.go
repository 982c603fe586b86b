package command

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// lineWriter tees output into a buffer and hands complete lines to fn.
type lineWriter struct {
	mu      sync.Mutex
	buf     io.Writer
	fn      func(string)
	pending []byte
}

func newLineWriter(buf io.Writer, fn func(string)) *lineWriter {
	return &lineWriter{buf: buf, fn: fn}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.buf.Write(p); err != nil {
		return 0, err
	}
	if w.fn == nil {
		return len(p), nil
	}

	w.pending = append(w.pending, p...)
	for {
		idx := bytes.IndexByte(w.pending, '\n')
		if idx < 0 {
			break
		}
		w.emit(w.pending[:idx])
		w.pending = w.pending[idx+1:]
	}
	w.pending = append([]byte(nil), w.pending...)
	return len(p), nil
}

// Flush emits an unterminated final line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fn != nil && len(w.pending) > 0 {
		w.emit(w.pending)
	}
	w.pending = nil
}

func (w *lineWriter) emit(line []byte) {
	s := strings.TrimRight(string(line), "\r")
	if strings.TrimSpace(s) == "" {
		return
	}
	w.fn(s)
}
