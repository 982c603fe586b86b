package client

import (
	"encoding/json"
	"strings"

	"github.com/zjrosen/relay/internal/orchestration/events"
	"github.com/zjrosen/relay/internal/orchestration/stream"
)

// Normalizer interprets one decoded output line. It returns at most one
// event; ok is false when the line carries nothing worth surfacing.
//
// Normalizers are stateful (they remember whether the thread id was already
// surfaced) and belong to exactly one session.
type Normalizer interface {
	Normalize(line stream.ParsedLine) (ev events.SessionEvent, ok bool)
}

// NormalizerFunc adapts a stateless function to Normalizer.
type NormalizerFunc func(line stream.ParsedLine) (events.SessionEvent, bool)

func (f NormalizerFunc) Normalize(line stream.ParsedLine) (events.SessionEvent, bool) {
	return f(line)
}

// ThreadTracker surfaces a thread id at most once.
type ThreadTracker struct {
	threadID string
}

// Assign returns a ThreadAssigned event the first time a non-empty id is seen.
func (t *ThreadTracker) Assign(id string) (events.SessionEvent, bool) {
	if id == "" || t.threadID != "" {
		return events.SessionEvent{}, false
	}
	t.threadID = id
	return events.ThreadAssigned(id), true
}

// ThreadID returns the surfaced id, or "".
func (t *ThreadTracker) ThreadID() string { return t.threadID }

// RawText maps a non-JSON line to a Diagnostic.
func RawText(line stream.ParsedLine) (events.SessionEvent, bool) {
	text := strings.TrimSpace(line.Text())
	if text == "" {
		return events.SessionEvent{}, false
	}
	return events.Diagnostic(text), true
}

// Unknown maps a structured line nobody recognized to a Diagnostic carrying
// the raw JSON, so unknown shapes degrade instead of failing the session.
func Unknown(line stream.ParsedLine) (events.SessionEvent, bool) {
	return events.Diagnostic(line.Text()), true
}

// Lookup walks nested objects: Lookup(m, "data", "session_id").
func Lookup(m map[string]any, path ...string) any {
	var cur any = m
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = obj[key]
		if !ok {
			return nil
		}
	}
	return cur
}

// LookupString is Lookup restricted to non-empty strings.
func LookupString(m map[string]any, path ...string) string {
	s, _ := Lookup(m, path...).(string)
	return s
}

// FirstString returns the first non-empty string among candidate paths.
func FirstString(m map[string]any, paths ...[]string) string {
	for _, p := range paths {
		if s := LookupString(m, p...); s != "" {
			return s
		}
	}
	return ""
}

// ExtractText flattens the content shapes providers use: a string, an array
// of parts, or an object with a text or content field.
func ExtractText(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case []any:
		var b strings.Builder
		for _, item := range c {
			b.WriteString(ExtractText(item))
		}
		return b.String()
	case map[string]any:
		if s, ok := c["text"].(string); ok {
			return s
		}
		if s, ok := c["content"].(string); ok {
			return s
		}
		if arr, ok := c["content"].([]any); ok {
			return ExtractText(arr)
		}
	}
	return ""
}

// ErrorMessage reads a polymorphic error field: a plain string, an object
// with a message, or a string embedding {"error":{"message":...}}.
func ErrorMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var obj struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return ""
	}
	if idx := strings.Index(s, "{"); idx >= 0 {
		var nested struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(s[idx:]), &nested); err == nil && nested.Error.Message != "" {
			return nested.Error.Message
		}
	}
	return s
}
