package codex

import (
	"strings"

	"github.com/zjrosen/relay/internal/orchestration/client"
	"github.com/zjrosen/relay/internal/orchestration/events"
	"github.com/zjrosen/relay/internal/orchestration/stream"
)

// Codex output shapes drifted across CLI releases, so lines are read as
// generic maps with several fallback paths instead of one fixed struct.

var threadIDPaths = [][]string{
	{"thread_id"},
	{"threadId"},
	{"session_id"},
	{"sessionId"},
	{"data", "session_id"},
	{"data", "thread_id"},
	{"data", "sessionId"},
	{"meta", "session_id"},
	{"meta", "thread_id"},
	{"meta", "sessionId"},
}

var toolNamePaths = [][]string{
	{"tool", "name"},
	{"name"},
	{"tool_name"},
	{"data", "tool", "name"},
}

type normalizer struct {
	thread client.ThreadTracker
}

func (n *normalizer) Normalize(line stream.ParsedLine) (events.SessionEvent, bool) {
	if !line.IsJSON() {
		return client.RawText(line)
	}
	m := line.Value
	msgType := client.FirstString(m, []string{"type"}, []string{"event"}, []string{"kind"})

	if msgType == "thread.started" {
		id := client.LookupString(m, "thread_id")
		if id == "" {
			id = client.FirstString(m, threadIDPaths...)
		}
		return n.thread.Assign(id)
	}

	role := client.FirstString(m, []string{"role"}, []string{"message", "role"}, []string{"data", "role"})
	if role == "user" {
		return events.SessionEvent{}, false
	}

	if ev, ok, handled := n.byType(line, msgType); handled {
		return ev, ok
	}

	if text := assistantContent(m); text != "" {
		return events.AssistantText(text), true
	}

	// Older releases carried the thread id on ordinary lines.
	id := client.FirstString(m, threadIDPaths...)
	if ev, ok := n.thread.Assign(id); ok {
		return ev, true
	}
	if id != "" {
		return events.SessionEvent{}, false
	}
	return client.Unknown(line)
}

// byType handles the typed event families. handled is false when the line
// should fall through to the generic content lookup.
func (n *normalizer) byType(line stream.ParsedLine, msgType string) (ev events.SessionEvent, ok, handled bool) {
	m := line.Value
	switch {
	case msgType == "turn.started":
		return events.SessionEvent{}, false, true

	case msgType == "turn.completed":
		// Usage summary for the turn; not user-facing.
		return events.SessionEvent{}, false, true

	case msgType == "turn.failed" || msgType == "error":
		return events.Failure(errorText(m)), true, true

	case strings.HasPrefix(msgType, "item."):
		item, _ := m["item"].(map[string]any)
		ev, ok := normalizeItem(item)
		return ev, ok, true

	case strings.Contains(msgType, "tool"):
		name := client.FirstString(m, toolNamePaths...)
		if name == "" {
			name = "unknown"
		}
		return events.ToolActivity(name, firstPresent(m,
			[]string{"input"}, []string{"output"},
			[]string{"tool", "input"}, []string{"tool", "output"})), true, true
	}
	return events.SessionEvent{}, false, false
}

func normalizeItem(item map[string]any) (events.SessionEvent, bool) {
	if item == nil {
		return events.SessionEvent{}, false
	}
	itemType := client.LookupString(item, "type")

	switch {
	case itemType == "reasoning":
		return events.SessionEvent{}, false

	case itemType == "agent_message" || itemType == "assistant_message" || itemType == "assistant":
		text := client.ExtractText(firstPresent(item, []string{"text"}, []string{"content"}, []string{"message"}))
		if text == "" {
			return events.SessionEvent{}, false
		}
		return events.AssistantText(text), true

	case itemType == "command_execution" || itemType == "tool_call" || itemType == "tool_result" ||
		strings.Contains(itemType, "tool"):
		name := client.FirstString(item, []string{"tool", "name"}, []string{"name"})
		if name == "" {
			name = itemType
		}
		return events.ToolActivity(name, item), true
	}

	if itemType == "" {
		return events.SessionEvent{}, false
	}
	return events.ToolActivity(itemType, item), true
}

func assistantContent(m map[string]any) string {
	return client.ExtractText(firstPresent(m,
		[]string{"message", "content"},
		[]string{"content"},
		[]string{"delta", "content"},
		[]string{"data", "content"},
		[]string{"text"},
		[]string{"delta"},
	))
}

// errorText reads error as a string or an object with a message.
func errorText(m map[string]any) string {
	switch e := m["error"].(type) {
	case string:
		if e != "" {
			return e
		}
	case map[string]any:
		if s := client.LookupString(e, "message"); s != "" {
			return s
		}
	}
	if s := client.LookupString(m, "message"); s != "" {
		return s
	}
	return "codex reported an error"
}

func firstPresent(m map[string]any, paths ...[]string) any {
	for _, p := range paths {
		if v := client.Lookup(m, p...); v != nil {
			return v
		}
	}
	return nil
}
