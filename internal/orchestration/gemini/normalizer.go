package gemini

import (
	"encoding/json"

	"github.com/zjrosen/relay/internal/orchestration/client"
	"github.com/zjrosen/relay/internal/orchestration/events"
	"github.com/zjrosen/relay/internal/orchestration/stream"
)

type normalizer struct {
	thread client.ThreadTracker
}

func (n *normalizer) Normalize(line stream.ParsedLine) (events.SessionEvent, bool) {
	if !line.IsJSON() {
		return client.RawText(line)
	}

	var raw rawEvent
	if err := json.Unmarshal(line.Raw, &raw); err != nil {
		return client.Unknown(line)
	}

	switch raw.Type {
	case "init", "system":
		return n.thread.Assign(raw.SessionID)

	case "message", "assistant":
		if raw.Role == "user" {
			return events.SessionEvent{}, false
		}
		text := client.ExtractText(raw.Content)
		if text == "" {
			return events.SessionEvent{}, false
		}
		return events.AssistantText(text), true

	case "tool_use", "tool":
		return events.ToolActivity(raw.toolName("unknown"), firstRaw(raw.Parameters, raw.Input, raw.Output)), true

	case "tool_result":
		return events.ToolActivity(raw.toolName("tool_result"), firstRaw(raw.Output, raw.Input)), true

	case "result":
		if raw.Status != "error" {
			return events.SessionEvent{}, false
		}
		return events.Failure(n.errorText(&raw)), true

	case "error":
		if raw.Severity == "warning" {
			return events.Diagnostic(n.errorText(&raw)), true
		}
		return events.Failure(n.errorText(&raw)), true
	}

	return client.Unknown(line)
}

func (n *normalizer) errorText(raw *rawEvent) string {
	if raw.Message != "" {
		return raw.Message
	}
	if msg := client.ErrorMessage(raw.Error); msg != "" {
		return msg
	}
	return "gemini reported an error"
}
