package claude

import (
	"encoding/json"

	"github.com/zjrosen/relay/internal/orchestration/client"
	"github.com/zjrosen/relay/internal/orchestration/events"
	"github.com/zjrosen/relay/internal/orchestration/stream"
)

type normalizer struct {
	thread client.ThreadTracker
}

// Normalize maps one stream-json line. An assistant message carrying both
// text and a tool call surfaces the text; the CLI emits one block per
// message in practice.
func (n *normalizer) Normalize(line stream.ParsedLine) (events.SessionEvent, bool) {
	if !line.IsJSON() {
		return client.RawText(line)
	}

	var raw rawEvent
	if err := json.Unmarshal(line.Raw, &raw); err != nil {
		return client.Unknown(line)
	}

	switch raw.Type {
	case typeSystem:
		return n.thread.Assign(raw.SessionID)

	case typeAssistant:
		if text := raw.Message.text(); text != "" {
			return events.AssistantText(text), true
		}
		if tool := raw.Message.firstBlock("tool_use"); tool != nil {
			return events.ToolActivity(tool.Name, tool.Input), true
		}
		return events.SessionEvent{}, false

	case typeUser:
		// User lines echo the prompt; only tool results are interesting.
		if res := raw.Message.firstBlock("tool_result"); res != nil {
			return events.ToolActivity("tool_result", res.Content), true
		}
		return events.SessionEvent{}, false

	case typeResult:
		// The final summary repeats the assistant text already streamed.
		if !raw.IsError {
			return events.SessionEvent{}, false
		}
		msg := raw.Result
		if msg == "" {
			msg = client.ErrorMessage(raw.Error)
		}
		if msg == "" {
			msg = "claude reported an error result"
		}
		return events.Failure(msg), true

	case typeError:
		msg := client.ErrorMessage(raw.Error)
		if msg == "" {
			msg = "claude reported an error"
		}
		return events.Failure(msg), true
	}

	return client.Unknown(line)
}
