package amp

import (
	"encoding/json"
	"strings"

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
	case "system":
		return n.thread.Assign(raw.SessionID)

	case "assistant":
		return assistant(&raw)

	case "tool_use", "tool_result":
		name := raw.Tool
		if name == "" {
			name = raw.Name
		}
		if name == "" {
			name = "unknown"
		}
		payload := raw.Input
		for _, candidate := range []json.RawMessage{raw.Output, raw.Content} {
			if len(payload) == 0 {
				payload = candidate
			}
		}
		return events.ToolActivity(name, payload), true

	case "user":
		return events.SessionEvent{}, false

	case "result":
		if !raw.IsError {
			return events.SessionEvent{}, false
		}
		return events.Failure(errorText(&raw)), true

	case "error":
		return events.Failure(errorText(&raw)), true
	}

	return client.Unknown(line)
}

func assistant(raw *rawEvent) (events.SessionEvent, bool) {
	blocks, text := raw.Message.blocks()
	if text != "" {
		return events.AssistantText(text), true
	}

	var b strings.Builder
	var tool *contentBlock
	for i := range blocks {
		switch blocks[i].Type {
		case "text":
			b.WriteString(blocks[i].Text)
		case "tool_use":
			if tool == nil {
				tool = &blocks[i]
			}
		}
	}
	if b.Len() > 0 {
		return events.AssistantText(b.String()), true
	}
	if tool != nil {
		return events.ToolActivity(tool.Name, tool.Input), true
	}
	return events.SessionEvent{}, false
}

func errorText(raw *rawEvent) string {
	if raw.Result != "" {
		return raw.Result
	}
	if msg := client.ErrorMessage(raw.Error); msg != "" {
		return msg
	}
	return "amp reported an error"
}
