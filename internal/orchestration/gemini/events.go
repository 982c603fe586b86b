package gemini

import "encoding/json"

// rawEvent mirrors one line of `gemini --output-format stream-json`.
// Content stays untyped because it is either a string or a list of parts.
type rawEvent struct {
	Type       string          `json:"type"`
	SessionID  string          `json:"session_id,omitempty"`
	Role       string          `json:"role,omitempty"`
	Content    any             `json:"content,omitempty"`
	Delta      bool            `json:"delta,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Name       string          `json:"name,omitempty"`
	ToolID     string          `json:"tool_id,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	Status     string          `json:"status,omitempty"`
	Severity   string          `json:"severity,omitempty"`
	Message    string          `json:"message,omitempty"`
	Error      json.RawMessage `json:"error,omitempty"`
}

func (r *rawEvent) toolName(fallback string) string {
	switch {
	case r.ToolName != "":
		return r.ToolName
	case r.Name != "":
		return r.Name
	default:
		return fallback
	}
}

func firstRaw(candidates ...json.RawMessage) json.RawMessage {
	for _, c := range candidates {
		if len(c) > 0 {
			return c
		}
	}
	return nil
}
