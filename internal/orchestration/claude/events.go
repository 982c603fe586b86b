package claude

import "encoding/json"

const (
	typeSystem    = "system"
	typeAssistant = "assistant"
	typeUser      = "user"
	typeResult    = "result"
	typeError     = "error"
)

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type message struct {
	Role    string         `json:"role,omitempty"`
	Content []contentBlock `json:"content,omitempty"`
}

// rawEvent mirrors one line of `claude --output-format stream-json`.
// Error is polymorphic: either a code string or an object with a message.
type rawEvent struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Message   *message        `json:"message,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Result    string          `json:"result,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`
}

// text concatenates every text block.
func (m *message) text() string {
	if m == nil {
		return ""
	}
	var out string
	for _, b := range m.Content {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}

func (m *message) firstBlock(blockType string) *contentBlock {
	if m == nil {
		return nil
	}
	for i := range m.Content {
		if m.Content[i].Type == blockType {
			return &m.Content[i]
		}
	}
	return nil
}
