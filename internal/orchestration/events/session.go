package events

import "encoding/json"

// Kind identifies the variant carried by a SessionEvent.
type Kind string

const (
	// KindThreadAssigned carries the provider's conversation id.
	KindThreadAssigned Kind = "thread_assigned"
	// KindAssistantText carries assistant-authored text.
	KindAssistantText Kind = "assistant_text"
	// KindToolActivity carries a tool invocation or result.
	KindToolActivity Kind = "tool_activity"
	// KindDiagnostic carries non-fatal provider chatter.
	KindDiagnostic Kind = "diagnostic"
	// KindFailure is terminal; the session is over.
	KindFailure Kind = "failure"
	// KindCompleted is terminal; the process exited.
	KindCompleted Kind = "completed"
)

// SessionEvent is a tagged variant. Only the fields relevant to Kind are set.
type SessionEvent struct {
	Kind     Kind            `json:"kind"`
	ThreadID string          `json:"threadId,omitempty"`
	Text     string          `json:"text,omitempty"`
	ToolName string          `json:"toolName,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Message  string          `json:"message,omitempty"`
	ExitCode *int            `json:"exitCode,omitempty"`
}

func ThreadAssigned(threadID string) SessionEvent {
	return SessionEvent{Kind: KindThreadAssigned, ThreadID: threadID}
}

func AssistantText(text string) SessionEvent {
	return SessionEvent{Kind: KindAssistantText, Text: text}
}

// ToolActivity builds a tool event. payload is marshaled as-is; a value that
// cannot be marshaled is dropped rather than failing the event.
func ToolActivity(toolName string, payload any) SessionEvent {
	ev := SessionEvent{Kind: KindToolActivity, ToolName: toolName}
	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		ev.Payload = p
	case []byte:
		ev.Payload = json.RawMessage(p)
	default:
		if data, err := json.Marshal(p); err == nil {
			ev.Payload = data
		}
	}
	return ev
}

func Diagnostic(text string) SessionEvent {
	return SessionEvent{Kind: KindDiagnostic, Text: text}
}

func Failure(message string) SessionEvent {
	return SessionEvent{Kind: KindFailure, Message: message}
}

func Completed(exitCode int) SessionEvent {
	code := exitCode
	return SessionEvent{Kind: KindCompleted, ExitCode: &code}
}

// IsTerminal reports whether no further events may follow this one.
func (e SessionEvent) IsTerminal() bool {
	return e.Kind == KindFailure || e.Kind == KindCompleted
}
