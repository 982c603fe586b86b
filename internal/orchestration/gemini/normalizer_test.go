package gemini

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/relay/internal/orchestration/client"
	"github.com/zjrosen/relay/internal/orchestration/events"
	"github.com/zjrosen/relay/internal/orchestration/stream"
)

func normalize(t *testing.T, n client.Normalizer, s string) (events.SessionEvent, bool) {
	t.Helper()
	lines := stream.NewDecoder().Feed([]byte(s + "\n"))
	require.Len(t, lines, 1)
	return n.Normalize(lines[0])
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		line string
		want events.SessionEvent
		ok   bool
	}{
		{"init", `{"type":"init","session_id":"g-1","model":"gemini-2.5-pro"}`, events.ThreadAssigned("g-1"), true},
		{"user echo", `{"type":"message","role":"user","content":"hi"}`, events.SessionEvent{}, false},
		{"assistant delta", `{"type":"message","role":"assistant","content":"Hel","delta":true}`, events.AssistantText("Hel"), true},
		{"assistant parts", `{"type":"assistant","content":[{"text":"a"},{"text":"b"}]}`, events.AssistantText("ab"), true},
		{"empty assistant", `{"type":"message","role":"assistant","content":""}`, events.SessionEvent{}, false},
		{"result ok", `{"type":"result","status":"success","stats":{}}`, events.SessionEvent{}, false},
		{"result error", `{"type":"result","status":"error","error":{"message":"quota"}}`, events.Failure("quota"), true},
		{"error", `{"type":"error","severity":"error","message":"boom"}`, events.Failure("boom"), true},
		{"warning", `{"type":"error","severity":"warning","message":"loop detected"}`, events.Diagnostic("loop detected"), true},
		{"raw", `Loaded cached credentials.`, events.Diagnostic("Loaded cached credentials."), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := New(client.ProviderConfig{}).NewNormalizer()
			got, ok := normalize(t, n, tt.line)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_Tools(t *testing.T) {
	n := New(client.ProviderConfig{}).NewNormalizer()

	ev, ok := normalize(t, n, `{"type":"tool_use","tool_name":"read_file","tool_id":"t1","parameters":{"path":"a"}}`)
	require.True(t, ok)
	require.Equal(t, "read_file", ev.ToolName)
	require.JSONEq(t, `{"path":"a"}`, string(ev.Payload))

	ev, ok = normalize(t, n, `{"type":"tool_result","tool_id":"t1","status":"success","output":"contents"}`)
	require.True(t, ok)
	require.Equal(t, "tool_result", ev.ToolName)
	require.JSONEq(t, `"contents"`, string(ev.Payload))
}

func TestNormalize_ThreadOnce(t *testing.T) {
	n := New(client.ProviderConfig{}).NewNormalizer()

	_, ok := normalize(t, n, `{"type":"init","session_id":"g-1"}`)
	require.True(t, ok)
	_, ok = normalize(t, n, `{"type":"system","session_id":"g-2"}`)
	require.False(t, ok)
}

func TestArgs(t *testing.T) {
	p := New(client.ProviderConfig{})
	require.Equal(t, []string{"do it", "--output-format", "stream-json", "--yolo", "--resume", "g-1"},
		p.Args(client.Invocation{Prompt: "do it", ThreadID: "g-1"}))
}
