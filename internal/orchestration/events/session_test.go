package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSessionEvent_TerminalKinds(t *testing.T) {
	require.True(t, Completed(0).IsTerminal())
	require.True(t, Failure("boom").IsTerminal())
	require.False(t, AssistantText("hi").IsTerminal())
	require.False(t, Diagnostic("noise").IsTerminal())
	require.False(t, ThreadAssigned("t-1").IsTerminal())
	require.False(t, ToolActivity("Bash", nil).IsTerminal())
}

func TestCompleted_ExitCodeSerialized(t *testing.T) {
	data, err := json.Marshal(Completed(0))
	require.NoError(t, err)
	require.JSONEq(t, `{"kind":"completed","exitCode":0}`, string(data))

	data, err = json.Marshal(AssistantText("hi"))
	require.NoError(t, err)
	require.JSONEq(t, `{"kind":"assistant_text","text":"hi"}`, string(data))
}

func TestToolActivity_Payloads(t *testing.T) {
	ev := ToolActivity("Bash", map[string]any{"command": "ls"})
	require.JSONEq(t, `{"command":"ls"}`, string(ev.Payload))

	raw := ToolActivity("Read", json.RawMessage(`{"path":"a.go"}`))
	require.JSONEq(t, `{"path":"a.go"}`, string(raw.Payload))

	bad := ToolActivity("x", make(chan int))
	require.Nil(t, bad.Payload)
	require.Equal(t, "x", bad.ToolName)
}

func TestRecorder_SessionEvents(t *testing.T) {
	rec := NewRecorder()
	rec.Publish(Envelope{Topic: TopicSession, SourceID: "a", Data: AssistantText("one")})
	rec.Publish(Envelope{Topic: TopicSession, SourceID: "b", Data: AssistantText("other")})
	rec.Publish(Envelope{Topic: TopicJobUpdated, SourceID: "a", Data: "job"})
	rec.Publish(Envelope{Topic: TopicSession, SourceID: "a", Data: Completed(0)})

	got := rec.SessionEvents("a")
	require.Len(t, got, 2)
	require.Equal(t, "one", got[0].Text)
	require.Equal(t, KindCompleted, got[1].Kind)
	require.Len(t, rec.Envelopes(), 4)
}

func TestFanout_SkipsNil(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	Fanout{a, nil, b}.Publish(Envelope{Topic: TopicStaging})
	require.Len(t, a.Envelopes(), 1)
	require.Len(t, b.Envelopes(), 1)
}
