package mock

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/relay/internal/orchestration/client"
	"github.com/zjrosen/relay/internal/orchestration/events"
	"github.com/zjrosen/relay/internal/orchestration/stream"
)

func TestProvider_Args(t *testing.T) {
	p := Script(`echo "$1"`)
	require.Equal(t, "sh", p.Executable())
	require.Equal(t, []string{"-c", `echo "$1"`, "mock", "hi", ""}, p.Args(client.Invocation{Prompt: "hi"}))
}

func TestNormalizer(t *testing.T) {
	n := Script("").NewNormalizer()
	lines := stream.NewDecoder().Feed([]byte(
		`{"type":"thread","id":"t-1"}` + "\n" +
			`{"type":"text","text":"hello"}` + "\n" +
			`{"type":"tool","name":"Read","input":{"path":"a"}}` + "\n" +
			`{"type":"error","message":"boom"}` + "\n" +
			"free text\n"))

	var got []events.SessionEvent
	for _, l := range lines {
		if ev, ok := n.Normalize(l); ok {
			got = append(got, ev)
		}
	}

	require.Len(t, got, 5)
	require.Equal(t, events.ThreadAssigned("t-1"), got[0])
	require.Equal(t, events.AssistantText("hello"), got[1])
	require.Equal(t, "Read", got[2].ToolName)
	require.Equal(t, events.Failure("boom"), got[3])
	require.Equal(t, events.Diagnostic("free text"), got[4])
}
