package mock

import (
	"encoding/json"

	"github.com/zjrosen/relay/internal/orchestration/client"
	"github.com/zjrosen/relay/internal/orchestration/events"
	"github.com/zjrosen/relay/internal/orchestration/stream"
)

func init() {
	client.RegisterProvider(client.ClientMock, func(cfg client.ProviderConfig) client.Provider {
		return New(cfg)
	})
}

// Provider runs cfg.Script through sh.
type Provider struct {
	cfg client.ProviderConfig
}

// New creates a Provider.
func New(cfg client.ProviderConfig) *Provider {
	return &Provider{cfg: cfg}
}

// Script is a convenience constructor for tests.
func Script(script string) *Provider {
	return New(client.ProviderConfig{Script: script})
}

func (p *Provider) Type() client.ClientType { return client.ClientMock }

func (p *Provider) Executable() string { return p.cfg.ExecutableOr("sh") }

func (p *Provider) Args(inv client.Invocation) []string {
	return []string{"-c", p.cfg.Script, "mock", inv.Prompt, inv.ThreadID}
}

func (p *Provider) Env() []string { return p.cfg.Env }

func (p *Provider) NewNormalizer() client.Normalizer { return &normalizer{} }

var _ client.Provider = (*Provider)(nil)

type line struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Text    string          `json:"text"`
	Name    string          `json:"name"`
	Input   json.RawMessage `json:"input"`
	Message string          `json:"message"`
}

type normalizer struct {
	thread client.ThreadTracker
}

func (n *normalizer) Normalize(parsed stream.ParsedLine) (events.SessionEvent, bool) {
	if !parsed.IsJSON() {
		return client.RawText(parsed)
	}
	var l line
	if err := json.Unmarshal(parsed.Raw, &l); err != nil {
		return client.Unknown(parsed)
	}
	switch l.Type {
	case "thread":
		return n.thread.Assign(l.ID)
	case "text":
		return events.AssistantText(l.Text), true
	case "tool":
		return events.ToolActivity(l.Name, l.Input), true
	case "error":
		return events.Failure(l.Message), true
	}
	return client.Unknown(parsed)
}
