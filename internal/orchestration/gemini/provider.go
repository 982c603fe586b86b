// Package gemini adapts the Gemini CLI in stream-json mode.
package gemini

import (
	"github.com/zjrosen/relay/internal/orchestration/client"
)

// DefaultExecutable is the binary looked up on PATH.
const DefaultExecutable = "gemini"

func init() {
	client.RegisterProvider(client.ClientGemini, func(cfg client.ProviderConfig) client.Provider {
		return New(cfg)
	})
}

// Provider implements client.Provider for Gemini.
type Provider struct {
	cfg client.ProviderConfig
}

// New creates a Provider.
func New(cfg client.ProviderConfig) *Provider {
	return &Provider{cfg: cfg}
}

func (p *Provider) Type() client.ClientType { return client.ClientGemini }

func (p *Provider) Executable() string { return p.cfg.ExecutableOr(DefaultExecutable) }

// Args puts the prompt first, as the CLI expects a positional prompt.
func (p *Provider) Args(inv client.Invocation) []string {
	args := []string{inv.Prompt, "--output-format", "stream-json", "--yolo"}
	if p.cfg.Model != "" {
		args = append(args, "--model", p.cfg.Model)
	}
	if inv.ThreadID != "" {
		args = append(args, "--resume", inv.ThreadID)
	}
	return args
}

func (p *Provider) Env() []string { return p.cfg.Env }

func (p *Provider) NewNormalizer() client.Normalizer { return &normalizer{} }

var _ client.Provider = (*Provider)(nil)
