// Package claude adapts the Claude Code CLI in headless stream-json mode.
package claude

import (
	"github.com/zjrosen/relay/internal/orchestration/client"
)

// DefaultExecutable is the binary looked up on PATH.
const DefaultExecutable = "claude"

func init() {
	client.RegisterProvider(client.ClientClaude, func(cfg client.ProviderConfig) client.Provider {
		return New(cfg)
	})
}

// Provider implements client.Provider for Claude Code.
type Provider struct {
	cfg client.ProviderConfig
}

// New creates a Provider.
func New(cfg client.ProviderConfig) *Provider {
	return &Provider{cfg: cfg}
}

func (p *Provider) Type() client.ClientType { return client.ClientClaude }

func (p *Provider) Executable() string { return p.cfg.ExecutableOr(DefaultExecutable) }

// Args builds a non-interactive invocation. The prompt goes after "--" so
// a prompt starting with a dash is not read as a flag.
func (p *Provider) Args(inv client.Invocation) []string {
	args := []string{
		"--print",
		"--output-format", "stream-json",
		"--verbose",
		"--dangerously-skip-permissions",
	}
	if inv.ThreadID != "" {
		args = append(args, "--resume", inv.ThreadID)
	}
	if p.cfg.Model != "" {
		args = append(args, "--model", p.cfg.Model)
	}
	return append(args, "--", inv.Prompt)
}

func (p *Provider) Env() []string { return p.cfg.Env }

func (p *Provider) NewNormalizer() client.Normalizer { return &normalizer{} }

var _ client.Provider = (*Provider)(nil)
