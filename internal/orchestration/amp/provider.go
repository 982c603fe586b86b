// Package amp adapts the Amp CLI (`amp --execute --stream-json`).
package amp

import (
	"github.com/zjrosen/relay/internal/orchestration/client"
)

// DefaultExecutable is the binary looked up on PATH.
const DefaultExecutable = "amp"

func init() {
	client.RegisterProvider(client.ClientAmp, func(cfg client.ProviderConfig) client.Provider {
		return New(cfg)
	})
}

// Provider implements client.Provider for Amp.
type Provider struct {
	cfg client.ProviderConfig
}

// New creates a Provider.
func New(cfg client.ProviderConfig) *Provider {
	return &Provider{cfg: cfg}
}

func (p *Provider) Type() client.ClientType { return client.ClientAmp }

func (p *Provider) Executable() string { return p.cfg.ExecutableOr(DefaultExecutable) }

// Args builds an execute-mode invocation; continuing a thread goes through
// the `threads continue` subcommand.
func (p *Provider) Args(inv client.Invocation) []string {
	var args []string
	if inv.ThreadID != "" {
		args = append(args, "threads", "continue", "--thread", inv.ThreadID)
	}
	return append(args, "--execute", inv.Prompt, "--stream-json", "--dangerously-allow-all")
}

// Env returns configured extras. AMP_API_KEY reaches the process through
// the inherited environment.
func (p *Provider) Env() []string { return p.cfg.Env }

func (p *Provider) NewNormalizer() client.Normalizer { return &normalizer{} }

var _ client.Provider = (*Provider)(nil)
