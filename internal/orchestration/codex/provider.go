// Package codex adapts the OpenAI Codex CLI (`codex exec --json`).
package codex

import (
	"github.com/zjrosen/relay/internal/orchestration/client"
)

// DefaultExecutable is the binary looked up on PATH.
const DefaultExecutable = "codex"

func init() {
	client.RegisterProvider(client.ClientCodex, func(cfg client.ProviderConfig) client.Provider {
		return New(cfg)
	})
}

// Provider implements client.Provider for Codex.
type Provider struct {
	cfg client.ProviderConfig
}

// New creates a Provider.
func New(cfg client.ProviderConfig) *Provider {
	return &Provider{cfg: cfg}
}

func (p *Provider) Type() client.ClientType { return client.ClientCodex }

func (p *Provider) Executable() string { return p.cfg.ExecutableOr(DefaultExecutable) }

// Args builds `codex exec [resume] <flags> [threadId] <prompt>`.
func (p *Provider) Args(inv client.Invocation) []string {
	args := []string{"exec"}
	if inv.ThreadID != "" {
		args = append(args, "resume")
	}
	args = append(args,
		"--json",
		"--dangerously-bypass-approvals-and-sandbox",
		"--skip-git-repo-check",
	)
	if p.cfg.Model != "" {
		args = append(args, "--model", p.cfg.Model)
	}
	if inv.ThreadID != "" {
		args = append(args, inv.ThreadID)
	}
	return append(args, inv.Prompt)
}

func (p *Provider) Env() []string { return p.cfg.Env }

func (p *Provider) NewNormalizer() client.Normalizer { return &normalizer{} }

var _ client.Provider = (*Provider)(nil)
