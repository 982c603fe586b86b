package client

// Invocation describes one agent turn.
type Invocation struct {
	// Prompt is the user message for this turn.
	Prompt string
	// ThreadID continues a previous provider conversation when set.
	ThreadID string
}

// ProviderConfig carries operator configuration for one provider.
type ProviderConfig struct {
	// Executable overrides the binary name or path.
	Executable string
	// Model is passed through when the CLI supports model selection.
	Model string
	// Env holds extra "KEY=VALUE" entries appended to the process environment.
	Env []string
	// Script is the shell script run by the mock provider.
	Script string
}

// Provider knows how to invoke one agent CLI and how to read its output.
type Provider interface {
	// Type returns the provider identifier.
	Type() ClientType
	// Executable returns the binary to run.
	Executable() string
	// Args builds the argument list for inv.
	Args(inv Invocation) []string
	// Env returns extra environment entries for the process.
	Env() []string
	// NewNormalizer returns a fresh normalizer; one per session.
	NewNormalizer() Normalizer
}

// ExecutableOr returns cfg.Executable, or fallback when unset.
func (cfg ProviderConfig) ExecutableOr(fallback string) string {
	if cfg.Executable != "" {
		return cfg.Executable
	}
	return fallback
}
