package client

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ClientType identifies an agent CLI provider.
type ClientType string

const (
	// ClientClaude is the Claude Code CLI.
	ClientClaude ClientType = "claude"
	// ClientCodex is the OpenAI Codex CLI.
	ClientCodex ClientType = "codex"
	// ClientGemini is the Gemini CLI.
	ClientGemini ClientType = "gemini"
	// ClientAmp is the Amp CLI.
	ClientAmp ClientType = "amp"
	// ClientMock runs a shell script; used by tests.
	ClientMock ClientType = "mock"
)

// ErrUnknownClientType is returned when an unregistered provider is requested.
var ErrUnknownClientType = errors.New("unknown client type")

// ProviderFactory builds a Provider from its configuration.
type ProviderFactory func(cfg ProviderConfig) Provider

var (
	registryMu sync.RWMutex
	registry   = make(map[ClientType]ProviderFactory)
)

// RegisterProvider registers a factory for clientType.
// Provider packages call this from init().
func RegisterProvider(clientType ClientType, factory ProviderFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[clientType] = factory
}

// NewProvider resolves clientType to a configured Provider.
func NewProvider(clientType ClientType, cfg ProviderConfig) (Provider, error) {
	registryMu.RLock()
	factory, ok := registry[clientType]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClientType, clientType)
	}
	return factory(cfg), nil
}

// RegisteredProviders returns all registered types, sorted.
func RegisteredProviders() []ClientType {
	registryMu.RLock()
	defer registryMu.RUnlock()

	types := make([]ClientType, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// IsRegistered reports whether clientType has a registered factory.
func IsRegistered(clientType ClientType) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[clientType]
	return ok
}
