package client

import "fmt"

// ProcessSpawnError reports that the provider binary could not be started.
// It is fatal to the session.
type ProcessSpawnError struct {
	Provider   ClientType
	Executable string
	Err        error
}

func (e *ProcessSpawnError) Error() string {
	return fmt.Sprintf("spawn %s (%s): %v", e.Provider, e.Executable, e.Err)
}

func (e *ProcessSpawnError) Unwrap() error { return e.Err }

// ProviderRuntimeError is a genuine error reported by the provider on
// stderr or in its structured output.
type ProviderRuntimeError struct {
	Provider ClientType
	Message  string
}

func (e *ProviderRuntimeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}
