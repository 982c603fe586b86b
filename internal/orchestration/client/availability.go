package client

import (
	"os/exec"
	"sort"
)

// Availability reports whether a provider's binary can be found.
type Availability struct {
	Type       ClientType `json:"type"`
	Executable string     `json:"executable"`
	Path       string     `json:"path,omitempty"`
	Available  bool       `json:"available"`
	Error      string     `json:"error,omitempty"`
}

// CheckAvailable looks up the provider's executable on PATH.
func CheckAvailable(p Provider) Availability {
	a := Availability{Type: p.Type(), Executable: p.Executable()}
	path, err := exec.LookPath(p.Executable())
	if err != nil {
		a.Error = err.Error()
		return a
	}
	a.Path = path
	a.Available = true
	return a
}

// CheckAll reports availability for every provider in configs that is
// registered, sorted by type.
func CheckAll(configs map[ClientType]ProviderConfig) []Availability {
	var out []Availability
	for _, t := range RegisteredProviders() {
		if t == ClientMock {
			continue
		}
		p, err := NewProvider(t, configs[t])
		if err != nil {
			continue
		}
		out = append(out, CheckAvailable(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
