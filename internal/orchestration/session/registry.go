package session

import "sort"

// Registry indexes live sessions. It is not safe for concurrent use; the
// dispatcher goroutine owns it.
type Registry struct {
	sessions map[string]*ProcessSession
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*ProcessSession)}
}

// Register adds s, replacing any session with the same id.
func (r *Registry) Register(s *ProcessSession) {
	r.sessions[s.id] = s
}

// Get returns the session or nil.
func (r *Registry) Get(id string) *ProcessSession {
	return r.sessions[id]
}

// Remove deletes id and reports whether it was present.
func (r *Registry) Remove(id string) bool {
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Count returns the number of live sessions.
func (r *Registry) Count() int { return len(r.sessions) }

// List returns live sessions, oldest first.
func (r *Registry) List() []*ProcessSession {
	out := make([]*ProcessSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].startedAt.Equal(out[j].startedAt) {
			return out[i].id < out[j].id
		}
		return out[i].startedAt.Before(out[j].startedAt)
	})
	return out
}
