// Package session runs one external agent process per request and turns its
// output into SessionEvents.
//
// All session state is owned by the dispatcher goroutine: output readers and
// the exit waiter run in their own goroutines and hand decoded lines back as
// dispatcher commands, so a session's callbacks never interleave and the
// registry needs no lock.
package session

import (
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/relay/internal/log"
	"github.com/zjrosen/relay/internal/orchestration/client"
)

// ErrSessionNotFound is returned for unknown, finished or already cancelled
// sessions.
var ErrSessionNotFound = errors.New("session not found or already completed")

// Request describes one agent turn.
type Request struct {
	// Cwd is the project directory the agent runs in.
	Cwd string
	// Prompt is the user message.
	Prompt string
	// ThreadID resumes a previous provider conversation.
	ThreadID string
	// Env holds extra "KEY=VALUE" entries for this run only.
	Env []string
	// Room routes pushed events to the requesting client.
	Room string
}

// Info is a point-in-time copy of a session, safe to hand to other
// goroutines.
type Info struct {
	ID        string            `json:"id"`
	Provider  client.ClientType `json:"provider"`
	ThreadID  string            `json:"threadId,omitempty"`
	Status    client.Status     `json:"status"`
	Cwd       string            `json:"cwd"`
	Room      string            `json:"room,omitempty"`
	Pid       int               `json:"pid,omitempty"`
	StartedAt time.Time         `json:"startedAt"`
}

// ProcessSession is one running agent process. Fields are only touched on
// the dispatcher goroutine.
type ProcessSession struct {
	id         string
	provider   client.Provider
	req        Request
	status     client.Status
	threadID   string
	normalizer client.Normalizer
	proc       *client.Process
	startedAt  time.Time
	span       trace.Span
	failure    error
}

func newProcessSession(id string, provider client.Provider, req Request, now time.Time) *ProcessSession {
	return &ProcessSession{
		id:         id,
		provider:   provider,
		req:        req,
		status:     client.StatusStarting,
		threadID:   req.ThreadID,
		normalizer: provider.NewNormalizer(),
		startedAt:  now,
	}
}

// ID returns the session id.
func (s *ProcessSession) ID() string { return s.id }

// Status returns the current lifecycle state.
func (s *ProcessSession) Status() client.Status { return s.status }

func (s *ProcessSession) setStatus(next client.Status) bool {
	if !s.status.CanTransition(next) {
		log.Warn(log.CatSession, "ignoring invalid status transition",
			"session", s.id, "from", s.status, "to", next)
		return false
	}
	s.status = next
	return true
}

func (s *ProcessSession) info() Info {
	info := Info{
		ID:        s.id,
		Provider:  s.provider.Type(),
		ThreadID:  s.threadID,
		Status:    s.status,
		Cwd:       s.req.Cwd,
		Room:      s.req.Room,
		StartedAt: s.startedAt,
	}
	if s.proc != nil {
		info.Pid = s.proc.Pid()
	}
	return info
}
