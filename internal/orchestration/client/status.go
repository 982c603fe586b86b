package client

// Status is the lifecycle state of an agent session.
type Status string

const (
	StatusStarting  Status = "starting"
	StatusRunning   Status = "running"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal returns true for cancelled, completed and failed.
func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from s to next keeps the lifecycle
// monotone: starting -> running -> terminal, never out of a terminal state.
func (s Status) CanTransition(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	switch next {
	case StatusStarting:
		return false
	case StatusRunning:
		return s == StatusStarting
	default:
		return next.IsTerminal()
	}
}
