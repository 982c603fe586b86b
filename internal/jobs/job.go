package jobs

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusStarting   Status = "starting"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether s can no longer change.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Kind names what a job does.
type Kind string

const KindProjectCreation Kind = "project-creation"

// PhaseCompleted is the phase of every successful job.
const PhaseCompleted = "completed"

// Step is one phase of a job. Entering the step sets the job's phase and
// raises its progress to Progress.
type Step struct {
	Phase    string
	Progress int
	// Message is logged when the step starts.
	Message string
	// Critical steps fail the job on error; other steps log the error
	// into the output and the job continues.
	Critical bool
	Run      func(ctx context.Context, sc *StepContext) error
}

// Snapshot is the compacted view served to pollers and pushed to sinks.
type Snapshot struct {
	ID          string     `json:"jobId"`
	Kind        Kind       `json:"kind"`
	Status      Status     `json:"status"`
	Phase       string     `json:"phase"`
	Progress    int        `json:"progress"`
	Output      []string   `json:"recentOutput"`
	OutputLines int        `json:"outputLines"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	Room        string     `json:"room,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// job is the mutable record. Only the dispatcher goroutine touches it.
type job struct {
	id          string
	kind        Kind
	room        string
	status      Status
	phase       string
	progress    int
	output      *ring
	result      any
	err         string
	startedAt   time.Time
	updatedAt   time.Time
	completedAt *time.Time
	span        trace.Span
}

func (j *job) snapshot(tail int) Snapshot {
	return Snapshot{
		ID:          j.id,
		Kind:        j.kind,
		Status:      j.status,
		Phase:       j.phase,
		Progress:    j.progress,
		Output:      j.output.tail(tail),
		OutputLines: j.output.total,
		Result:      j.result,
		Error:       j.err,
		Room:        j.room,
		StartedAt:   j.startedAt,
		UpdatedAt:   j.updatedAt,
		CompletedAt: j.completedAt,
	}
}

// advance raises progress, never lowers it, and caps it below 100 until
// the job completes.
func (j *job) advance(p int) {
	if p > 99 {
		p = 99
	}
	if p > j.progress {
		j.progress = p
	}
}
