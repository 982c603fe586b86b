// Package ledger records compensating actions that failed during rollback so
// an operator can finish the cleanup by hand.
package ledger

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/zjrosen/relay/internal/log"
)

// Entry is one persisted failure.
type Entry struct {
	ID        string            `json:"id"`
	Context   map[string]string `json:"context"`
	Error     string            `json:"error"`
	Timestamp time.Time         `json:"timestamp"`
}

// Ledger stores entries in append order.
type Ledger interface {
	Append(ctx context.Context, e Entry) (Entry, error)
	// List returns up to limit entries, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]Entry, error)
}

// CleanupFailure describes one failed rollback step. It is recorded, never
// returned to callers of the operation that was being rolled back.
type CleanupFailure struct {
	Step    string
	Project string
	Branch  string
	Path    string
	Err     error
}

func (f *CleanupFailure) Error() string {
	return fmt.Sprintf("cleanup %s failed for %s: %v", f.Step, f.Project, f.Err)
}

func (f *CleanupFailure) Unwrap() error { return f.Err }

// Entry converts the failure to a ledger entry without an id.
func (f *CleanupFailure) Entry() Entry {
	ctx := map[string]string{"step": f.Step, "projectName": f.Project}
	if f.Branch != "" {
		ctx["branchName"] = f.Branch
	}
	if f.Path != "" {
		ctx["localPath"] = f.Path
	}
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return Entry{Context: ctx, Error: msg}
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a time-sortable id for ts.
func NewID(ts time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(ts), entropy).String()
}

// prepare fills in the id and timestamp.
func prepare(e Entry, now time.Time) Entry {
	if e.Timestamp.IsZero() {
		e.Timestamp = now.UTC()
	}
	if e.ID == "" {
		e.ID = NewID(e.Timestamp)
	}
	if e.Context == nil {
		e.Context = map[string]string{}
	}
	return e
}

// Record appends f and logs when the ledger itself fails. Rollback code
// calls it so that a broken ledger never masks the original error.
func Record(ctx context.Context, l Ledger, f *CleanupFailure) {
	if l == nil {
		return
	}
	if _, err := l.Append(ctx, f.Entry()); err != nil {
		log.ErrorErr(log.CatLedger, "Failed to record cleanup failure", err,
			"step", f.Step, "project", f.Project, "cause", f.Err)
	}
}
