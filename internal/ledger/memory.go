package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger is an in-process Ledger used by tests and as a fallback when
// no path is configured.
type MemoryLedger struct {
	mu      sync.Mutex
	entries []Entry
}

var _ Ledger = (*MemoryLedger)(nil)

func NewMemoryLedger() *MemoryLedger { return &MemoryLedger{} }

func (l *MemoryLedger) Append(_ context.Context, e Entry) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e = prepare(e, time.Now())
	l.entries = append(l.entries, e)
	return e, nil
}

func (l *MemoryLedger) List(_ context.Context, limit int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, 0, len(l.entries))
	for i := len(l.entries) - 1; i >= 0; i-- {
		out = append(out, l.entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
