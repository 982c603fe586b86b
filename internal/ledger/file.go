package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zjrosen/relay/internal/log"
)

// FileLedger keeps entries as a JSON array in one file.
type FileLedger struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

var _ Ledger = (*FileLedger)(nil)

// NewFileLedger creates the parent directory if needed.
func NewFileLedger(path string) (*FileLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}
	return &FileLedger{path: path, now: time.Now}, nil
}

func (l *FileLedger) read() ([]Entry, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading ledger: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing ledger %s: %w", l.path, err)
	}
	return entries, nil
}

func (l *FileLedger) Append(_ context.Context, e Entry) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.read()
	if err != nil {
		return Entry{}, err
	}
	e = prepare(e, l.now())
	entries = append(entries, e)

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return Entry{}, fmt.Errorf("encoding ledger: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return Entry{}, fmt.Errorf("writing ledger: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return Entry{}, fmt.Errorf("replacing ledger: %w", err)
	}
	log.Warn(log.CatLedger, "Recorded failure", "id", e.ID, "error", e.Error)
	return e, nil
}

func (l *FileLedger) List(_ context.Context, limit int) ([]Entry, error) {
	l.mu.Lock()
	entries, err := l.read()
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
