package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zjrosen/relay/internal/ledger"
)

// LedgerRepository implements ledger.Ledger on the ledger_entries table.
type LedgerRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ ledger.Ledger = (*LedgerRepository)(nil)

func newLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db, now: time.Now}
}

// Append inserts e, assigning an id and timestamp when they are empty.
func (r *LedgerRepository) Append(ctx context.Context, e ledger.Entry) (ledger.Entry, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now().UTC()
	}
	if e.ID == "" {
		e.ID = ledger.NewID(e.Timestamp)
	}
	if e.Context == nil {
		e.Context = map[string]string{}
	}

	ctxJSON, err := json.Marshal(e.Context)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("encoding ledger context: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO ledger_entries (id, context, error, created_at) VALUES (?, ?, ?, ?)`,
		e.ID, string(ctxJSON), e.Error, e.Timestamp.UnixMilli(),
	)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return e, nil
}

// List returns entries newest first.
func (r *LedgerRepository) List(ctx context.Context, limit int) ([]ledger.Entry, error) {
	query := `SELECT id, context, error, created_at FROM ledger_entries ORDER BY created_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ledger.Entry
	for rows.Next() {
		var (
			e       ledger.Entry
			ctxJSON string
			ms      int64
		)
		if err := rows.Scan(&e.ID, &ctxJSON, &e.Error, &ms); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		if err := json.Unmarshal([]byte(ctxJSON), &e.Context); err != nil {
			return nil, fmt.Errorf("decoding ledger context for %s: %w", e.ID, err)
		}
		e.Timestamp = time.UnixMilli(ms).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
