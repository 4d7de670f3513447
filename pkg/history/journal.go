// Package history keeps a SQLite journal of dispatch outcomes. Nothing in
// the journal is ever replayed.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"printcast/pkg/db"
	"printcast/pkg/model"
)

const lastPruneKey = "dispatch_log_last_prune"

// writeBuffer bounds the outcomes waiting to be written.
const writeBuffer = 256

// Entry is one journaled job outcome.
type Entry struct {
	ID           int64     `json:"id"`
	CollectionID string    `json:"collection_id"`
	Source       string    `json:"source"`
	Position     int       `json:"position"`
	Kind         string    `json:"kind"`
	Outcome      string    `json:"outcome"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Journal writes dispatch records to SQLite.
type Journal struct {
	db *db.DB

	mu      sync.Mutex
	closed  bool
	writes  chan pendingWrite
	written chan struct{}
}

type pendingWrite struct {
	c       model.Collection
	records []model.DispatchRecord
}

// New wraps an opened database and starts the background writer.
func New(d *db.DB) *Journal {
	j := &Journal{
		db:      d,
		writes:  make(chan pendingWrite, writeBuffer),
		written: make(chan struct{}),
	}
	go j.writeLoop()
	return j
}

func (j *Journal) writeLoop() {
	defer close(j.written)
	for w := range j.writes {
		if err := j.Record(context.Background(), w.c.Source, w.records); err != nil {
			slog.Error("History: failed to record dispatch", "collection", w.c.ID, "error", err)
		}
	}
}

// Close writes what is still buffered and closes the underlying database.
func (j *Journal) Close() error {
	j.mu.Lock()
	if !j.closed {
		j.closed = true
		close(j.writes)
	}
	j.mu.Unlock()

	<-j.written
	return j.db.Close()
}

// Dispatched queues the outcome of each job in c for writing. Outcomes
// arriving while the writer is a full buffer behind are dropped.
func (j *Journal) Dispatched(c model.Collection, records []model.DispatchRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	select {
	case j.writes <- pendingWrite{c: c, records: records}:
	default:
		slog.Warn("History: writer behind, dispatch not journaled", "collection", c.ID)
	}
}

// Record inserts records in a single transaction.
func (j *Journal) Record(ctx context.Context, source string, records []model.DispatchRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO dispatch_log (collection_id, source, position, kind, outcome, error_kind, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		outcome, errText := "ok", ""
		if r.Err != nil {
			outcome, errText = "failed", r.Err.Error()
		}
		at := r.At
		if at.IsZero() {
			at = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			r.CollectionID, source, r.Position, string(r.Kind), outcome,
			nullString(r.ErrorKind), nullString(errText),
			at.UTC().Format("2006-01-02 15:04:05"),
		); err != nil {
			return fmt.Errorf("insert dispatch record: %w", err)
		}
	}
	return tx.Commit()
}

// Recent returns the newest entries first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, collection_id, COALESCE(source, ''), position, kind, outcome,
		        COALESCE(error_kind, ''), COALESCE(error, ''), created_at
		 FROM dispatch_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.CollectionID, &e.Source, &e.Position, &e.Kind, &e.Outcome,
			&e.ErrorKind, &e.Error, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Counts returns the number of journaled jobs per outcome.
func (j *Journal) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT outcome, count(*) FROM dispatch_log GROUP BY outcome`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		out[outcome] = n
	}
	return out, rows.Err()
}

// Prune deletes entries older than retain and remembers when it last ran.
func (j *Journal) Prune(ctx context.Context, retain time.Duration) (int64, error) {
	n, err := j.db.PruneHistory(retain)
	if err != nil {
		return 0, err
	}
	_, err = j.db.ExecContext(ctx,
		`INSERT INTO persistent_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		lastPruneKey, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return n, err
	}
	if n > 0 {
		slog.Info("History: pruned journal", "rows", n, "retain", retain)
	}
	return n, nil
}

// LastPrune returns when Prune last ran, if ever.
func (j *Journal) LastPrune(ctx context.Context) (time.Time, bool) {
	var v string
	err := j.db.QueryRowContext(ctx, `SELECT value FROM persistent_state WHERE key = ?`, lastPruneKey).Scan(&v)
	if err != nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// RunPruner prunes once immediately and then every interval until ctx ends.
func (j *Journal) RunPruner(ctx context.Context, retain, interval time.Duration) {
	if retain <= 0 {
		return
	}
	if _, err := j.Prune(ctx, retain); err != nil {
		slog.Error("History: prune failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.Prune(ctx, retain); err != nil {
				slog.Error("History: prune failed", "error", err)
			}
		}
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
