// Package ledger is an optional, purely observational record of bucket
// completions, resumes, and terminations, backed by Postgres via
// database/sql + github.com/lib/pq — the same raw-SQL, no-ORM style as the
// teacher's PGStore (kernel/internal/audit/pg_store.go). Recording to the
// ledger never gates a backup run: a ledger write failure is logged and
// swallowed, exactly as the core's correctness is defined entirely in terms
// of committed Kafka cursors and completed storage uploads (spec.md §4.7),
// neither of which this package touches.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// Ledger records bucket lifecycle events. A nil *Ledger (no
// LEDGER_DATABASE_URL configured) is valid and every method becomes a no-op, mirroring how
// cmd/kernel/main.go branches on `db != nil` instead of wiring a no-op
// implementation behind an interface.
type Ledger struct {
	db    *sql.DB
	runID uuid.UUID
}

// New wraps an existing *sql.DB. Callers open it the usual way
// (sql.Open("postgres", url)) and should Ping it once at startup. runID
// identifies this process's run (cf. audit.NewUUID) and is stamped onto
// every row so that rows from concurrent or successive runs can be told
// apart in the ledger table.
func New(db *sql.DB, runID uuid.UUID) *Ledger {
	return &Ledger{db: db, runID: runID}
}

// RunID reports the run ID this ledger stamps onto its rows. Safe to call
// on a nil *Ledger, returning the zero UUID.
func (l *Ledger) RunID() uuid.UUID {
	if l == nil {
		return uuid.UUID{}
	}
	return l.runID
}

// EnsureSchema creates the backup_runs table if it does not already exist.
// Safe to call on every startup.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	if l == nil {
		return nil
	}
	const q = `
		CREATE TABLE IF NOT EXISTS backup_runs (
			id              BIGSERIAL PRIMARY KEY,
			run_id          UUID NOT NULL,
			object_key      TEXT NOT NULL,
			event           TEXT NOT NULL,
			part_count      INT NOT NULL,
			total_bytes     BIGINT NOT NULL,
			recorded_at     TIMESTAMPTZ NOT NULL
		)
	`
	if _, err := l.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("ledger: ensure schema: %w", err)
	}
	return nil
}

// RecordCompletion logs a successfully completed bucket upload.
func (l *Ledger) RecordCompletion(ctx context.Context, objectKey string, partCount int, totalBytes int64) {
	l.insert(ctx, objectKey, "completed", partCount, totalBytes)
}

// RecordResume logs that a bucket's upload was resumed from a prior run.
func (l *Ledger) RecordResume(ctx context.Context, objectKey string, partCount int, totalBytes int64) {
	l.insert(ctx, objectKey, "resumed", partCount, totalBytes)
}

// RecordTermination logs that a previous run's dangling upload was closed.
func (l *Ledger) RecordTermination(ctx context.Context, objectKey string, partCount int, totalBytes int64) {
	l.insert(ctx, objectKey, "terminated", partCount, totalBytes)
}

func (l *Ledger) insert(ctx context.Context, objectKey, event string, partCount int, totalBytes int64) {
	if l == nil {
		return
	}
	const q = `
		INSERT INTO backup_runs (run_id, object_key, event, part_count, total_bytes, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	// Ledger writes are best-effort: a write failure here must never fail or
	// retry the backup itself, since the ledger is not part of the
	// correctness contract (only cursor commits and completed uploads are).
	if _, err := l.db.ExecContext(ctx, q, l.runID, objectKey, event, partCount, totalBytes, time.Now().UTC()); err != nil {
		log.Printf("[ledger] record %s for %s: %v", event, objectKey, err)
	}
}

// Run is one ledger row as returned by RecentRuns.
type Run struct {
	RunID      uuid.UUID
	ObjectKey  string
	Event      string
	PartCount  int
	TotalBytes int64
	RecordedAt time.Time
}

// RecentRuns returns the most recent limit ledger rows (20 when limit <= 0),
// newest first. Used by the admin surface's /status endpoint.
func (l *Ledger) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if l == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	const q = `
		SELECT run_id, object_key, event, part_count, total_bytes, recorded_at
		FROM backup_runs
		ORDER BY recorded_at DESC
		LIMIT $1
	`
	rows, err := l.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: recent runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.RunID, &r.ObjectKey, &r.Event, &r.PartCount, &r.TotalBytes, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan run: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: rows: %w", err)
	}
	return out, nil
}
