// Package sqlite implements the history repository on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/bft-labs/upshift/internal/domain"
	"github.com/bft-labs/upshift/internal/ports"
)

//go:embed schema.sql
var schemaSQL string

// HistoryRepository implements ports.HistoryRepository on a SQLite file.
type HistoryRepository struct {
	db *sql.DB
}

// Open creates or opens the history database at path and applies the schema.
func Open(path string) (*HistoryRepository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &HistoryRepository{db: db}, nil
}

// Close closes the database.
func (r *HistoryRepository) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Append stores a finished execution. Appending the same execution id
// twice is an error.
func (r *HistoryRepository) Append(ctx context.Context, rec domain.HistoryRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO executions (
			execution_id, definition_id, kind, priority, strategy,
			final_state, phase, error, started_at, ended_at,
			duration_ns, retry_count, rollback_attempted
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ExecutionID, rec.DefinitionID, string(rec.Kind), rec.Priority.String(), string(rec.Strategy),
		string(rec.FinalState), string(rec.Phase), rec.Error, rec.StartedAt.UnixNano(), rec.EndedAt.UnixNano(),
		int64(rec.Duration), rec.RetryCount, rec.RollbackAttempted,
	)
	if err != nil {
		return fmt.Errorf("insert execution %s: %w", rec.ExecutionID, err)
	}
	return nil
}

// Since returns records that ended at or after t, oldest first.
func (r *HistoryRepository) Since(ctx context.Context, t time.Time) ([]domain.HistoryRecord, error) {
	var since int64
	if !t.IsZero() {
		since = t.UnixNano()
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT execution_id, definition_id, kind, priority, strategy,
		       final_state, phase, error, started_at, ended_at,
		       duration_ns, retry_count, rollback_attempted
		FROM executions
		WHERE ended_at >= ?
		ORDER BY ended_at, seq`, since)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var out []domain.HistoryRecord
	for rows.Next() {
		var (
			rec                         domain.HistoryRecord
			kind, prio, strategy        string
			state, phase                string
			startedAt, endedAt, durNano int64
		)
		if err := rows.Scan(
			&rec.ExecutionID, &rec.DefinitionID, &kind, &prio, &strategy,
			&state, &phase, &rec.Error, &startedAt, &endedAt,
			&durNano, &rec.RetryCount, &rec.RollbackAttempted,
		); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		p, err := domain.ParsePriority(prio)
		if err != nil {
			return nil, fmt.Errorf("execution %s: %w", rec.ExecutionID, err)
		}
		rec.Kind = domain.Kind(kind)
		rec.Priority = p
		rec.Strategy = domain.Strategy(strategy)
		rec.FinalState = domain.State(state)
		rec.Phase = domain.State(phase)
		rec.StartedAt = time.Unix(0, startedAt)
		rec.EndedAt = time.Unix(0, endedAt)
		rec.Duration = time.Duration(durNano)
		out = append(out, rec)
	}
	return out, rows.Err()
}

var _ ports.HistoryRepository = (*HistoryRepository)(nil)
