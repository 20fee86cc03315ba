// Package history persists one row per keep-alive cycle in SQLite.
//
// Rows outlive the process, so a station that kept switching off overnight
// can be diagnosed the next morning from the connect attempt counts and
// error kinds.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/lhkeeper/internal/lighthouse"
)

const (
	// DefaultLimit is the number of rows Recent returns when limit <= 0.
	DefaultLimit = 50

	// MaxLimit caps Recent.
	MaxLimit = 200

	// Fixed width so stored timestamps sort lexically.
	timestampLayout = "2006-01-02T15:04:05.000000000Z"
)

// Entry is one recorded cycle.
type Entry struct {
	ID           int64  `json:"id"`
	RunID        string `json:"run_id"`
	LighthouseID string `json:"lighthouse_id"`
	Address      string `json:"address"`
	lighthouse.CycleSummary
}

// Repository stores and retrieves cycle history.
//
// Implementations must be thread-safe and use UTC timestamps.
type Repository interface {
	Record(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SQLiteRepository implements Repository on the keepalive_cycles table.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Record inserts a cycle row.
//
// Returns:
//   - error: If the entry lacks a run or lighthouse id, or the insert fails
func (r *SQLiteRepository) Record(ctx context.Context, e Entry) error {
	if e.RunID == "" || e.LighthouseID == "" {
		return errors.New("history: run id and lighthouse id are required")
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = r.now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO keepalive_cycles
		 (run_id, lighthouse_id, address, cycle, started_at, connect_attempts,
		  connect_ms, write_ms, read_back, success, error_kind, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID,
		e.LighthouseID,
		e.Address,
		e.Cycle,
		e.StartedAt.UTC().Format(timestampLayout),
		e.ConnectAttempts,
		e.ConnectMS,
		e.WriteMS,
		nullString(e.ReadBack),
		boolToInt(e.Success),
		nullString(e.ErrorKind),
		nullString(e.Error),
	)
	if err != nil {
		return fmt.Errorf("inserting cycle history: %w", err)
	}
	return nil
}

// Recent returns the latest cycles, newest first.
//
// Parameters:
//   - limit: Maximum rows (default 50, clamped to 200)
func (r *SQLiteRepository) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, run_id, lighthouse_id, address, cycle, started_at,
		        connect_attempts, connect_ms, write_ms, read_back, success,
		        error_kind, error
		 FROM keepalive_cycles
		 ORDER BY started_at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying cycle history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e                         Entry
			startedAt                 string
			success                   int
			readBack, errKind, errMsg sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.LighthouseID, &e.Address, &e.Cycle, &startedAt,
			&e.ConnectAttempts, &e.ConnectMS, &e.WriteMS, &readBack, &success, &errKind, &errMsg); err != nil {
			return nil, fmt.Errorf("scanning cycle history: %w", err)
		}

		ts, err := time.Parse(timestampLayout, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing started_at: %w", err)
		}
		e.StartedAt = ts
		e.Success = success != 0
		e.ReadBack = readBack.String
		e.ErrorKind = errKind.String
		e.Error = errMsg.String

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cycle history: %w", err)
	}
	return entries, nil
}

// Prune deletes rows that started before now-olderThan.
//
// Returns:
//   - int64: Number of rows deleted
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("history: retention must be positive")
	}

	cutoff := r.now().UTC().Add(-olderThan).Format(timestampLayout)
	result, err := r.db.ExecContext(ctx, "DELETE FROM keepalive_cycles WHERE started_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting cycle history: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
