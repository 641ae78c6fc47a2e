package db

import (
	"context"
	"database/sql"

	"github.com/hpungsan/qafinder/internal/errors"
)

// Ingest run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Run is one recorded ingest.
type Run struct {
	ID         string  `json:"id"`
	Days       int     `json:"days"`
	WindowFrom string  `json:"window_from"`
	WindowTo   string  `json:"window_to"`
	Status     string  `json:"status"`
	Slices     int     `json:"slices"`
	Seen       int     `json:"seen"`
	Stored     int     `json:"stored"`
	Skipped    int     `json:"skipped"`
	Message    *string `json:"message,omitempty"`
	Error      *string `json:"error,omitempty"`
	StartedAt  string  `json:"started_at"`
	FinishedAt *string `json:"finished_at,omitempty"`
}

// InsertRun records the start of an ingest.
func InsertRun(ctx context.Context, ex Execer, r *Run) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO ingest_runs (id, days, window_from, window_to, status, slices, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Days, r.WindowFrom, r.WindowTo, r.Status, r.Slices, r.StartedAt)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// FinishRun records the outcome of an ingest.
func FinishRun(ctx context.Context, ex Execer, r *Run) error {
	res, err := ex.ExecContext(ctx, `
		UPDATE ingest_runs
		SET status = ?, seen = ?, stored = ?, skipped = ?, message = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, r.Status, r.Seen, r.Stored, r.Skipped,
		toNullString(r.Message), toNullString(r.Error), toNullString(r.FinishedAt), r.ID)
	if err != nil {
		return errors.NewInternal(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.NewNotFound("ingest run " + r.ID)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func ListRuns(ctx context.Context, q Querier, limit int) ([]Run, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, days, window_from, window_to, status, slices, seen, stored, skipped,
		       message, error, started_at, finished_at
		FROM ingest_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r                          Run
			message, errText, finished sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Days, &r.WindowFrom, &r.WindowTo, &r.Status, &r.Slices,
			&r.Seen, &r.Stored, &r.Skipped, &message, &errText, &r.StartedAt, &finished); err != nil {
			return nil, errors.NewInternal(err)
		}
		r.Message = fromNullString(message)
		r.Error = fromNullString(errText)
		r.FinishedAt = fromNullString(finished)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}
