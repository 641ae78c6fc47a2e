package ops

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hpungsan/qafinder/internal/db"
	"github.com/hpungsan/qafinder/internal/errors"
	"github.com/hpungsan/qafinder/internal/ingest"
)

// IngestInput contains parameters for the Ingest operation.
type IngestInput struct {
	// Days defaults to the configured lookback.
	Days int `json:"days,omitempty"`
}

// IngestOutput contains the result of the Ingest operation.
type IngestOutput struct {
	Status  string          `json:"status"`
	Summary *ingest.Summary `json:"summary"`
}

// Ingest runs one ingestion. Remote failures are reported as
// REMOTE_PERMANENT or INGEST_FAILED.
func Ingest(ctx context.Context, ing *ingest.Ingester, input IngestInput, progress ingest.Progress) (*IngestOutput, error) {
	days := input.Days
	if days == 0 {
		days = ing.Config.LookbackDays
	}
	if days < 0 || days > MaxWindowDays {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("days must be between 1 and %d", MaxWindowDays))
	}
	sum, err := ing.Run(ctx, days, progress)
	if err != nil {
		return nil, remoteError(err)
	}
	return &IngestOutput{Status: sum.String(), Summary: sum}, nil
}

// RebuildOutput contains the result of the RebuildFTS operation.
type RebuildOutput struct {
	Indexed int  `json:"indexed"`
	Enabled bool `json:"enabled"`
}

// RebuildFTS clears and repopulates the comment search index. A store
// without the index reports Enabled=false rather than failing.
func RebuildFTS(ctx context.Context, database *sql.DB) (*RebuildOutput, error) {
	enabled, err := db.FTSAvailable(ctx, database)
	if err != nil {
		return nil, err
	}
	n, err := db.RebuildFTS(ctx, database)
	if err != nil {
		return nil, err
	}
	return &RebuildOutput{Indexed: n, Enabled: enabled}, nil
}

// RunsInput contains parameters for the Runs operation.
type RunsInput struct {
	Limit int `json:"limit,omitempty"`
}

// RunsOutput lists recorded ingests, newest first.
type RunsOutput struct {
	Items []db.Run `json:"items"`
}

// Runs lists the most recent ingest runs.
func Runs(ctx context.Context, database *sql.DB, input RunsInput) (*RunsOutput, error) {
	runs, err := db.ListRuns(ctx, database, clampLimit(input.Limit, DefaultRunsLimit, MaxRunsLimit))
	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []db.Run{}
	}
	return &RunsOutput{Items: runs}, nil
}
