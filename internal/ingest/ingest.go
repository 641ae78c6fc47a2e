// Package ingest pulls solved tickets from the helpdesk into the local store.
//
// A run walks the lookback window in fixed slices, oldest first. Each ticket
// found is processed at most once per run, filtered by the exclusion rules,
// enriched and written in its own transaction. Rows written before a failure
// stay committed, so re-running an overlapping window resumes safely.
package ingest

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/qafinder/internal/config"
	"github.com/hpungsan/qafinder/internal/db"
	qaerrors "github.com/hpungsan/qafinder/internal/errors"
	"github.com/hpungsan/qafinder/internal/helpdesk"
	"github.com/hpungsan/qafinder/internal/identity"
	"github.com/hpungsan/qafinder/internal/logging"
)

// DefaultSlice is used when the configured slice size is not positive.
const DefaultSlice = 6 * time.Hour

// HeartbeatEvery is how many processed tickets pass between progress heartbeats.
const HeartbeatEvery = 50

// Skip reasons, in the order the exclusion rules are applied.
const (
	SkipUnassigned   = "unassigned"
	SkipBotAssignee  = "bot_assignee"
	SkipNoHumanReply = "no_human_reply"
)

// Remote is the part of the helpdesk API ingestion uses.
type Remote interface {
	identity.Directory
	SearchSolved(ctx context.Context, start, end time.Time) ([]int64, error)
	GetTicket(ctx context.Context, id int64) (*helpdesk.Ticket, error)
	GetComments(ctx context.Context, ticketID int64) ([]helpdesk.Comment, error)
	GetAudits(ctx context.Context, ticketID int64) ([]helpdesk.Audit, error)
}

// Progress receives the current slice position and a short message.
// Step 0 is reported before the first slice and step == total when done.
type Progress func(step, total int, message string)

// Ingester runs ingests against one remote and one store.
type Ingester struct {
	Remote Remote
	DB     *sql.DB
	Config *config.Config
	Logger *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time

	busy atomic.Bool
}

// Summary describes a completed run.
type Summary struct {
	RunID   string         `json:"run_id"`
	Days    int            `json:"days"`
	From    time.Time      `json:"from"`
	To      time.Time      `json:"to"`
	Slices  int            `json:"slices"`
	Seen    int            `json:"seen"`
	Stored  int            `json:"stored"`
	Skipped map[string]int `json:"skipped"`
	Indexed int            `json:"indexed"`
	Cache   identity.Stats `json:"cache"`
}

// SkippedTotal sums the skip counts over all reasons.
func (s *Summary) SkippedTotal() int {
	n := 0
	for _, v := range s.Skipped {
		n += v
	}
	return n
}

// String is the human-readable status line for the run.
func (s *Summary) String() string {
	return fmt.Sprintf("Ingest complete: last %d days (%d tickets stored, %d skipped)",
		s.Days, s.Stored, s.SkippedTotal())
}

// Window is a half-open time range [From, To).
type Window struct {
	From time.Time
	To   time.Time
}

// Slices partitions [from, to) into consecutive windows of size, oldest
// first. The last window is truncated at to.
func Slices(from, to time.Time, size time.Duration) []Window {
	if size <= 0 {
		size = DefaultSlice
	}
	var out []Window
	for cursor := from; cursor.Before(to); {
		end := cursor.Add(size)
		if end.After(to) {
			end = to
		}
		out = append(out, Window{From: cursor, To: end})
		cursor = end
	}
	return out
}

// Run ingests solved tickets updated in the last days days. The run is
// recorded in ingest_runs whatever its outcome. Remote and store errors are
// returned as they were raised. Runs on one Ingester never overlap: a call
// made while another is in progress fails at once.
func (in *Ingester) Run(ctx context.Context, days int, progress Progress) (*Summary, error) {
	if days <= 0 {
		return nil, qaerrors.NewInvalidRequest("days must be positive")
	}
	if !in.busy.CompareAndSwap(false, true) {
		return nil, qaerrors.NewInvalidRequest("an ingest is already running")
	}
	defer in.busy.Store(false)
	if progress == nil {
		progress = func(int, int, string) {}
	}
	logger := logging.OrDefault(in.Logger)

	now := in.now().UTC().Truncate(time.Second)
	from := now.Add(-time.Duration(days) * 24 * time.Hour)
	windows := Slices(from, now, time.Duration(in.Config.SliceHours)*time.Hour)

	runID, err := newRunID(now)
	if err != nil {
		return nil, qaerrors.NewInternal(err)
	}
	run := &db.Run{
		ID:         runID,
		Days:       days,
		WindowFrom: db.FormatTime(from),
		WindowTo:   db.FormatTime(now),
		Status:     db.RunRunning,
		Slices:     len(windows),
		StartedAt:  db.FormatTime(now),
	}
	if err := db.InsertRun(ctx, in.DB, run); err != nil {
		return nil, err
	}

	sum := &Summary{
		RunID:   runID,
		Days:    days,
		From:    from,
		To:      now,
		Slices:  len(windows),
		Skipped: make(map[string]int),
	}
	logger = logger.With("run_id", runID)
	logger.Info("ingest started", "days", days, "from", run.WindowFrom, "to", run.WindowTo, "slices", len(windows))

	resolver := identity.NewResolver(in.Remote, logger)
	runErr := in.run(ctx, windows, resolver, sum, progress, logger)
	sum.Cache = resolver.Stats()

	run.Seen, run.Stored, run.Skipped = sum.Seen, sum.Stored, sum.SkippedTotal()
	finished := db.FormatTime(in.now().UTC())
	run.FinishedAt = &finished
	if runErr != nil {
		msg := runErr.Error()
		run.Status, run.Error = db.RunFailed, &msg
	} else {
		msg := sum.String()
		run.Status, run.Message = db.RunSucceeded, &msg
	}
	// The outcome is recorded even when ctx was cancelled mid-run.
	if err := db.FinishRun(context.WithoutCancel(ctx), in.DB, run); err != nil {
		logger.Error("failed to record ingest outcome", "error", err)
	}

	if runErr != nil {
		logger.Error("ingest failed", "seen", sum.Seen, "stored", sum.Stored, "error", runErr)
		return nil, runErr
	}
	logger.Info("ingest finished",
		"seen", sum.Seen, "stored", sum.Stored, "skipped", sum.SkippedTotal(),
		"indexed", sum.Indexed, "user_misses", sum.Cache.UserMisses)
	return sum, nil
}

func (in *Ingester) run(ctx context.Context, windows []Window, resolver *identity.Resolver,
	sum *Summary, progress Progress, logger *slog.Logger) error {
	total := len(windows)
	progress(0, total, "Starting")

	seen := make(map[int64]struct{})
	for i, w := range windows {
		step := i + 1
		progress(step, total, fmt.Sprintf("Window %s -> %s",
			w.From.Format("01-02 15:04"), w.To.Format("01-02 15:04")))

		ids, err := in.Remote.SearchSolved(ctx, w.From, w.To)
		if err != nil {
			return err
		}
		logger.Debug("slice searched", "slice", step, "tickets", len(ids))

		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			sum.Seen++

			reason, err := in.processTicket(ctx, resolver, id)
			if err != nil {
				return err
			}
			if reason != "" {
				sum.Skipped[reason]++
				logger.Debug("ticket skipped", "ticket_id", id, "reason", reason)
			} else {
				sum.Stored++
			}

			if sum.Seen%HeartbeatEvery == 0 {
				progress(step, total, fmt.Sprintf("Processed ~%d tickets so far", sum.Seen))
			}
		}
	}

	indexed, err := db.RebuildFTS(ctx, in.DB)
	if err != nil {
		return err
	}
	sum.Indexed = indexed
	progress(total, total, "Done")
	return nil
}

func (in *Ingester) now() time.Time {
	if in.Now != nil {
		return in.Now()
	}
	return time.Now()
}

func newRunID(now time.Time) (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(now), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
