package ops

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/qafinder/internal/config"
	"github.com/hpungsan/qafinder/internal/db"
	"github.com/hpungsan/qafinder/internal/errors"
	"github.com/hpungsan/qafinder/internal/helpdesk"
	"github.com/hpungsan/qafinder/internal/helpdesk/helpdesktest"
	"github.com/hpungsan/qafinder/internal/ingest"
	"github.com/hpungsan/qafinder/internal/logging"
)

var workflowNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

const (
	wfRequester = int64(800)
	wfAgent     = int64(700)
	wfBot       = int64(900)
)

func newWorkflowServer(t *testing.T) *helpdesktest.Server {
	t.Helper()
	srv := helpdesktest.NewServer(t)
	srv.AddUser(helpdesk.User{ID: wfRequester, Email: "player@example.com", Name: "Player"})
	srv.AddUser(helpdesk.User{ID: wfAgent, Email: "agent@example.com", Name: "Agent Smith"},
		helpdesk.Group{ID: 10, Name: "CNX Nights"})
	srv.AddUser(helpdesk.User{ID: wfBot, Email: "ilya@candivore.io", Name: "Bot"})

	reply := func(author int64, body string) helpdesk.Comment {
		return helpdesk.Comment{AuthorID: int64Ptr(author), Body: body, Public: true, CreatedAt: "2025-03-09T08:00:00Z"}
	}
	solved := func(id int64, subject, updated string) helpdesk.Ticket {
		return helpdesk.Ticket{
			ID:          id,
			Status:      "solved",
			Subject:     subject,
			CreatedAt:   "2025-03-08T00:00:00Z",
			UpdatedAt:   updated,
			RequesterID: int64Ptr(wfRequester),
			AssigneeID:  int64Ptr(wfAgent),
			Tags:        []string{"billing"},
		}
	}

	vip := solved(101, "Refund please", "2025-03-09T10:00:00Z")
	vip.SatisfactionRating = &helpdesk.SatisfactionRating{Score: float64(1)}
	vip.CustomFields = []helpdesk.CustomField{{ID: 6645722066458, Value: "VIP"}}
	srv.AddTicket(vip,
		reply(wfRequester, "This is a scam, I want a refund"),
		reply(wfAgent, "I understand, the refund is on its way"))
	srv.SetAudits(101, helpdesk.Audit{CreatedAt: "2025-03-09T09:00:00Z", Events: []helpdesk.AuditEvent{
		{Type: helpdesk.EventApplyMacro, Value: "Refund::Approved"},
	}})

	srv.AddTicket(solved(102, "Where is my bonus", "2025-03-10T01:00:00Z"),
		reply(wfRequester, "no bonus today"),
		reply(wfAgent, "bonus sent"))

	botOwned := solved(103, "Auto-closed", "2025-03-09T11:00:00Z")
	botOwned.AssigneeID = int64Ptr(wfBot)
	srv.AddTicket(botOwned, reply(wfRequester, "hello"))

	silent := solved(104, "No answer", "2025-03-09T12:00:00Z")
	srv.AddTicket(silent, reply(wfRequester, "anyone?"))

	srv.AddTicket(solved(105, "Too old", "2025-03-01T12:00:00Z"),
		reply(wfRequester, "old"), reply(wfAgent, "old reply"))
	return srv
}

func newWorkflowIngester(t *testing.T, srv *helpdesktest.Server) (*ingest.Ingester, *sql.DB, *config.Config) {
	t.Helper()
	cfg := testConfig(t)
	database, err := db.Init(cfg.BaseDir)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	return &ingest.Ingester{
		Remote: srv.Client(t),
		DB:     database,
		Config: cfg,
		Logger: logging.Discard(),
		Now:    func() time.Time { return workflowNow },
	}, database, cfg
}

func TestWorkflow_IngestReviewThreadSearchExport(t *testing.T) {
	srv := newWorkflowServer(t)
	ing, database, cfg := newWorkflowIngester(t, srv)
	ctx := context.Background()

	var steps []string
	out, err := Ingest(ctx, ing, IngestInput{Days: 2}, func(step, total int, msg string) {
		steps = append(steps, msg)
	})
	require.NoError(t, err)
	assert.Equal(t, "Ingest complete: last 2 days (2 tickets stored, 2 skipped)", out.Status)
	assert.Equal(t, 4, out.Summary.Seen)
	assert.Equal(t, 1, out.Summary.Skipped[ingest.SkipBotAssignee])
	assert.Equal(t, 1, out.Summary.Skipped[ingest.SkipNoHumanReply])
	assert.Equal(t, "Starting", steps[0])
	assert.Equal(t, "Done", steps[len(steps)-1])

	window := WindowInput{From: "2025-03-08", To: "2025-03-10"}
	review, err := Review(ctx, database, cfg, ReviewInput{WindowInput: window})
	require.NoError(t, err)
	require.Len(t, review.Items, 2)
	top := review.Items[0]
	assert.Equal(t, int64(101), top.ID)
	assert.Equal(t, []string{"Low CSAT", "VIP complaint", "Empathy"}, top.Reasons)
	require.NotNil(t, top.BPO)
	assert.Equal(t, "CNX", *top.BPO)

	thread, err := Thread(ctx, database, cfg, ThreadInput{ID: 101, Highlight: []string{"refund"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Refund::Approved"}, thread.Macros)
	require.Len(t, thread.Comments, 2)
	assert.Equal(t, "This is a scam, I want a **refund**", thread.Comments[0].Text)

	found, err := Search(ctx, database, cfg, SearchInput{Query: "bonus"})
	require.NoError(t, err)
	require.NotEmpty(t, found.Items)
	assert.Equal(t, int64(102), found.Items[0].TicketID)

	exported, err := Export(ctx, database, cfg, ExportInput{
		Path:   filepath.Join(cfg.ExportsDir(), "wf.csv"),
		Review: ReviewInput{WindowInput: window},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, exported.Count)

	runs, err := Runs(ctx, database, RunsInput{})
	require.NoError(t, err)
	require.Len(t, runs.Items, 1)
	assert.Equal(t, db.RunSucceeded, runs.Items[0].Status)
	assert.Equal(t, 2, runs.Items[0].Stored)
}

func TestWorkflow_ReingestIsIdempotent(t *testing.T) {
	srv := newWorkflowServer(t)
	ing, database, _ := newWorkflowIngester(t, srv)
	ctx := context.Background()

	_, err := Ingest(ctx, ing, IngestInput{Days: 2}, nil)
	require.NoError(t, err)
	tickets, err := db.CountTickets(ctx, database)
	require.NoError(t, err)
	comments, err := db.CountComments(ctx, database)
	require.NoError(t, err)

	_, err = Ingest(ctx, ing, IngestInput{Days: 2}, nil)
	require.NoError(t, err)

	again, err := db.CountTickets(ctx, database)
	require.NoError(t, err)
	againComments, err := db.CountComments(ctx, database)
	require.NoError(t, err)
	assert.Equal(t, tickets, again)
	assert.Equal(t, comments, againComments)

	runs, err := Runs(ctx, database, RunsInput{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, runs.Items, 1)
}

func TestIngest_PermanentRemoteError(t *testing.T) {
	srv := newWorkflowServer(t)
	srv.Fail("/tickets/102.json", 403)
	ing, database, _ := newWorkflowIngester(t, srv)
	ctx := context.Background()

	_, err := Ingest(ctx, ing, IngestInput{Days: 2}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRemotePermanent), "got %v", err)

	runs, err := Runs(ctx, database, RunsInput{})
	require.NoError(t, err)
	require.Len(t, runs.Items, 1)
	assert.Equal(t, db.RunFailed, runs.Items[0].Status)
	require.NotNil(t, runs.Items[0].Error)
}

func TestIngest_RetriesExhausted(t *testing.T) {
	srv := newWorkflowServer(t)
	srv.Fail("/search.json", 503)
	ing, _, _ := newWorkflowIngester(t, srv)

	_, err := Ingest(context.Background(), ing, IngestInput{Days: 1}, nil)
	assert.True(t, errors.Is(err, errors.ErrIngestFailed), "got %v", err)
	assert.Equal(t, 2, srv.Hits("/search.json"))
}

func TestIngest_DaysValidation(t *testing.T) {
	srv := newWorkflowServer(t)
	ing, _, _ := newWorkflowIngester(t, srv)

	for _, days := range []int{-1, MaxWindowDays + 1} {
		_, err := Ingest(context.Background(), ing, IngestInput{Days: days}, nil)
		assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "days=%d: %v", days, err)
	}
	assert.Equal(t, 0, srv.Hits("/search.json"))
}

func TestRebuildFTS_ReportsIndexed(t *testing.T) {
	database, _ := setupStore(t)

	out, err := RebuildFTS(context.Background(), database)
	require.NoError(t, err)
	assert.True(t, out.Enabled)
	assert.Equal(t, 9, out.Indexed)
}
