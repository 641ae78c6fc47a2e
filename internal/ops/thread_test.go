package ops

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/qafinder/internal/db"
	"github.com/hpungsan/qafinder/internal/errors"
	"github.com/hpungsan/qafinder/internal/ticket"
)

func TestThread_PublicOnlyByDefault(t *testing.T) {
	database, cfg := setupStore(t)

	out, err := Thread(context.Background(), database, cfg, ThreadInput{ID: 1})
	require.NoError(t, err)

	assert.Equal(t, int64(1), out.Ticket.ID)
	assert.Equal(t, 35, out.Ticket.Score)
	assert.Equal(t, []string{"Refund::Coins", "Close"}, out.Macros)

	require.Len(t, out.Comments, 2)
	assert.Equal(t, RoleRequester, out.Comments[0].Role)
	assert.Equal(t, RoleAgent, out.Comments[1].Role)
	assert.Equal(t, "<p>Sorry for the trouble, I restored your coins.</p>", out.Comments[1].Body)
	assert.Equal(t, "Sorry for the trouble, I restored your coins.", out.Comments[1].Text)
}

func TestThread_IncludePrivateAndHighlight(t *testing.T) {
	database, cfg := setupStore(t)

	out, err := Thread(context.Background(), database, cfg, ThreadInput{
		ID:             1,
		IncludePrivate: true,
		Highlight:      []string{"coins", " "},
	})
	require.NoError(t, err)

	require.Len(t, out.Comments, 3)
	assert.False(t, out.Comments[2].Public)
	assert.Equal(t, "I bought **coins** but never got them. This is unfair!", out.Comments[0].Text)
	assert.Equal(t, 2, out.Comments[2].Idx)
}

func TestThread_MacrosAcrossUpdates(t *testing.T) {
	database, cfg := setupStore(t)
	ctx := context.Background()

	// A later ingest of ticket 1 stores a second annotation row holding the
	// whole macro history again.
	t1, err := db.GetTicket(ctx, database, 1)
	require.NoError(t, err)
	t1.UpdatedAt = "2025-03-10T18:00:00Z"
	require.NoError(t, db.WriteTicket(ctx, database, &db.TicketWrite{
		Ticket: *t1,
		Audit:  &ticket.AuditAnnotation{TicketID: 1, CreatedAt: t1.UpdatedAt, MacroTitles: "Refund::Coins|Close|Escalate"},
	}))

	out, err := Thread(ctx, database, cfg, ThreadInput{ID: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"Refund::Coins", "Close", "Escalate"}, out.Macros)
}

func TestThread_NoMacros(t *testing.T) {
	database, cfg := setupStore(t)

	out, err := Thread(context.Background(), database, cfg, ThreadInput{ID: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{}, out.Macros)
	assert.Equal(t, "Where are my gems <script>alert(1)</script>", out.Comments[0].Text)
}

func TestThread_Errors(t *testing.T) {
	database, cfg := setupStore(t)
	ctx := context.Background()

	_, err := Thread(ctx, database, cfg, ThreadInput{ID: 0})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "zero id: %v", err)

	_, err = Thread(ctx, database, cfg, ThreadInput{ID: 999})
	assert.True(t, errors.Is(err, errors.ErrNotFound), "missing: %v", err)
}
