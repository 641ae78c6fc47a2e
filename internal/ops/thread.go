package ops

import (
	"context"
	"database/sql"
	"slices"

	"github.com/hpungsan/qafinder/internal/config"
	"github.com/hpungsan/qafinder/internal/db"
	"github.com/hpungsan/qafinder/internal/errors"
	"github.com/hpungsan/qafinder/internal/scoring"
)

// ThreadInput contains parameters for the Thread operation.
type ThreadInput struct {
	ID int64 `json:"id"`

	// Highlight terms are wrapped in ** in each comment's Text.
	Highlight []string `json:"highlight,omitempty"`

	// IncludePrivate adds internal notes to the thread.
	IncludePrivate bool `json:"include_private,omitempty"`
}

// ThreadOutput is one ticket with its scored thread.
type ThreadOutput struct {
	Ticket   ReviewItem    `json:"ticket"`
	Comments []CommentItem `json:"comments"`
	Macros   []string      `json:"macros"`
}

// Thread loads a ticket with its comment thread, score and applied macros.
func Thread(ctx context.Context, database *sql.DB, cfg *config.Config, input ThreadInput) (*ThreadOutput, error) {
	if input.ID <= 0 {
		return nil, errors.NewInvalidRequest("id must be a positive ticket id")
	}
	t, err := db.GetTicket(ctx, database, input.ID)
	if err != nil {
		return nil, err
	}
	thread, err := db.ListComments(ctx, database, []int64{t.ID})
	if err != nil {
		return nil, err
	}
	audits, err := db.ListAudits(ctx, database, t.ID)
	if err != nil {
		return nil, err
	}

	weights := scoring.DefaultWeights().Merge(cfg.Weights)
	out := &ThreadOutput{
		Ticket:   scoreTicket(t, thread, weights, scoring.LexiconFromConfig(cfg), cfg),
		Comments: make([]CommentItem, 0, len(thread)),
		Macros:   []string{},
	}
	highlight := trimAll(input.Highlight)
	for i := range thread {
		if !thread[i].Public && !input.IncludePrivate {
			continue
		}
		out.Comments = append(out.Comments, newCommentItem(&thread[i], t.RequesterEmail, highlight))
	}
	// Each annotation row repeats the macro history known at that update.
	for i := range audits {
		for _, title := range audits[i].Titles() {
			if !slices.Contains(out.Macros, title) {
				out.Macros = append(out.Macros, title)
			}
		}
	}
	return out, nil
}
