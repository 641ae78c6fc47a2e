package ops

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hpungsan/qafinder/internal/config"
	"github.com/hpungsan/qafinder/internal/db"
	"github.com/hpungsan/qafinder/internal/errors"
	"github.com/hpungsan/qafinder/internal/scoring"
	"github.com/hpungsan/qafinder/internal/textmatch"
	"github.com/hpungsan/qafinder/internal/ticket"
)

// ReviewInput contains parameters for the Review operation.
type ReviewInput struct {
	WindowInput

	IncludeTags []string `json:"include_tags,omitempty"`

	// ExcludeTags nil means the configured default excludes; an empty
	// slice disables tag exclusion.
	ExcludeTags []string `json:"exclude_tags,omitempty"`

	// Keywords must match subject + public comment text under KeywordMode
	// (default "any"). ExcludeKeywords reject on any hit.
	Keywords        []string `json:"keywords,omitempty"`
	KeywordMode     string   `json:"keyword_mode,omitempty"`
	ExcludeKeywords []string `json:"exclude_keywords,omitempty"`

	Limit int `json:"limit,omitempty"`
}

// ReviewItem is a ticket with its score.
type ReviewItem struct {
	TicketItem
	Score   int             `json:"score"`
	Reasons []string        `json:"reasons"`
	Signals scoring.Signals `json:"signals"`
}

// ReviewOutput contains the result of the Review operation.
type ReviewOutput struct {
	Window     Window       `json:"window"`
	Considered int          `json:"considered"` // tickets in the window
	Matched    int          `json:"matched"`    // after tag and keyword filters
	Items      []ReviewItem `json:"items"`
}

type reviewFilter struct {
	include, exclude   []string
	keywords, excludes []string
	mode               textmatch.Mode
}

func (in ReviewInput) filter(cfg *config.Config) (reviewFilter, error) {
	mode := textmatch.ParseMode(in.KeywordMode)
	if !mode.Valid() {
		return reviewFilter{}, errors.NewInvalidRequest(
			fmt.Sprintf("keyword_mode must be one of any, all, phrase, regex (got %q)", in.KeywordMode))
	}
	exclude := in.ExcludeTags
	if exclude == nil {
		exclude = cfg.DefaultExcludedTags
	}
	return reviewFilter{
		include:  lowerAll(in.IncludeTags),
		exclude:  lowerAll(exclude),
		keywords: trimAll(in.Keywords),
		excludes: trimAll(in.ExcludeKeywords),
		mode:     mode,
	}, nil
}

func (f reviewFilter) match(t *ticket.Ticket, thread []ticket.Comment) bool {
	if !textmatch.TagsAllowed(t.TagList(), f.include, f.exclude) {
		return false
	}
	if len(f.keywords) == 0 && len(f.excludes) == 0 {
		return true
	}
	text := searchText(t, thread)
	if len(f.keywords) > 0 && !textmatch.MatchKeywords(text, f.keywords, f.mode) {
		return false
	}
	if len(f.excludes) > 0 && textmatch.MatchKeywords(text, f.excludes, textmatch.ModeAny) {
		return false
	}
	return true
}

// searchText is the subject followed by every public comment in plain text.
func searchText(t *ticket.Ticket, thread []ticket.Comment) string {
	parts := []string{t.Subject}
	for _, c := range ticket.PublicComments(thread) {
		parts = append(parts, textmatch.PlainText(c.Body))
	}
	return strings.Join(parts, "\n")
}

// Review loads the tickets of a window, applies the tag and keyword filters,
// scores the survivors and returns them ranked by score. Tickets with equal
// scores keep the store's newest-first order.
func Review(ctx context.Context, database *sql.DB, cfg *config.Config, input ReviewInput) (*ReviewOutput, error) {
	w, err := input.WindowInput.Resolve(cfg, time.Now())
	if err != nil {
		return nil, err
	}
	f, err := input.filter(cfg)
	if err != nil {
		return nil, err
	}
	limit := clampLimit(input.Limit, DefaultReviewLimit, MaxReviewLimit)

	tickets, err := db.ListTicketsUpdatedBetween(ctx, database, w.From, w.To)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(tickets))
	for i := range tickets {
		ids[i] = tickets[i].ID
	}
	comments, err := db.ListComments(ctx, database, ids)
	if err != nil {
		return nil, err
	}
	threads := db.GroupComments(comments)

	weights := scoring.DefaultWeights().Merge(cfg.Weights)
	lex := scoring.LexiconFromConfig(cfg)

	items := make([]ReviewItem, 0, len(tickets))
	for i := range tickets {
		t := &tickets[i]
		thread := threads[t.ID]
		if !f.match(t, thread) {
			continue
		}
		items = append(items, scoreTicket(t, thread, weights, lex, cfg))
	}
	scoring.Rank(items, func(it ReviewItem) int { return it.Score })

	out := &ReviewOutput{
		Window:     w,
		Considered: len(tickets),
		Matched:    len(items),
		Items:      items,
	}
	if len(out.Items) > limit {
		out.Items = out.Items[:limit]
	}
	return out, nil
}

func scoreTicket(t *ticket.Ticket, thread []ticket.Comment, w scoring.Weights, lex scoring.Lexicon, cfg *config.Config) ReviewItem {
	signals := scoring.DeriveSignals(t, thread, lex)
	res := scoring.Score(t, thread, w, signals)
	return ReviewItem{
		TicketItem: newTicketItem(t, cfg),
		Score:      res.Score,
		Reasons:    res.Reasons,
		Signals:    signals,
	}
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
