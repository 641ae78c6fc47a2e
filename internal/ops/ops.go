// Package ops implements the query and maintenance operations shared by
// the CLI, the web dashboard and the MCP server. Inputs are validated here;
// every error returned is a *errors.QAError.
package ops

import (
	"context"
	stderrors "errors"

	"github.com/hpungsan/qafinder/internal/config"
	"github.com/hpungsan/qafinder/internal/errors"
	"github.com/hpungsan/qafinder/internal/helpdesk"
	"github.com/hpungsan/qafinder/internal/textmatch"
	"github.com/hpungsan/qafinder/internal/ticket"
)

// Limits
const (
	DefaultReviewLimit = 100
	MaxReviewLimit     = 1000
	DefaultRunsLimit   = 20
	MaxRunsLimit       = 200
	MaxWindowDays      = 365
)

// TicketItem is the outward view of a stored ticket.
type TicketItem struct {
	ID             int64    `json:"id"`
	Status         string   `json:"status"`
	Subject        string   `json:"subject"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
	SolvedAt       *string  `json:"solved_at,omitempty"`
	CSAT           *int     `json:"csat"`
	CSATOffered    bool     `json:"csat_offered"`
	RequesterEmail string   `json:"requester_email,omitempty"`
	AssigneeEmail  string   `json:"assignee_email,omitempty"`
	AssigneeName   string   `json:"assignee_name,omitempty"`
	BPO            *string  `json:"bpo"`
	PayerTier      *string  `json:"payer_tier"`
	Language       *string  `json:"language"`
	Topic          *string  `json:"topic"`
	SubTopic       *string  `json:"sub_topic"`
	Version        *string  `json:"version"`
	Tags           []string `json:"tags"`
	Reopened       bool     `json:"reopened"`
	URL            string   `json:"ticket_url,omitempty"`
}

func newTicketItem(t *ticket.Ticket, cfg *config.Config) TicketItem {
	tags := t.TagList()
	if tags == nil {
		tags = []string{}
	}
	return TicketItem{
		ID:             t.ID,
		Status:         t.Status,
		Subject:        t.Subject,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
		SolvedAt:       t.SolvedAt,
		CSAT:           t.CSAT,
		CSATOffered:    t.CSATOffered,
		RequesterEmail: t.RequesterEmail,
		AssigneeEmail:  t.AssigneeEmail,
		AssigneeName:   t.AssigneeName,
		BPO:            t.BPO,
		PayerTier:      t.PayerTier,
		Language:       t.Language,
		Topic:          t.Topic,
		SubTopic:       t.SubTopic,
		Version:        t.Version,
		Tags:           tags,
		Reopened:       t.Reopened,
		URL:            cfg.Credentials.TicketURL(t.ID),
	}
}

// Comment roles in a thread view.
const (
	RoleRequester = "requester"
	RoleAgent     = "agent"
)

// CommentItem is the outward view of one thread entry.
type CommentItem struct {
	TicketID    int64  `json:"ticket_id"`
	Idx         int    `json:"idx"`
	CreatedAt   string `json:"created_at"`
	Public      bool   `json:"public"`
	AuthorEmail string `json:"author_email,omitempty"`
	AuthorName  string `json:"author_name,omitempty"`
	Role        string `json:"role,omitempty"`

	// Body is the stored HTML. Text is its plain-text form, with matched
	// terms wrapped in ** when highlighting was requested.
	Body string `json:"body"`
	Text string `json:"text"`
}

func newCommentItem(c *ticket.Comment, requesterEmail string, highlight []string) CommentItem {
	role := RoleAgent
	if requesterEmail != "" && c.AuthorEmail == requesterEmail {
		role = RoleRequester
	}
	return CommentItem{
		TicketID:    c.TicketID,
		Idx:         c.Idx,
		CreatedAt:   c.CreatedAt,
		Public:      c.Public,
		AuthorEmail: c.AuthorEmail,
		AuthorName:  c.AuthorName,
		Role:        role,
		Body:        c.Body,
		Text:        textmatch.Highlight(textmatch.PlainText(c.Body), highlight),
	}
}

// clampLimit applies a default and an upper bound to a requested limit.
func clampLimit(limit, def, maxLimit int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, maxLimit)
}

// remoteError maps an error raised during ingestion to a QAError.
func remoteError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.As(err); ok {
		return err
	}
	if helpdesk.IsPermanent(err) {
		return errors.NewRemotePermanent(helpdesk.StatusCode(err), err)
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewIngestFailed("ingest", 0, err)
	}
	return errors.NewInternal(err)
}
