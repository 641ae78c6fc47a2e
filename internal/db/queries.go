package db

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hpungsan/qafinder/internal/errors"
	"github.com/hpungsan/qafinder/internal/ticket"
)

// TimeLayout is the timestamp form used for window bounds. It matches the
// helpdesk's UTC second-precision timestamps so string comparison orders
// correctly.
const TimeLayout = "2006-01-02T15:04:05Z"

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// FormatTime renders t in TimeLayout (UTC).
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// UpsertTicket inserts a ticket or overwrites every mutable column of the
// existing row with the same id.
func UpsertTicket(ctx context.Context, ex Execer, t *ticket.Ticket) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO tickets (
		  id, status, subject, created_at, updated_at, solved_at, csat, csat_offered,
		  requester_id, requester_email, assignee_id, assignee_email, assignee_name, bpo,
		  payer_tier, language, topic, sub_topic, version, tags, reopened
		)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
		  status=excluded.status,
		  subject=excluded.subject,
		  created_at=excluded.created_at,
		  updated_at=excluded.updated_at,
		  solved_at=excluded.solved_at,
		  csat=excluded.csat,
		  csat_offered=excluded.csat_offered,
		  requester_id=excluded.requester_id,
		  requester_email=excluded.requester_email,
		  assignee_id=excluded.assignee_id,
		  assignee_email=excluded.assignee_email,
		  assignee_name=excluded.assignee_name,
		  bpo=excluded.bpo,
		  payer_tier=excluded.payer_tier,
		  language=excluded.language,
		  topic=excluded.topic,
		  sub_topic=excluded.sub_topic,
		  version=excluded.version,
		  tags=excluded.tags,
		  reopened=excluded.reopened
	`,
		t.ID, t.Status, t.Subject, t.CreatedAt, t.UpdatedAt, toNullString(t.SolvedAt),
		toNullInt(t.CSAT), boolToInt(t.CSATOffered),
		toNullInt64(t.RequesterID), t.RequesterEmail,
		toNullInt64(t.AssigneeID), t.AssigneeEmail, t.AssigneeName, toNullString(t.BPO),
		toNullString(t.PayerTier), toNullString(t.Language), toNullString(t.Topic),
		toNullString(t.SubTopic), toNullString(t.Version), t.Tags, boolToInt(t.Reopened),
	)
	if err != nil {
		return errors.NewInternal(fmt.Errorf("upsert ticket %d: %w", t.ID, err))
	}
	return nil
}

// UpsertComment inserts a comment or overwrites the row at (ticket_id, idx).
func UpsertComment(ctx context.Context, ex Execer, c *ticket.Comment) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO comments (
		  ticket_id, idx, created_at, public, author_id, author_email, author_name, body
		)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(ticket_id, idx) DO UPDATE SET
		  created_at=excluded.created_at,
		  public=excluded.public,
		  author_id=excluded.author_id,
		  author_email=excluded.author_email,
		  author_name=excluded.author_name,
		  body=excluded.body
	`,
		c.TicketID, c.Idx, c.CreatedAt, boolToInt(c.Public),
		toNullInt64(c.AuthorID), c.AuthorEmail, c.AuthorName, c.Body,
	)
	if err != nil {
		return errors.NewInternal(fmt.Errorf("upsert comment %d/%d: %w", c.TicketID, c.Idx, err))
	}
	return nil
}

// UpsertAudit inserts an annotation or overwrites the macro titles at
// (ticket_id, created_at).
func UpsertAudit(ctx context.Context, ex Execer, a *ticket.AuditAnnotation) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO audits (ticket_id, created_at, macro_titles)
		VALUES (?,?,?)
		ON CONFLICT(ticket_id, created_at) DO UPDATE SET
		  macro_titles=excluded.macro_titles
	`, a.TicketID, a.CreatedAt, a.MacroTitles)
	if err != nil {
		return errors.NewInternal(fmt.Errorf("upsert audit %d@%s: %w", a.TicketID, a.CreatedAt, err))
	}
	return nil
}

// TicketWrite is everything stored for one ingested ticket.
type TicketWrite struct {
	Ticket   ticket.Ticket
	Comments []ticket.Comment
	Audit    *ticket.AuditAnnotation // nil when no macro was applied
}

// WriteTicket stores a ticket, its full comment set and optional audit
// annotation in one transaction, so readers never see a partial thread.
func WriteTicket(ctx context.Context, db *sql.DB, w *TicketWrite) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback()

	if err := UpsertTicket(ctx, tx, &w.Ticket); err != nil {
		return err
	}
	for i := range w.Comments {
		if err := UpsertComment(ctx, tx, &w.Comments[i]); err != nil {
			return err
		}
	}
	if w.Audit != nil {
		if err := UpsertAudit(ctx, tx, w.Audit); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

const ticketColumns = `
	id, status, subject, created_at, updated_at, solved_at, csat, csat_offered,
	requester_id, requester_email, assignee_id, assignee_email, assignee_name, bpo,
	payer_tier, language, topic, sub_topic, version, tags, reopened
`

// GetTicket retrieves one ticket by id.
func GetTicket(ctx context.Context, q Querier, id int64) (*ticket.Ticket, error) {
	row := q.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id)
	t, err := scanTicket(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(fmt.Sprintf("ticket %d", id))
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return t, nil
}

// ListTicketsUpdatedBetween returns tickets with from <= updated_at < to,
// newest first. A zero bound is open.
func ListTicketsUpdatedBetween(ctx context.Context, q Querier, from, to time.Time) ([]ticket.Ticket, error) {
	var (
		where []string
		args  []any
	)
	if !from.IsZero() {
		where = append(where, "updated_at >= ?")
		args = append(args, FormatTime(from))
	}
	if !to.IsZero() {
		where = append(where, "updated_at < ?")
		args = append(args, FormatTime(to))
	}

	query := `SELECT ` + ticketColumns + ` FROM tickets`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC, id DESC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []ticket.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// ListComments returns all comments of the given tickets ordered by
// (ticket_id, idx). An empty id list returns nothing.
func ListComments(ctx context.Context, q Querier, ticketIDs []int64) ([]ticket.Comment, error) {
	if len(ticketIDs) == 0 {
		return nil, nil
	}

	var out []ticket.Comment
	// Stay well under SQLite's bound-parameter limit.
	const chunk = 500
	for start := 0; start < len(ticketIDs); start += chunk {
		end := min(start+chunk, len(ticketIDs))
		ids := ticketIDs[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
		args := make([]any, len(ids))
		for i, id := range ids {
			args[i] = id
		}

		rows, err := q.QueryContext(ctx, `
			SELECT ticket_id, idx, created_at, public, author_id, author_email, author_name, body
			FROM comments
			WHERE ticket_id IN (`+placeholders+`)
			ORDER BY ticket_id, idx
		`, args...)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		for rows.Next() {
			c, err := scanComment(rows)
			if err != nil {
				rows.Close()
				return nil, errors.NewInternal(err)
			}
			out = append(out, *c)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, errors.NewInternal(err)
		}
	}

	if len(ticketIDs) > chunk {
		sortComments(out)
	}
	return out, nil
}

// GroupComments buckets an ordered comment list by ticket id.
func GroupComments(comments []ticket.Comment) map[int64][]ticket.Comment {
	out := make(map[int64][]ticket.Comment)
	for _, c := range comments {
		out[c.TicketID] = append(out[c.TicketID], c)
	}
	return out
}

// ListAudits returns a ticket's macro annotations, oldest first.
func ListAudits(ctx context.Context, q Querier, ticketID int64) ([]ticket.AuditAnnotation, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT ticket_id, created_at, COALESCE(macro_titles, '')
		FROM audits WHERE ticket_id = ?
		ORDER BY created_at
	`, ticketID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []ticket.AuditAnnotation
	for rows.Next() {
		var a ticket.AuditAnnotation
		if err := rows.Scan(&a.TicketID, &a.CreatedAt, &a.MacroTitles); err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// CountTickets returns the number of stored tickets.
func CountTickets(ctx context.Context, q Querier) (int, error) {
	return count(ctx, q, "SELECT COUNT(*) FROM tickets")
}

// CountComments returns the number of stored comments.
func CountComments(ctx context.Context, q Querier) (int, error) {
	return count(ctx, q, "SELECT COUNT(*) FROM comments")
}

func count(ctx context.Context, q Querier, query string) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTicket(s scanner) (*ticket.Ticket, error) {
	var (
		t                                                        ticket.Ticket
		status, subject, createdAt, updatedAt                    sql.NullString
		requesterEmail, assigneeEmail, assigneeName, tags        sql.NullString
		solvedAt, bpo, payerTier, language, topic, subTopic, ver sql.NullString
		csat, requesterID, assigneeID                            sql.NullInt64
		csatOffered, reopened                                    int
	)
	err := s.Scan(
		&t.ID, &status, &subject, &createdAt, &updatedAt, &solvedAt, &csat, &csatOffered,
		&requesterID, &requesterEmail, &assigneeID, &assigneeEmail, &assigneeName, &bpo,
		&payerTier, &language, &topic, &subTopic, &ver, &tags, &reopened,
	)
	if err != nil {
		return nil, err
	}

	t.Status = status.String
	t.Subject = subject.String
	t.CreatedAt = createdAt.String
	t.UpdatedAt = updatedAt.String
	t.SolvedAt = fromNullString(solvedAt)
	if csat.Valid {
		n := int(csat.Int64)
		t.CSAT = &n
	}
	t.CSATOffered = csatOffered != 0
	t.RequesterID = fromNullInt64(requesterID)
	t.RequesterEmail = requesterEmail.String
	t.AssigneeID = fromNullInt64(assigneeID)
	t.AssigneeEmail = assigneeEmail.String
	t.AssigneeName = assigneeName.String
	t.BPO = fromNullString(bpo)
	t.PayerTier = fromNullString(payerTier)
	t.Language = fromNullString(language)
	t.Topic = fromNullString(topic)
	t.SubTopic = fromNullString(subTopic)
	t.Version = fromNullString(ver)
	t.Tags = tags.String
	t.Reopened = reopened != 0
	return &t, nil
}

func scanComment(s scanner) (*ticket.Comment, error) {
	var (
		c                            ticket.Comment
		createdAt, email, name, body sql.NullString
		authorID                     sql.NullInt64
		public                       int
	)
	if err := s.Scan(&c.TicketID, &c.Idx, &createdAt, &public, &authorID, &email, &name, &body); err != nil {
		return nil, err
	}
	c.CreatedAt = createdAt.String
	c.Public = public != 0
	c.AuthorID = fromNullInt64(authorID)
	c.AuthorEmail = email.String
	c.AuthorName = name.String
	c.Body = body.String
	return &c, nil
}

// sortComments orders by (ticket_id, idx); chunks can interleave ticket ids
// when the caller's id list is unsorted.
func sortComments(cs []ticket.Comment) {
	slices.SortStableFunc(cs, func(a, b ticket.Comment) int {
		if c := cmp.Compare(a.TicketID, b.TicketID); c != 0 {
			return c
		}
		return cmp.Compare(a.Idx, b.Idx)
	})
}

// toNullString converts a *string to sql.NullString.
func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// fromNullString converts sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func toNullInt64(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
}

func fromNullInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func toNullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
