package db

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/qafinder/internal/errors"
	"github.com/hpungsan/qafinder/internal/textmatch"
)

// Snippet highlight markers. Callers must escape snippet text before
// turning these into markup.
const (
	SnippetOpen  = "[[[B]]]"
	SnippetClose = "[[[/B]]]"
)

// MaxSearchQueryChars bounds the length of a full-text query.
const MaxSearchQueryChars = 500

// FTSAvailable reports whether the comments_fts table exists.
func FTSAvailable(ctx context.Context, q Querier) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'comments_fts'`,
	).Scan(&n)
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return n > 0, nil
}

// RebuildFTS clears and repopulates the full-text index from the comments
// table, indexing the plain-text form of each body. It returns the number
// of rows indexed. A missing index is not an error: the rebuild is skipped
// and 0 is returned.
func RebuildFTS(ctx context.Context, db *sql.DB) (int, error) {
	ok, err := FTSAvailable(ctx, db)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM comments_fts`); err != nil {
		return 0, errors.NewInternal(err)
	}

	rows, err := tx.QueryContext(ctx, `SELECT rowid, COALESCE(body, '') FROM comments`)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	type doc struct {
		rowid int64
		body  string
	}
	var docs []doc
	for rows.Next() {
		var d doc
		if err := rows.Scan(&d.rowid, &d.body); err != nil {
			rows.Close()
			return 0, errors.NewInternal(err)
		}
		docs = append(docs, d)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return 0, errors.NewInternal(err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO comments_fts(rowid, body) VALUES (?, ?)`)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	defer stmt.Close()
	for _, d := range docs {
		if _, err := stmt.ExecContext(ctx, d.rowid, textmatch.PlainText(d.body)); err != nil {
			return 0, errors.NewInternal(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.NewInternal(err)
	}
	return len(docs), nil
}

// CommentHit is one full-text match.
type CommentHit struct {
	TicketID    int64
	Idx         int
	Subject     string
	AuthorName  string
	AuthorEmail string
	CreatedAt   string
	// Snippet is raw indexed text with SnippetOpen/SnippetClose around matches.
	Snippet string
}

// SearchComments runs a full-text query over public comment bodies,
// best matches first. Every whitespace-separated term must match.
func SearchComments(ctx context.Context, q Querier, query string, limit int) ([]CommentHit, error) {
	ok, err := FTSAvailable(ctx, q)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NewInvalidRequest("full-text index is not available")
	}

	match := QuoteFTSQuery(query)
	if match == "" {
		return nil, errors.NewInvalidRequest("query is required")
	}

	rows, err := q.QueryContext(ctx, `
		SELECT c.ticket_id, c.idx, COALESCE(t.subject, ''), COALESCE(c.author_name, ''),
		       COALESCE(c.author_email, ''), COALESCE(c.created_at, ''),
		       snippet(comments_fts, 0, '`+SnippetOpen+`', '`+SnippetClose+`', '...', 24)
		FROM comments_fts
		JOIN comments c ON c.rowid = comments_fts.rowid
		LEFT JOIN tickets t ON t.id = c.ticket_id
		WHERE comments_fts MATCH ? AND c.public = 1
		ORDER BY bm25(comments_fts), c.ticket_id, c.idx
		LIMIT ?
	`, match, limit)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var hits []CommentHit
	for rows.Next() {
		var h CommentHit
		if err := rows.Scan(&h.TicketID, &h.Idx, &h.Subject, &h.AuthorName, &h.AuthorEmail, &h.CreatedAt, &h.Snippet); err != nil {
			return nil, errors.NewInternal(err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return hits, nil
}

// QuoteFTSQuery turns free text into an FTS5 query in which every term is
// a quoted string, so user input can never trip FTS5 syntax.
func QuoteFTSQuery(s string) string {
	fields := strings.Fields(s)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		quoted = append(quoted, `"`+strings.ReplaceAll(f, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}
