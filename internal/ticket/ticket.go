// Package ticket defines the stored records: tickets, their comment threads
// and the macro annotations derived from audits.
package ticket

import "strings"

// Ticket is one row per remote ticket id. Re-ingesting an id overwrites
// every mutable column, so a row always reflects the latest fetched state.
type Ticket struct {
	ID     int64
	Status string

	Subject string

	// Timestamps are ISO-8601 strings as returned by the helpdesk.
	CreatedAt string
	UpdatedAt string
	SolvedAt  *string

	// CSAT is the 1-5 satisfaction score, nil when not rated or non-numeric.
	CSAT        *int
	CSATOffered bool

	RequesterID    *int64
	RequesterEmail string

	AssigneeID    *int64
	AssigneeEmail string
	AssigneeName  string

	// BPO is the vendor label derived from the assignee's groups (nullable).
	BPO *string

	// Custom-field extractions (nullable).
	PayerTier *string
	Language  *string
	Topic     *string
	SubTopic  *string
	Version   *string

	// Tags is the comma-joined tag string in remote order. Use TagList.
	Tags string

	// Reopened is set when the audit history shows a transition out of solved.
	Reopened bool
}

// TagList returns the tags in stored order.
func (t *Ticket) TagList() []string {
	return SplitTags(t.Tags)
}

// JoinTags flattens tags into the stored comma-joined form.
func JoinTags(tags []string) string {
	return strings.Join(tags, ",")
}

// SplitTags parses the stored comma-joined form, dropping empty entries.
func SplitTags(s string) []string {
	return splitNonEmpty(s, ",")
}

// Comment is one thread entry, identified by (TicketID, Idx) where Idx is
// its zero-based position in the remote thread.
type Comment struct {
	TicketID  int64
	Idx       int
	CreatedAt string

	// Public is false for internal notes, which are excluded from search and scoring.
	Public bool

	AuthorID    *int64
	AuthorEmail string
	AuthorName  string

	// Body is the raw, HTML-bearing text. Never sanitized at storage time.
	Body string
}

// AuditAnnotation records the macros applied to a ticket, keyed by
// (TicketID, CreatedAt). Only written when at least one macro was found.
type AuditAnnotation struct {
	TicketID    int64
	CreatedAt   string
	MacroTitles string
}

// Titles returns the macro titles in recorded order.
func (a *AuditAnnotation) Titles() []string {
	return splitNonEmpty(a.MacroTitles, "|")
}

// JoinMacroTitles flattens macro titles into the stored pipe-joined form.
func JoinMacroTitles(titles []string) string {
	return strings.Join(titles, "|")
}

// PublicComments returns the public entries of thread, preserving order.
func PublicComments(thread []Comment) []Comment {
	out := make([]Comment, 0, len(thread))
	for _, c := range thread {
		if c.Public {
			out = append(out, c)
		}
	}
	return out
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
