package ops

import (
	"context"
	"database/sql"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/hpungsan/qafinder/internal/config"
	"github.com/hpungsan/qafinder/internal/db"
	"github.com/hpungsan/qafinder/internal/errors"
)

// Search limits
const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
	MaxQueryLength     = db.MaxSearchQueryChars
	MaxSnippetChars    = 300
)

// SearchInput contains parameters for the Search operation.
type SearchInput struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"` // default: 20, max: 100
}

// SearchResultItem is one matching public comment.
type SearchResultItem struct {
	TicketID    int64  `json:"ticket_id"`
	Idx         int    `json:"idx"`
	Subject     string `json:"subject"`
	AuthorName  string `json:"author_name,omitempty"`
	AuthorEmail string `json:"author_email,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
	URL         string `json:"ticket_url,omitempty"`
	// Snippet is HTML-safe: comment text is escaped; only <b>...</b>
	// highlight tags are present.
	Snippet string `json:"snippet"`
}

// SearchOutput contains the result of the Search operation.
type SearchOutput struct {
	Query string             `json:"query"`
	Items []SearchResultItem `json:"items"`
}

// Search runs a full-text query over public comment bodies, best matches
// first (BM25).
func Search(ctx context.Context, database *sql.DB, cfg *config.Config, input SearchInput) (*SearchOutput, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, errors.NewInvalidRequest("query is required")
	}
	if utf8.RuneCountInString(query) > MaxQueryLength {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("query exceeds maximum length of %d characters", MaxQueryLength))
	}
	limit := clampLimit(input.Limit, DefaultSearchLimit, MaxSearchLimit)

	hits, err := db.SearchComments(ctx, database, query, limit)
	if err != nil {
		return nil, err
	}

	items := make([]SearchResultItem, len(hits))
	for i, h := range hits {
		// Escape first, then truncate so the cut never splits an entity or tag.
		snippet := escapeSnippetHTML(h.Snippet)
		snippet = truncateSnippet(snippet, MaxSnippetChars)

		items[i] = SearchResultItem{
			TicketID:    h.TicketID,
			Idx:         h.Idx,
			Subject:     h.Subject,
			AuthorName:  h.AuthorName,
			AuthorEmail: h.AuthorEmail,
			CreatedAt:   h.CreatedAt,
			URL:         cfg.Credentials.TicketURL(h.TicketID),
			Snippet:     snippet,
		}
	}
	return &SearchOutput{Query: query, Items: items}, nil
}

// truncateSnippet truncates a snippet to approximately maxChars while:
// 1. Preserving valid UTF-8 (never splits multi-byte runes)
// 2. Preserving markup integrity (closes any open <b> tags)
// 3. Preferring word boundaries when possible
func truncateSnippet(s string, maxChars int) string {
	if maxChars <= 0 {
		return "..."
	}

	if len(s) <= maxChars {
		return s
	}

	// Find a safe truncation point that doesn't split UTF-8 runes
	truncateAt := maxChars
	for truncateAt > 0 && !utf8.RuneStart(s[truncateAt]) {
		truncateAt--
	}

	if truncateAt == 0 {
		return "..."
	}

	truncated := s[:truncateAt]

	// Avoid returning malformed HTML by trimming any partial tag/entity suffix.
	// At this point the only tags present should be <b> and </b>, and user content
	// may contain HTML entities (e.g., &lt;).
	if lastLT := strings.LastIndex(truncated, "<"); lastLT != -1 && !strings.Contains(truncated[lastLT:], ">") {
		truncated = truncated[:lastLT]
	}
	if lastAmp := strings.LastIndex(truncated, "&"); lastAmp != -1 && !strings.Contains(truncated[lastAmp:], ";") {
		truncated = truncated[:lastAmp]
	}

	// Try to cut at word boundary if we're not losing too much content
	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > truncateAt/2 {
		truncated = truncated[:lastSpace]
	}

	// Close any <b> the cut left open.
	openTags := strings.Count(truncated, "<b>")
	closeTags := strings.Count(truncated, "</b>")
	unclosedCount := openTags - closeTags

	for range unclosedCount {
		truncated += "</b>"
	}

	return truncated + "..."
}

// escapeSnippetHTML escapes comment text in a snippet while turning the
// store's highlight markers into <b> tags. Comment bodies come from
// requesters and may carry arbitrary markup.
func escapeSnippetHTML(s string) string {
	const (
		openPlaceholder  = "\x00QA_B_OPEN\x00"
		closePlaceholder = "\x00QA_B_CLOSE\x00"
	)

	s = strings.ReplaceAll(s, db.SnippetOpen, openPlaceholder)
	s = strings.ReplaceAll(s, db.SnippetClose, closePlaceholder)

	s = html.EscapeString(s)

	// Restore highlight tags (and only highlight tags).
	s = strings.ReplaceAll(s, openPlaceholder, "<b>")
	s = strings.ReplaceAll(s, closePlaceholder, "</b>")

	return s
}
