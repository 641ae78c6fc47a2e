package web

import (
	"context"
	"database/sql"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hpungsan/qafinder/internal/config"
	"github.com/hpungsan/qafinder/internal/errors"
	"github.com/hpungsan/qafinder/internal/ingest"
	"github.com/hpungsan/qafinder/internal/ops"
	"github.com/hpungsan/qafinder/internal/textmatch"
)

// Handlers contains HTTP route handlers for the dashboard.
type Handlers struct {
	db       *sql.DB
	cfg      *config.Config
	ingester *ingest.Ingester // nil when no helpdesk credentials are configured
	renderer *Renderer
	logger   *slog.Logger
}

// HandleTickets handles GET /tickets, the filtered and ranked review.
func (h *Handlers) HandleTickets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	input := ops.ReviewInput{
		WindowInput: ops.WindowInput{
			Days: parseIntParam(r, "days", 0),
			From: q.Get("from"),
			To:   q.Get("to"),
		},
		IncludeTags:     textmatch.ParseTagList(q.Get("include_tags")),
		Keywords:        textmatch.ParseKeywordList(q.Get("keywords")),
		KeywordMode:     q.Get("mode"),
		ExcludeKeywords: textmatch.ParseKeywordList(q.Get("exclude_keywords")),
		Limit:           parseIntParam(r, "limit", 0),
	}
	excludeTags := strings.Join(h.cfg.DefaultExcludedTags, ", ")
	if q.Has("exclude_tags") {
		excludeTags = q.Get("exclude_tags")
		input.ExcludeTags = textmatch.ParseTagList(excludeTags)
		if input.ExcludeTags == nil {
			input.ExcludeTags = []string{}
		}
	}

	result, err := ops.Review(r.Context(), h.db, h.cfg, input)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	h.renderer.renderPage(w, r, "tickets", TicketsPageData{
		PageData:        h.renderer.page("Review", "tickets"),
		Result:          result,
		Days:            q.Get("days"),
		From:            q.Get("from"),
		To:              q.Get("to"),
		IncludeTags:     q.Get("include_tags"),
		ExcludeTags:     excludeTags,
		Keywords:        q.Get("keywords"),
		Mode:            q.Get("mode"),
		ExcludeKeywords: q.Get("exclude_keywords"),
		Limit:           q.Get("limit"),
	})
}

// HandleThread handles GET /tickets/{id} with a chat-style preview of one ticket.
func (h *Handlers) HandleThread(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("ticket id must be a positive integer"))
		return
	}

	highlight := r.URL.Query().Get("highlight")
	input := ops.ThreadInput{
		ID:             id,
		Highlight:      textmatch.ParseKeywordList(highlight),
		IncludePrivate: parseBoolParam(r, "private"),
	}
	out, err := ops.Thread(r.Context(), h.db, h.cfg, input)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, out)
		return
	}

	comments := make([]CommentView, len(out.Comments))
	for i, c := range out.Comments {
		comments[i] = CommentView{CommentItem: c, HTML: renderPreview(c.Text)}
	}
	h.renderer.renderPage(w, r, "thread", ThreadPageData{
		PageData:  h.renderer.page("#"+strconv.FormatInt(id, 10)+" "+out.Ticket.Subject, "tickets"),
		Ticket:    out.Ticket,
		Comments:  comments,
		Macros:    out.Macros,
		Highlight: highlight,
		Private:   input.IncludePrivate,
	})
}

// HandleSearch handles GET /search, a full-text search over public comments.
func (h *Handlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	data := SearchPageData{
		PageData: h.renderer.page("Search", "search"),
		Query:    query,
		HasQuery: strings.TrimSpace(query) != "",
	}

	if data.HasQuery {
		result, err := ops.Search(r.Context(), h.db, h.cfg, ops.SearchInput{
			Query: query,
			Limit: parseIntParam(r, "limit", 0),
		})
		if err != nil {
			h.renderer.renderError(w, r, err)
			return
		}
		if wantsJSON(r) {
			renderJSON(w, http.StatusOK, result)
			return
		}
		data.Items = result.Items
	}

	// htmx swaps only the results when it targets #results.
	if r.Header.Get("HX-Target") == "results" {
		h.renderer.renderBlock(w, http.StatusOK, "search", "search-results", data)
		return
	}
	h.renderer.renderPage(w, r, "search", data)
}

// HandleRuns handles GET /runs, listing recent ingests with the ingest controls.
func (h *Handlers) HandleRuns(w http.ResponseWriter, r *http.Request) {
	result, err := ops.Runs(r.Context(), h.db, ops.RunsInput{Limit: parseIntParam(r, "limit", 0)})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}
	h.renderer.renderPage(w, r, "runs", RunsPageData{
		PageData:     h.renderer.page("Ingest runs", "runs"),
		Items:        result.Items,
		LookbackDays: h.cfg.LookbackDays,
		CanIngest:    h.ingester != nil,
		Notice:       r.URL.Query().Get("notice"),
	})
}

// HandleIngest handles POST /ingest by running one ingest synchronously.
func (h *Handlers) HandleIngest(w http.ResponseWriter, r *http.Request) {
	if h.ingester == nil {
		err := h.cfg.Credentials.Validate()
		if err == nil {
			err = errors.NewInvalidRequest("ingest is not enabled on this server")
		}
		h.renderer.renderError(w, r, err)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}
	days := 0
	if v := r.FormValue("days"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil {
			h.renderer.renderError(w, r, errors.NewInvalidRequest("days must be an integer"))
			return
		}
		days = d
	}

	// The run outlives the request so a closed tab does not abort it halfway.
	ctx := context.WithoutCancel(r.Context())
	out, err := ops.Ingest(ctx, h.ingester, ops.IngestInput{Days: days}, nil)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.logger.Info("ingest triggered from dashboard", "run_id", out.Summary.RunID, "stored", out.Summary.Stored)
	h.respondAction(w, r, out, out.Status)
}

// HandleRebuildFTS handles POST /fts/rebuild by repopulating the search index.
func (h *Handlers) HandleRebuildFTS(w http.ResponseWriter, r *http.Request) {
	out, err := ops.RebuildFTS(r.Context(), h.db)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	msg := "Search index rebuilt: " + strconv.Itoa(out.Indexed) + " comments"
	if !out.Enabled {
		msg = "Full-text search is not available in this database"
	}
	h.respondAction(w, r, out, msg)
}

// respondAction answers a POST with JSON, an htmx fragment or a redirect
// back to the runs page.
func (h *Handlers) respondAction(w http.ResponseWriter, r *http.Request, payload any, message string) {
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, payload)
		return
	}
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`<div class="notice">` + template.HTMLEscapeString(message) + `</div>`))
		return
	}
	http.Redirect(w, r, "/runs?notice="+url.QueryEscape(message), http.StatusSeeOther)
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// parseBoolParam parses a boolean query parameter.
func parseBoolParam(r *http.Request, name string) bool {
	s := r.URL.Query().Get(name)
	return s == "true" || s == "1" || s == "on"
}
