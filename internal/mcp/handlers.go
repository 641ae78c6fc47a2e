package mcp

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/qafinder/internal/config"
	"github.com/hpungsan/qafinder/internal/errors"
	"github.com/hpungsan/qafinder/internal/ingest"
	"github.com/hpungsan/qafinder/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	db       *sql.DB
	cfg      *config.Config
	ingester *ingest.Ingester
}

// NewHandlers creates a new Handlers instance. ing may be nil when no
// helpdesk credentials are configured.
func NewHandlers(db *sql.DB, cfg *config.Config, ing *ingest.Ingester) *Handlers {
	return &Handlers{db: db, cfg: cfg, ingester: ing}
}

// Request types for each tool

// ReviewRequest represents the arguments for ticket_review.
type ReviewRequest struct {
	Days int    `json:"days,omitempty"`
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	IncludeTags []string `json:"include_tags,omitempty"`
	// ExcludeTags stays nil when the argument is absent, which selects
	// the configured defaults; [] decodes to an empty slice.
	ExcludeTags     []string `json:"exclude_tags"`
	Keywords        []string `json:"keywords,omitempty"`
	KeywordMode     string   `json:"keyword_mode,omitempty"`
	ExcludeKeywords []string `json:"exclude_keywords,omitempty"`
	Limit           int      `json:"limit,omitempty"`
}

func (r ReviewRequest) input() ops.ReviewInput {
	return ops.ReviewInput{
		WindowInput:     ops.WindowInput{Days: r.Days, From: r.From, To: r.To},
		IncludeTags:     r.IncludeTags,
		ExcludeTags:     r.ExcludeTags,
		Keywords:        r.Keywords,
		KeywordMode:     r.KeywordMode,
		ExcludeKeywords: r.ExcludeKeywords,
		Limit:           r.Limit,
	}
}

// ThreadRequest represents the arguments for ticket_thread.
type ThreadRequest struct {
	ID             int64    `json:"id"`
	Highlight      []string `json:"highlight,omitempty"`
	IncludePrivate bool     `json:"include_private,omitempty"`
}

// SearchRequest represents the arguments for ticket_search.
type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// ExportRequest represents the arguments for ticket_export.
type ExportRequest struct {
	ReviewRequest
	Path   string `json:"path,omitempty"`
	Format string `json:"format,omitempty"`
}

// IngestRequest represents the arguments for ticket_ingest.
type IngestRequest struct {
	Days int `json:"days,omitempty"`
}

// RunsRequest represents the arguments for ingest_runs.
type RunsRequest struct {
	Limit int `json:"limit,omitempty"`
}

// Handler implementations

// HandleReview handles the ticket_review tool call.
func (h *Handlers) HandleReview(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ReviewRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Review(ctx, h.db, h.cfg, input.input())
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleThread handles the ticket_thread tool call.
func (h *Handlers) HandleThread(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ThreadRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Thread(ctx, h.db, h.cfg, ops.ThreadInput{
		ID:             input.ID,
		Highlight:      input.Highlight,
		IncludePrivate: input.IncludePrivate,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleSearch handles the ticket_search tool call.
func (h *Handlers) HandleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SearchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Search(ctx, h.db, h.cfg, ops.SearchInput{
		Query: input.Query,
		Limit: input.Limit,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleExport handles the ticket_export tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Export(ctx, h.db, h.cfg, ops.ExportInput{
		Path:   input.Path,
		Format: input.Format,
		Review: input.ReviewRequest.input(),
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleIngest handles the ticket_ingest tool call. When the client sent a
// progress token, slice progress is forwarded as progress notifications.
func (h *Handlers) HandleIngest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if h.ingester == nil {
		if err := h.cfg.Credentials.Validate(); err != nil {
			return errorResult(err), nil
		}
		return errorResult(errors.NewInvalidRequest("ingest is not enabled on this server")), nil
	}

	input, err := decode[IngestRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Ingest(ctx, h.ingester, ops.IngestInput{Days: input.Days}, progressNotifier(ctx, req))
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleRebuildFTS handles the fts_rebuild tool call.
func (h *Handlers) HandleRebuildFTS(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.RebuildFTS(ctx, h.db)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleRuns handles the ingest_runs tool call.
func (h *Handlers) HandleRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RunsRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Runs(ctx, h.db, ops.RunsInput{Limit: input.Limit})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// progressNotifier returns nil unless the request carries a progress token
// and a client session is attached to ctx.
func progressNotifier(ctx context.Context, req mcp.CallToolRequest) ingest.Progress {
	if req.Params.Meta == nil || req.Params.Meta.ProgressToken == nil {
		return nil
	}
	srv := server.ServerFromContext(ctx)
	if srv == nil {
		return nil
	}
	token := req.Params.Meta.ProgressToken
	return func(step, total int, message string) {
		_ = srv.SendNotificationToClient(ctx, "notifications/progress", map[string]any{
			"progressToken": token,
			"progress":      step,
			"total":         total,
			"message":       message,
		})
	}
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Note: Internal error details are not exposed to prevent leaking sensitive info.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if qErr, ok := errors.As(err); ok {
		message := qErr.Message
		// Keep wrapper context such as "items[2]: ..." from fmt.Errorf.
		if wrapped := err.Error(); wrapped != qErr.Error() && qErr.Code != errors.ErrInternal {
			message = wrapped
		}
		errorObj := map[string]any{
			"code":    qErr.Code,
			"message": message,
			"status":  qErr.Status,
		}
		// Only include details for non-internal errors to avoid leaking
		// sensitive info like file paths or SQL errors
		if qErr.Code != errors.ErrInternal && qErr.Details != nil {
			errorObj["details"] = qErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
