package mcp

import (
	"context"
	"database/sql"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/qafinder/internal/config"
	"github.com/hpungsan/qafinder/internal/ingest"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"ticket_review": {
		def:     reviewToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleReview },
	},
	"ticket_thread": {
		def:     threadToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleThread },
	},
	"ticket_search": {
		def:     searchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSearch },
	},
	"ticket_export": {
		def:     exportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExport },
	},
	"ticket_ingest": {
		def:     ingestToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleIngest },
	},
	"fts_rebuild": {
		def:     rebuildToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRebuildFTS },
	},
	"ingest_runs": {
		def:     runsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRuns },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates a new MCP server with the qafinder tools registered.
// Tools listed in cfg.DisabledTools are excluded. A nil ingester leaves
// ticket_ingest registered but reporting the missing credentials.
func NewServer(db *sql.DB, cfg *config.Config, ing *ingest.Ingester, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"qafinder",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(db, cfg, ing)

	disabled := make(map[string]bool, len(cfg.DisabledTools))
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(db *sql.DB, cfg *config.Config, ing *ingest.Ingester, version string) error {
	s := NewServer(db, cfg, ing, version)
	return server.ServeStdio(s)
}

// ToolHandlerFunc is the signature for tool handlers.
type ToolHandlerFunc func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)

var reviewFilterOptions = []mcp.ToolOption{
	mcp.WithNumber("days", mcp.Description("Lookback window in days ending now (default: configured lookback_days, max 365)")),
	mcp.WithString("from", mcp.Description("Window start, RFC 3339 or YYYY-MM-DD (inclusive)")),
	mcp.WithString("to", mcp.Description("Window end, RFC 3339 or YYYY-MM-DD (a date includes the whole day)")),
	mcp.WithArray("include_tags", mcp.WithStringItems(), mcp.Description("Keep only tickets carrying at least one of these tags")),
	mcp.WithArray("exclude_tags", mcp.WithStringItems(),
		mcp.Description("Drop tickets carrying any of these tags. Omit for the configured defaults; pass [] to disable")),
	mcp.WithArray("keywords", mcp.WithStringItems(), mcp.Description("Terms matched against the subject and public replies")),
	mcp.WithString("keyword_mode", mcp.Enum("any", "all", "phrase", "regex"), mcp.Description("How keywords combine (default any)")),
	mcp.WithArray("exclude_keywords", mcp.WithStringItems(), mcp.Description("Drop tickets mentioning any of these terms")),
	mcp.WithNumber("limit", mcp.Description("Maximum tickets returned (default 100, max 1000)")),
}

func toolWith(name, description string, opts ...mcp.ToolOption) mcp.Tool {
	return mcp.NewTool(name, append([]mcp.ToolOption{mcp.WithDescription(description)}, opts...)...)
}

var reviewToolDef = toolWith("ticket_review",
	"Rank solved tickets in a time window by how much they deserve a QA review. "+
		"Each item carries its score, the reasons behind it and the raw signals.",
	append(reviewFilterOptions, mcp.WithReadOnlyHintAnnotation(true))...,
)

var threadToolDef = toolWith("ticket_thread",
	"Fetch one stored ticket with its comment thread, score and applied macros.",
	mcp.WithNumber("id", mcp.Required(), mcp.Description("Helpdesk ticket id")),
	mcp.WithArray("highlight", mcp.WithStringItems(), mcp.Description("Terms to wrap in ** in the plain-text comments")),
	mcp.WithBoolean("include_private", mcp.Description("Include internal notes (default false)")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var searchToolDef = toolWith("ticket_search",
	"Full-text search over public comments of stored tickets, best matches first.",
	mcp.WithString("query", mcp.Required(), mcp.Description("Search terms; FTS5 syntax is accepted")),
	mcp.WithNumber("limit", mcp.Description("Maximum hits (default 20, max 100)")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var exportToolDef = toolWith("ticket_export",
	"Write a ranked review to a JSONL or CSV file under the exports directory or an allowed path.",
	append(reviewFilterOptions,
		mcp.WithString("path", mcp.Description("Output file (default <base>/exports/review-<timestamp>.<format>)")),
		mcp.WithString("format", mcp.Enum("jsonl", "csv"), mcp.Description("Output format (default inferred from path, else jsonl)")),
	)...,
)

var ingestToolDef = toolWith("ticket_ingest",
	"Pull solved tickets from the helpdesk into the local store. Safe to repeat; only one ingest runs at a time.",
	mcp.WithNumber("days", mcp.Description("Lookback window in days (default: configured lookback_days, max 365)")),
	mcp.WithIdempotentHintAnnotation(true),
	mcp.WithOpenWorldHintAnnotation(true),
)

var rebuildToolDef = toolWith("fts_rebuild",
	"Clear and repopulate the comment search index from stored comments.",
	mcp.WithIdempotentHintAnnotation(true),
)

var runsToolDef = toolWith("ingest_runs",
	"List recent ingest runs, newest first.",
	mcp.WithNumber("limit", mcp.Description("Maximum runs (default 20, max 200)")),
	mcp.WithReadOnlyHintAnnotation(true),
)
