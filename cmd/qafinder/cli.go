package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/qafinder/internal/config"
	"github.com/hpungsan/qafinder/internal/errors"
	"github.com/hpungsan/qafinder/internal/ingest"
	"github.com/hpungsan/qafinder/internal/logging"
	"github.com/hpungsan/qafinder/internal/mcp"
	"github.com/hpungsan/qafinder/internal/ops"
	"github.com/hpungsan/qafinder/internal/schedule"
	"github.com/hpungsan/qafinder/internal/textmatch"
	"github.com/hpungsan/qafinder/internal/web"
)

// stdout and stderr are swapped out by tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(db *sql.DB, cfg *config.Config, logger *slog.Logger) *cli.App {
	logger = logging.OrDefault(logger)
	app := &cli.App{
		Name:    "qafinder",
		Usage:   "Find the support tickets worth a QA review",
		Version: Version,
		Commands: []*cli.Command{
			ingestCmd(db, cfg, logger),
			reviewCmd(db, cfg),
			threadCmd(db, cfg),
			searchCmd(db, cfg),
			rebuildFTSCmd(db),
			runsCmd(db),
			exportCmd(db, cfg),
			serveCmd(db, cfg, logger),
			mcpCmd(db, cfg, logger),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// reviewFlags are shared by review and export.
func reviewFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "days", Aliases: []string{"d"}, Usage: "Lookback window in days (default: lookback_days from config)"},
		&cli.StringFlag{Name: "from", Usage: "Window start, RFC 3339 or YYYY-MM-DD"},
		&cli.StringFlag{Name: "to", Usage: "Window end, RFC 3339 or YYYY-MM-DD (a date includes the whole day)"},
		&cli.StringFlag{Name: "include-tags", Usage: "Comma-separated tags; keep tickets with any of them"},
		&cli.StringFlag{Name: "exclude-tags", Usage: "Comma-separated tags to drop (default: configured excludes; \"\" disables)"},
		&cli.StringFlag{Name: "keywords", Aliases: []string{"k"}, Usage: "Comma-separated keywords"},
		&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: "any", Usage: "Keyword mode: any|all|phrase|regex"},
		&cli.StringFlag{Name: "exclude-keywords", Usage: "Comma-separated keywords that drop a ticket"},
		&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Maximum tickets (default 100, max 1000)"},
	}
}

// reviewInput maps the shared review flags onto ops.ReviewInput.
func reviewInput(c *cli.Context) ops.ReviewInput {
	input := ops.ReviewInput{
		WindowInput: ops.WindowInput{
			Days: c.Int("days"),
			From: c.String("from"),
			To:   c.String("to"),
		},
		IncludeTags:     textmatch.ParseTagList(c.String("include-tags")),
		Keywords:        textmatch.ParseKeywordList(c.String("keywords")),
		KeywordMode:     c.String("mode"),
		ExcludeKeywords: textmatch.ParseKeywordList(c.String("exclude-keywords")),
		Limit:           c.Int("limit"),
	}
	if c.IsSet("exclude-tags") {
		input.ExcludeTags = textmatch.ParseTagList(c.String("exclude-tags"))
		if input.ExcludeTags == nil {
			input.ExcludeTags = []string{}
		}
	}
	return input
}

// ingestCmd creates the ingest command.
func ingestCmd(db *sql.DB, cfg *config.Config, logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "ingest",
		Usage: "Pull solved tickets from the helpdesk into the local store",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "days", Aliases: []string{"d"}, Usage: "Lookback window in days (default: lookback_days from config)"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "Do not print progress to stderr"},
		},
		Action: func(c *cli.Context) error {
			ing, err := ingest.NewFromConfig(db, cfg, logger)
			if err != nil {
				return outputError(err)
			}

			var progress ingest.Progress
			if !c.Bool("quiet") {
				progress = func(step, total int, message string) {
					fmt.Fprintf(stderr, "[%d/%d] %s\n", step, total, message)
				}
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			output, err := ops.Ingest(ctx, ing, ops.IngestInput{Days: c.Int("days")}, progress)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// reviewCmd creates the review command.
func reviewCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "review",
		Usage: "Rank stored tickets by how much they deserve a QA review",
		Flags: reviewFlags(),
		Action: func(c *cli.Context) error {
			output, err := ops.Review(c.Context, db, cfg, reviewInput(c))
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// threadCmd creates the thread command.
func threadCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "thread",
		Usage:     "Show one ticket with its comments, score and macros",
		ArgsUsage: "<ticket-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "highlight", Usage: "Comma-separated terms to wrap in ** in the comment text"},
			&cli.BoolFlag{Name: "private", Usage: "Include internal notes"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.NewInvalidRequest("exactly one ticket id is required"))
			}
			id, err := strconv.ParseInt(c.Args().First(), 10, 64)
			if err != nil {
				return outputError(errors.NewInvalidRequest(fmt.Sprintf("invalid ticket id %q", c.Args().First())))
			}

			output, err := ops.Thread(c.Context, db, cfg, ops.ThreadInput{
				ID:             id,
				Highlight:      textmatch.ParseKeywordList(c.String("highlight")),
				IncludePrivate: c.Bool("private"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// searchCmd creates the search command.
func searchCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Full-text search over public comments",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultSearchLimit, Usage: "Maximum hits"},
		},
		Action: func(c *cli.Context) error {
			query := ""
			if c.NArg() > 0 {
				query = strings.Join(c.Args().Slice(), " ")
			}

			output, err := ops.Search(c.Context, db, cfg, ops.SearchInput{
				Query: query,
				Limit: c.Int("limit"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// rebuildFTSCmd creates the rebuild-fts command.
func rebuildFTSCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "rebuild-fts",
		Usage: "Clear and repopulate the comment search index",
		Action: func(c *cli.Context) error {
			output, err := ops.RebuildFTS(c.Context, db)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// runsCmd creates the runs command.
func runsCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "List recent ingest runs",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultRunsLimit, Usage: "Maximum runs"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Runs(c.Context, db, ops.RunsInput{Limit: c.Int("limit")})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// exportCmd creates the export command.
func exportCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	flags := append(reviewFlags(),
		&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Export file path (default: ~/.qafinder/exports/review-<timestamp>.<format>)"},
		&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "jsonl|csv (default: from the path's extension, else jsonl)"},
	)
	return &cli.Command{
		Name:  "export",
		Usage: "Write a ranked review to a JSONL or CSV file",
		Flags: flags,
		Action: func(c *cli.Context) error {
			output, err := ops.Export(c.Context, db, cfg, ops.ExportInput{
				Path:   c.String("path"),
				Format: c.String("format"),
				Review: reviewInput(c),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(db *sql.DB, cfg *config.Config, logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the web dashboard, optionally ingesting on a cron schedule",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to listen on"},
			&cli.IntFlag{Name: "port", Value: 8080, Usage: "Port to listen on"},
			&cli.StringFlag{Name: "schedule", Usage: "Cron expression for periodic ingest, e.g. \"0 */6 * * *\" (default: schedule from config)"},
		},
		Action: func(c *cli.Context) error {
			expr := cfg.Schedule
			if c.IsSet("schedule") {
				expr = c.String("schedule")
			}

			// A schedule without a working helpdesk client is a startup error;
			// without one the dashboard just runs read-only.
			var ing *ingest.Ingester
			if expr != "" {
				var err error
				if ing, err = ingest.NewFromConfig(db, cfg, logger); err != nil {
					return outputError(err)
				}
			} else {
				ing = optionalIngester(db, cfg, logger)
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if expr != "" {
				sched, err := schedule.New(expr, scheduledIngest(ing), logger)
				if err != nil {
					return outputError(err)
				}
				sched.Start(ctx)
				defer sched.Stop()
			}

			srv, err := web.NewServer(web.Options{
				DB:       db,
				Config:   cfg,
				Ingester: ing,
				Version:  Version,
				Bind:     c.String("bind"),
				Port:     c.Int("port"),
				Logger:   logger,
			})
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			if err := web.Run(ctx, srv, logger); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// mcpCmd creates the mcp command.
func mcpCmd(db *sql.DB, cfg *config.Config, logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the MCP tools over stdio",
		Action: func(c *cli.Context) error {
			if err := mcp.Run(db, cfg, optionalIngester(db, cfg, logger), Version); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// Helper functions

// optionalIngester returns nil when helpdesk credentials are not configured,
// leaving ingest disabled on the long-running surfaces.
func optionalIngester(db *sql.DB, cfg *config.Config, logger *slog.Logger) *ingest.Ingester {
	ing, err := ingest.NewFromConfig(db, cfg, logger)
	if err != nil {
		logging.OrDefault(logger).Warn("ingest disabled", "error", err)
		return nil
	}
	return ing
}

// scheduledIngest adapts an ingester to a schedule job using the
// configured lookback.
func scheduledIngest(ing *ingest.Ingester) schedule.Job {
	return func(ctx context.Context) error {
		_, err := ops.Ingest(ctx, ing, ops.IngestInput{}, nil)
		return err
	}
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if qErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", qErr.Code, qErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
