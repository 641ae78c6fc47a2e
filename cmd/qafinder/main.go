package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/qafinder/internal/config"
	"github.com/hpungsan/qafinder/internal/db"
	"github.com/hpungsan/qafinder/internal/logging"
	"github.com/hpungsan/qafinder/internal/mcp"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// EnvHome overrides the base directory (default ~/.qafinder).
const EnvHome = "QAFINDER_HOME"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"ingest": true, "review": true, "thread": true, "search": true,
	"rebuild-fts": true, "runs": true, "export": true,
	"serve": true, "mcp": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
    __ _  __ _ / _(_)_ __   __| | ___ _ __
   / _' |/ _' | |_| | '_ \ / _' |/ _ \ '__|
  | (_| | (_| |  _| | | | | (_| |  __/ |
   \__, |\__,_|_| |_|_| |_|\__,_|\___|_|
      |_|

  Find the support tickets worth a QA review

  Usage: qafinder <command> [options]
         qafinder --help

  MCP server mode requires piped input.`)
}

// baseDir returns $QAFINDER_HOME, or ~/.qafinder.
func baseDir() (string, error) {
	if dir := os.Getenv(EnvHome); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".qafinder"), nil
}

func main() {
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil, nil, nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	dir, err := baseDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Resolve(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Logs always go to stderr: stdout carries JSON output or the MCP protocol.
	logger := logging.Init(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	database, err := db.Init(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()
	db.ConfigurePool(database, cfg)

	if isCLIMode() {
		app := newCLIApp(database, cfg, logger)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			database.Close()
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'qafinder --help' for usage.\n")
		database.Close()
		os.Exit(1)
	}

	// MCP server mode (default)
	if err := mcp.Run(database, cfg, optionalIngester(database, cfg, logger), Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		database.Close()
		os.Exit(1)
	}
}
