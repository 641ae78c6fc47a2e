package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hpungsan/qafinder/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// FileName is the database file inside the base directory.
const FileName = "qafinder.db"

// Init initializes the SQLite database at baseDir/qafinder.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.qafinder.
//
// Every connection runs in WAL mode with a 5s busy timeout and
// read_uncommitted, so dashboard reads never block an ingest and an ingest
// only waits a bounded time on a lock.
func Init(baseDir string) (*sql.DB, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	// Explicit chmod (best-effort, may not work on all platforms)
	_ = os.Chmod(baseDir, 0700)

	// Create exports subdirectory
	exportsDir := filepath.Join(baseDir, "exports")
	if err := os.MkdirAll(exportsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create exports directory: %w", err)
	}
	_ = os.Chmod(exportsDir, 0700)

	// Open database with pragmas in connection string (applies to all connections)
	dbPath := filepath.Join(baseDir, FileName)
	dsn := dbPath +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=read_uncommitted(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify WAL mode is active
	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	// Run migrations (this creates the file if it doesn't exist)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	// Set file permissions after file exists (best-effort)
	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
// Call after Init if you need to tune pool behavior for contention.
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: Initial schema (v1)
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS tickets (
		  id              INTEGER PRIMARY KEY,
		  status          TEXT,
		  subject         TEXT,
		  created_at      TEXT,
		  updated_at      TEXT,
		  solved_at       TEXT,
		  csat            INTEGER,
		  csat_offered    INTEGER NOT NULL DEFAULT 0,
		  requester_id    INTEGER,
		  requester_email TEXT,
		  assignee_id     INTEGER,
		  assignee_email  TEXT,
		  assignee_name   TEXT,
		  bpo             TEXT,
		  payer_tier      TEXT,
		  language        TEXT,
		  topic           TEXT,
		  sub_topic       TEXT,
		  version         TEXT,
		  tags            TEXT,
		  reopened        INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_tickets_updated
		ON tickets(updated_at DESC);

		CREATE TABLE IF NOT EXISTS comments (
		  ticket_id    INTEGER NOT NULL,
		  idx          INTEGER NOT NULL,
		  created_at   TEXT,
		  public       INTEGER NOT NULL DEFAULT 0,
		  author_id    INTEGER,
		  author_email TEXT,
		  author_name  TEXT,
		  body         TEXT,
		  PRIMARY KEY (ticket_id, idx)
		);

		CREATE TABLE IF NOT EXISTS audits (
		  ticket_id    INTEGER NOT NULL,
		  created_at   TEXT NOT NULL,
		  macro_titles TEXT,
		  PRIMARY KEY (ticket_id, created_at)
		);

		CREATE TABLE IF NOT EXISTS ingest_runs (
		  id          TEXT PRIMARY KEY,
		  days        INTEGER NOT NULL,
		  window_from TEXT NOT NULL,
		  window_to   TEXT NOT NULL,
		  status      TEXT NOT NULL,
		  slices      INTEGER NOT NULL DEFAULT 0,
		  seen        INTEGER NOT NULL DEFAULT 0,
		  stored      INTEGER NOT NULL DEFAULT 0,
		  skipped     INTEGER NOT NULL DEFAULT 0,
		  message     TEXT,
		  error       TEXT,
		  started_at  TEXT NOT NULL,
		  finished_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_ingest_runs_started
		ON ingest_runs(started_at DESC);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}

		// The full-text index is optional: a build without FTS5 still works,
		// search just reports it as unavailable.
		if _, err := db.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS comments_fts USING fts5(body)`); err != nil {
			slog.Warn("full-text index unavailable", "error", err)
		}

		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Future migrations go here:
	// if version < 2 { ... }

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
