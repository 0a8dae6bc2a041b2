// Package persistence is the sqlite-backed store for all durable Daybreak
// state: agent tasks and their results, themes and theme blocks, the
// productivity workspace (todos, goals, reminders, calendar, notes, email
// snapshots), the operation-event ledger, and the model cost ledger.
//
// The store is the single writer for the process: sqlite is opened with one
// connection, so concurrent callers serialize at the database boundary and
// upper layers never need entity-level locking.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/daybreak-ai/daybreak/internal/bus"
	_ "github.com/mattn/go-sqlite3"
)

const (
	schemaVersion  = 1
	schemaChecksum = "db-v1-2026-08-agent-core"
)

// Store wraps the sqlite database and the event bus.
type Store struct {
	db  *sql.DB
	bus *bus.Bus
}

// DefaultDBPath returns the db path under the Daybreak home dir.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "daybreak.db"
	}
	return filepath.Join(home, ".daybreak", "daybreak.db")
}

// Open opens (creating if necessary) the sqlite store at path.
func Open(path string, eventBus *bus.Bus) (*Store, error) {
	if path == "" {
		path = DefaultDBPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, bus: eventBus}
	if err := store.configurePragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Bus returns the event bus attached to the store (may be nil).
func (s *Store) Bus() *bus.Bus {
	return s.bus
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) configurePragmas(ctx context.Context) error {
	pragmas := []string{
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA synchronous = NORMAL;`,
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_ledger (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS agent_tasks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			prompt TEXT NOT NULL,
			trigger_type TEXT NOT NULL,
			fire_at TIMESTAMP,
			cron_hour INTEGER,
			cron_minute INTEGER,
			interval_minutes INTEGER,
			checkin_phase TEXT NOT NULL DEFAULT '',
			event_type TEXT NOT NULL DEFAULT '',
			context_needs TEXT NOT NULL DEFAULT '',
			allowed_actions TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			created_by TEXT NOT NULL DEFAULT 'chat',
			last_run_at TIMESTAMP,
			next_run_at TIMESTAMP,
			run_count INTEGER NOT NULL DEFAULT 0,
			max_runs INTEGER,
			linked_todo_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_agent_tasks_due
			ON agent_tasks (status, next_run_at);`,
		`CREATE TABLE IF NOT EXISTS agent_task_results (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			output TEXT NOT NULL DEFAULT '',
			actions_proposed TEXT NOT NULL DEFAULT '[]',
			actions_executed TEXT NOT NULL DEFAULT '[]',
			cost_usd REAL,
			status TEXT NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (task_id) REFERENCES agent_tasks(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_results_task
			ON agent_task_results (task_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS pending_actions (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL DEFAULT '',
			action_json TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			resolved_at TIMESTAMP,
			approved INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS executed_actions (
			id TEXT PRIMARY KEY,
			action_id TEXT NOT NULL,
			task_id TEXT NOT NULL DEFAULT '',
			approved INTEGER NOT NULL,
			executed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS themes (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			color TEXT NOT NULL DEFAULT '',
			archived INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_themes_name
			ON themes (lower(name)) WHERE archived = 0;`,
		`CREATE TABLE IF NOT EXISTS theme_blocks (
			id TEXT PRIMARY KEY,
			theme_id TEXT NOT NULL,
			start_at TIMESTAMP NOT NULL,
			end_at TIMESTAMP NOT NULL,
			status TEXT NOT NULL DEFAULT 'draft',
			calendar_event_id TEXT NOT NULL DEFAULT '',
			recurrence TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (theme_id) REFERENCES themes(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_blocks_day
			ON theme_blocks (start_at, status);`,
		`CREATE TABLE IF NOT EXISTS todo_tasks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			due_at TIMESTAMP,
			priority INTEGER NOT NULL DEFAULT 0,
			theme_id TEXT NOT NULL DEFAULT '',
			color TEXT NOT NULL DEFAULT '',
			completed INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS goals (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			completed INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS reminders (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			due_at TIMESTAMP,
			completed INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS calendar_events (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			start_at TIMESTAMP NOT NULL,
			end_at TIMESTAMP NOT NULL,
			calendar TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS notes (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS emails (
			id TEXT PRIMARY KEY,
			direction TEXT NOT NULL DEFAULT 'in',
			address TEXT NOT NULL DEFAULT '',
			subject TEXT NOT NULL DEFAULT '',
			snippet TEXT NOT NULL DEFAULT '',
			unread INTEGER NOT NULL DEFAULT 1,
			important INTEGER NOT NULL DEFAULT 0,
			received_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS operation_events (
			event_id INTEGER PRIMARY KEY AUTOINCREMENT,
			correlation_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			payload_json TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_op_events_corr
			ON operation_events (correlation_id);`,
		`CREATE TABLE IF NOT EXISTS cost_ledger (
			id TEXT PRIMARY KEY,
			day TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			cost_usd REAL NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cost_day ON cost_ledger (day);`,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO schema_ledger (version, checksum)
		VALUES (?, ?)
		ON CONFLICT (version) DO NOTHING;
	`, schemaVersion, schemaChecksum); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	var recorded string
	if err := tx.QueryRowContext(ctx, `
		SELECT checksum FROM schema_ledger WHERE version = ?;
	`, schemaVersion).Scan(&recorded); err != nil {
		return fmt.Errorf("read schema ledger: %w", err)
	}
	if recorded != schemaChecksum {
		return fmt.Errorf("schema checksum mismatch: db has %q, binary expects %q", recorded, schemaChecksum)
	}

	return tx.Commit()
}

// joinTags serializes a tag set to its column form.
func joinTags(tags []string) string {
	cleaned := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t != "" {
			cleaned = append(cleaned, t)
		}
	}
	return strings.Join(cleaned, ",")
}

// splitTags parses the column form back into a tag set.
func splitTags(col string) []string {
	if strings.TrimSpace(col) == "" {
		return nil
	}
	parts := strings.Split(col, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
