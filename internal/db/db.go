package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB wraps sql.DB and implements the rule and occupancy stores.
type DB struct {
	*sql.DB
	logger *zerolog.Logger
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewDB opens the database at path and runs migrations. Every transaction
// begins with BEGIN IMMEDIATE so concurrent writers serialize on the
// database lock instead of failing at commit.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return &DB{DB: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS schedule_configurations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			resource_id TEXT UNIQUE NOT NULL,
			timezone TEXT NOT NULL,
			min_lead_minutes INTEGER NOT NULL DEFAULT 0,
			max_lead_minutes INTEGER NOT NULL,
			slot_granularity_minutes INTEGER NOT NULL,
			accepts_bookings BOOLEAN NOT NULL DEFAULT 1,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS weekly_availability_rules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			schedule_id INTEGER NOT NULL,
			weekday INTEGER NOT NULL CHECK (weekday BETWEEN 0 AND 6),
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (schedule_id) REFERENCES schedule_configurations(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS break_rules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			weekly_rule_id INTEGER NOT NULL,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			label TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (weekly_rule_id) REFERENCES weekly_availability_rules(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS date_exceptions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			schedule_id INTEGER NOT NULL,
			date TEXT NOT NULL,
			kind TEXT NOT NULL,
			start_time TEXT,
			end_time TEXT,
			reason TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (schedule_id, date),
			FOREIGN KEY (schedule_id) REFERENCES schedule_configurations(id) ON DELETE CASCADE
		)`,

		// Instants are unix milliseconds so range predicates compare numerically.
		`CREATE TABLE IF NOT EXISTS booking_occupancies (
			id TEXT PRIMARY KEY,
			resource_id TEXT NOT NULL,
			start_at INTEGER NOT NULL,
			end_at INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			reference TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			CHECK (end_at > start_at)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_schedules_active ON schedule_configurations(is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_weekly_rules_schedule ON weekly_availability_rules(schedule_id, weekday)`,
		`CREATE INDEX IF NOT EXISTS idx_break_rules_rule ON break_rules(weekly_rule_id)`,
		`CREATE INDEX IF NOT EXISTS idx_occupancies_times ON booking_occupancies(resource_id, start_at, end_at)`,
		`CREATE INDEX IF NOT EXISTS idx_occupancies_status ON booking_occupancies(status)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

// inClause returns "?, ?, ?" for n placeholders.
func inClause(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
