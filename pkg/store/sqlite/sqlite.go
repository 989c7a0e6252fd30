// Package sqlite implements store.EFVStorage on an embedded SQLite database
// through sqlx. It backs the offline CLI and the pipeline tests.
package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/OFFIS-RIT/compass/backend/pkg/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS report (
	id             INTEGER PRIMARY KEY,
	rating_company TEXT NOT NULL,
	company_name   TEXT NOT NULL DEFAULT '',
	title          TEXT NOT NULL DEFAULT '',
	words          INTEGER NOT NULL DEFAULT 0,
	date           TEXT NOT NULL DEFAULT '',
	year           INTEGER NOT NULL DEFAULT 0,
	category       TEXT NOT NULL DEFAULT '',
	code           TEXT NOT NULL DEFAULT '',
	language       TEXT NOT NULL DEFAULT '',
	copyright      TEXT NOT NULL DEFAULT '',
	headings       TEXT NOT NULL DEFAULT '[]',
	created_at     TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_report_company_year ON report(rating_company, year);
CREATE INDEX IF NOT EXISTS idx_report_company_name ON report(LOWER(company_name));

CREATE TABLE IF NOT EXISTS report_sections (
	id           INTEGER PRIMARY KEY,
	report_id    INTEGER NOT NULL REFERENCES report(id) ON DELETE CASCADE,
	section_name TEXT NOT NULL,
	contents     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sections_report ON report_sections(report_id, section_name);
CREATE INDEX IF NOT EXISTS idx_sections_name ON report_sections(LOWER(section_name));

CREATE TABLE IF NOT EXISTS event (
	id           INTEGER PRIMARY KEY,
	report_id    INTEGER NOT NULL REFERENCES report(id) ON DELETE CASCADE,
	section_id   INTEGER,
	section_name TEXT NOT NULL DEFAULT '',
	name         TEXT NOT NULL,
	evidence     TEXT NOT NULL DEFAULT '',
	event_type   TEXT NOT NULL,
	period       TEXT
);
CREATE INDEX IF NOT EXISTS idx_event_report_section ON event(report_id, section_name);
CREATE INDEX IF NOT EXISTS idx_event_section ON event(section_id);

CREATE TABLE IF NOT EXISTS factor (
	id           INTEGER PRIMARY KEY,
	report_id    INTEGER NOT NULL REFERENCES report(id) ON DELETE CASCADE,
	section_id   INTEGER,
	section_name TEXT NOT NULL DEFAULT '',
	name         TEXT NOT NULL,
	evidence     TEXT NOT NULL DEFAULT '',
	period       TEXT
);
CREATE INDEX IF NOT EXISTS idx_factor_report_section ON factor(report_id, section_name);
CREATE INDEX IF NOT EXISTS idx_factor_section ON factor(section_id);

CREATE TABLE IF NOT EXISTS variable (
	id           INTEGER PRIMARY KEY,
	report_id    INTEGER NOT NULL REFERENCES report(id) ON DELETE CASCADE,
	section_id   INTEGER,
	section_name TEXT NOT NULL DEFAULT '',
	name         TEXT NOT NULL,
	value        TEXT NOT NULL DEFAULT '',
	unit         TEXT,
	period       TEXT,
	evidence     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_variable_report_section ON variable(report_id, section_name);
CREATE INDEX IF NOT EXISTS idx_variable_section ON variable(section_id);

CREATE TABLE IF NOT EXISTS event_relation (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	section_id  INTEGER NOT NULL REFERENCES report_sections(id) ON DELETE CASCADE,
	event_id    INTEGER REFERENCES event(id) ON DELETE CASCADE,
	factor_id   INTEGER REFERENCES factor(id) ON DELETE CASCADE,
	variable_id INTEGER REFERENCES variable(id) ON DELETE CASCADE,
	score       REAL NOT NULL,
	CHECK ((event_id IS NOT NULL) + (factor_id IS NOT NULL) + (variable_id IS NOT NULL) = 2)
);
CREATE INDEX IF NOT EXISTS idx_event_relation_section ON event_relation(section_id);
CREATE INDEX IF NOT EXISTS idx_event_relation_event ON event_relation(event_id);
CREATE INDEX IF NOT EXISTS idx_event_relation_factor ON event_relation(factor_id);
CREATE INDEX IF NOT EXISTS idx_event_relation_variable ON event_relation(variable_id);
`

// maxParams keeps IN lists well below SQLite's bound variable limit.
const maxParams = 500

// SQLiteStorage is a store.EFVStorage backed by one SQLite connection.
type SQLiteStorage struct {
	db *sqlx.DB
}

var _ store.EFVStorage = (*SQLiteStorage)(nil)

// Open opens or creates the database at path and applies the schema. Use
// ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string) (*SQLiteStorage, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path != ":memory:" && !strings.HasPrefix(path, "file::memory:") {
		dsn += "&_pragma=journal_mode(wal)"
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// DB exposes the underlying handle for tooling such as canonical map imports.
func (s *SQLiteStorage) DB() *sqlx.DB {
	return s.db
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// withTx runs fn in a transaction and commits when it returns nil.
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
