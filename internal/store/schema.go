// Package store provides the SQLite-backed relational projection: records,
// edges, tag memberships, id counters, WAL events, and full-text rows.
// Every table here is derived from the garden files except the id counters
// and the tag-name registry, which survive a rebuild.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS records (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL DEFAULT '',
	record_type TEXT NOT NULL,
	subtype     TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT '',
	path        TEXT NOT NULL UNIQUE,
	created     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	link_degree INTEGER NOT NULL DEFAULT 0
);

-- Edges carry no foreign keys: they are derived data, repaired by the
-- reconciliation engine rather than enforced by the schema.
CREATE TABLE IF NOT EXISTS edges (
	source_id    TEXT NOT NULL,
	target_id    TEXT NOT NULL,
	edge_type    TEXT NOT NULL DEFAULT 'link',
	weight       REAL NOT NULL DEFAULT 1.0,
	source_layer TEXT NOT NULL DEFAULT 'body',
	created      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(source_id, target_id, edge_type)
);

CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_id);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id);

CREATE TABLE IF NOT EXISTS tags (
	name TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS record_tags (
	record_id TEXT NOT NULL,
	tag       TEXT NOT NULL,
	UNIQUE(record_id, tag)
);

CREATE TABLE IF NOT EXISTS counters (
	record_type TEXT PRIMARY KEY,
	next        INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS wal_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	hook_name  TEXT NOT NULL,
	payload    TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'pending',
	error      TEXT,
	retries    INTEGER NOT NULL DEFAULT 0,
	session_id TEXT,
	created    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	completed  DATETIME
);

CREATE INDEX IF NOT EXISTS idx_wal_status ON wal_events(status);
`

// DBTX is the subset of database/sql shared by *sql.DB and *sql.Tx. Row
// operations take it so the same code serves direct reads and coordinated
// transactional writes.
type DBTX interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Store wraps a sql.DB with garden-specific operations.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens (or creates) the SQLite database at path and applies the schema.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply fts schema: %w", err)
	}
	return &Store{conn: conn, path: path}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Conn exposes the raw connection for reads and short standalone statements.
func (s *Store) Conn() *sql.DB { return s.conn }

// Begin starts a write transaction.
func (s *Store) Begin() (*sql.Tx, error) {
	tx, err := s.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %w", err)
	}
	return tx, nil
}

// Exec is the raw-statement escape hatch for DDL and maintenance statements
// (VACUUM INTO, table clears) that have no higher-level representation.
func (s *Store) Exec(query string, args ...any) error {
	if _, err := s.conn.Exec(query, args...); err != nil {
		return fmt.Errorf("store: exec: %w", err)
	}
	return nil
}

// Reopen closes and reopens the database connection against the same file.
// Used after the reconciliation engine swaps the file under a rollback.
func (s *Store) Reopen() error {
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("store: close for reopen: %w", err)
	}
	fresh, err := Open(s.path)
	if err != nil {
		return err
	}
	s.conn = fresh.conn
	return nil
}
