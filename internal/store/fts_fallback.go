//go:build !sqlite_fts5

package store

import (
	"database/sql"
	"fmt"
)

// Without the sqlite_fts5 tag the full-text projection is a plain table with
// the same shape, so integrity checks and repairs run identical SQL in both
// builds. Search degrades to LIKE.
func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE TABLE IF NOT EXISTS records_fts (
			id    TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			body  TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_fts_id ON records_fts(id);
	`)
	return err
}

// FTSUpsert replaces the full-text row for a record.
func FTSUpsert(q DBTX, id, title, body string) error {
	if _, err := q.Exec(`DELETE FROM records_fts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: fts delete before upsert: %w", err)
	}
	if _, err := q.Exec(`INSERT INTO records_fts (id, title, body) VALUES (?, ?, ?)`, id, title, body); err != nil {
		return fmt.Errorf("store: fts upsert: %w", err)
	}
	return nil
}

// FTSDelete removes the full-text row for a record.
func FTSDelete(q DBTX, id string) error {
	if _, err := q.Exec(`DELETE FROM records_fts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: fts delete: %w", err)
	}
	return nil
}

// SearchResult is one full-text search hit.
type SearchResult struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// Search performs a LIKE-based search (fallback when FTS5 is not compiled in).
func (s *Store) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + query + "%"
	rows, err := s.conn.Query(`
		SELECT id, title, substr(body, 1, 200)
		FROM records_fts
		WHERE title LIKE ? OR body LIKE ?
		LIMIT ?
	`, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
