//go:build sqlite_fts5

package store

import (
	"database/sql"
	"fmt"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS records_fts USING fts5(
			id UNINDEXED,
			title,
			body,
			tokenize = 'unicode61 remove_diacritics 2'
		);
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

// Search performs an FTS5 full-text search with ranked snippets.
func (s *Store) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.conn.Query(`
		SELECT id,
		       title,
		       snippet(records_fts, 2, '<b>', '</b>', '...', 64)
		FROM records_fts
		WHERE records_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
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
