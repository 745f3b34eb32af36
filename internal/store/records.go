package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/berkano/internal/apperr"
	"github.com/starford/berkano/internal/models"
)

// InsertRecord inserts a record row.
func InsertRecord(q DBTX, rec models.Record) error {
	_, err := q.Exec(`
		INSERT INTO records (id, title, record_type, subtype, status, path, created, updated, link_degree)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Title, string(rec.Type), rec.Subtype, rec.Status, rec.Path, rec.Created, rec.Updated, rec.LinkDegree)
	if err != nil {
		return fmt.Errorf("store: insert record %s: %w", rec.ID, err)
	}
	return nil
}

// UpdateRecord rewrites the mutable columns of a record row.
func UpdateRecord(q DBTX, rec models.Record) error {
	res, err := q.Exec(`
		UPDATE records SET title = ?, subtype = ?, status = ?, path = ?, updated = ?
		WHERE id = ?
	`, rec.Title, rec.Subtype, rec.Status, rec.Path, rec.Updated, rec.ID)
	if err != nil {
		return fmt.Errorf("store: update record %s: %w", rec.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: update record %s: %w", rec.ID, apperr.ErrNotFound)
	}
	return nil
}

// DeleteRecord removes a record row. Derived rows (fts, tags, edges) are the
// caller's responsibility.
func DeleteRecord(q DBTX, id string) error {
	if _, err := q.Exec(`DELETE FROM records WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete record %s: %w", id, err)
	}
	return nil
}

// GetRecord fetches one record by id.
func GetRecord(q DBTX, id string) (*models.Record, error) {
	return scanRecord(q.QueryRow(`
		SELECT id, title, record_type, subtype, status, path, created, updated, link_degree
		FROM records WHERE id = ?
	`, id))
}

// GetRecordByPath fetches one record by file path.
func GetRecordByPath(q DBTX, path string) (*models.Record, error) {
	return scanRecord(q.QueryRow(`
		SELECT id, title, record_type, subtype, status, path, created, updated, link_degree
		FROM records WHERE path = ?
	`, path))
}

func scanRecord(row *sql.Row) (*models.Record, error) {
	var rec models.Record
	var typ string
	err := row.Scan(&rec.ID, &rec.Title, &typ, &rec.Subtype, &rec.Status, &rec.Path, &rec.Created, &rec.Updated, &rec.LinkDegree)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan record: %w", err)
	}
	rec.Type = models.RecordType(typ)
	return &rec, nil
}

// AllRecords returns every record ordered by id.
func AllRecords(q DBTX) ([]models.Record, error) {
	rows, err := q.Query(`
		SELECT id, title, record_type, subtype, status, path, created, updated, link_degree
		FROM records ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("store: all records: %w", err)
	}
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		var rec models.Record
		var typ string
		if err := rows.Scan(&rec.ID, &rec.Title, &typ, &rec.Subtype, &rec.Status, &rec.Path, &rec.Created, &rec.Updated, &rec.LinkDegree); err != nil {
			return nil, err
		}
		rec.Type = models.RecordType(typ)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SetLinkDegree materializes a record's graph degree.
func SetLinkDegree(q DBTX, id string, degree int) error {
	if _, err := q.Exec(`UPDATE records SET link_degree = ? WHERE id = ?`, degree, id); err != nil {
		return fmt.Errorf("store: set link degree %s: %w", id, err)
	}
	return nil
}

// MaterializeDegrees rewrites every record's link_degree from the edges
// table in one statement.
func MaterializeDegrees(q DBTX) error {
	_, err := q.Exec(`
		UPDATE records SET link_degree = (
			SELECT COUNT(*) FROM edges e
			WHERE e.source_id = records.id OR e.target_id = records.id
		)
	`)
	if err != nil {
		return fmt.Errorf("store: materialize degrees: %w", err)
	}
	return nil
}

// TouchUpdated bumps a record's updated timestamp.
func TouchUpdated(q DBTX, id string, at time.Time) error {
	if _, err := q.Exec(`UPDATE records SET updated = ? WHERE id = ?`, at, id); err != nil {
		return fmt.Errorf("store: touch record %s: %w", id, err)
	}
	return nil
}
