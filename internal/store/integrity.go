package store

import "fmt"

// DanglingEdge is an edge with at least one endpoint that no longer
// references an existing record.
type DanglingEdge struct {
	SourceID      string
	TargetID      string
	EdgeType      string
	MissingSource bool
	MissingTarget bool
}

// DanglingEdges returns every edge whose source or target record is gone.
func DanglingEdges(q DBTX) ([]DanglingEdge, error) {
	rows, err := q.Query(`
		SELECT e.source_id, e.target_id, e.edge_type, s.id IS NULL, t.id IS NULL
		FROM edges e
		LEFT JOIN records s ON s.id = e.source_id
		LEFT JOIN records t ON t.id = e.target_id
		WHERE s.id IS NULL OR t.id IS NULL
		ORDER BY e.source_id, e.target_id
	`)
	if err != nil {
		return nil, fmt.Errorf("store: dangling edges: %w", err)
	}
	defer rows.Close()

	var out []DanglingEdge
	for rows.Next() {
		var d DanglingEdge
		if err := rows.Scan(&d.SourceID, &d.TargetID, &d.EdgeType, &d.MissingSource, &d.MissingTarget); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteDanglingEdges removes every edge with a missing endpoint.
func DeleteDanglingEdges(q DBTX) (int64, error) {
	res, err := q.Exec(`
		DELETE FROM edges WHERE
			source_id NOT IN (SELECT id FROM records) OR
			target_id NOT IN (SELECT id FROM records)
	`)
	if err != nil {
		return 0, fmt.Errorf("store: delete dangling edges: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// SelfEdges returns the source ids of edges that reference themselves.
func SelfEdges(q DBTX) ([]string, error) {
	rows, err := q.Query(`SELECT DISTINCT source_id FROM edges WHERE source_id = target_id ORDER BY source_id`)
	if err != nil {
		return nil, fmt.Errorf("store: self edges: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// DeleteSelfEdges removes self-referencing edges.
func DeleteSelfEdges(q DBTX) (int64, error) {
	res, err := q.Exec(`DELETE FROM edges WHERE source_id = target_id`)
	if err != nil {
		return 0, fmt.Errorf("store: delete self edges: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// OrphanMembership is a tag membership whose record no longer exists.
type OrphanMembership struct {
	RecordID string
	Tag      string
}

// OrphanTagMemberships returns memberships pointing at missing records.
func OrphanTagMemberships(q DBTX) ([]OrphanMembership, error) {
	rows, err := q.Query(`
		SELECT rt.record_id, rt.tag
		FROM record_tags rt
		LEFT JOIN records r ON r.id = rt.record_id
		WHERE r.id IS NULL
		ORDER BY rt.record_id, rt.tag
	`)
	if err != nil {
		return nil, fmt.Errorf("store: orphan memberships: %w", err)
	}
	defer rows.Close()

	var out []OrphanMembership
	for rows.Next() {
		var m OrphanMembership
		if err := rows.Scan(&m.RecordID, &m.Tag); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteOrphanTagMemberships removes memberships pointing at missing records.
func DeleteOrphanTagMemberships(q DBTX) (int64, error) {
	res, err := q.Exec(`DELETE FROM record_tags WHERE record_id NOT IN (SELECT id FROM records)`)
	if err != nil {
		return 0, fmt.Errorf("store: delete orphan memberships: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RecordsMissingFTS returns ids of records without their full-text row.
func RecordsMissingFTS(q DBTX) ([]string, error) {
	rows, err := q.Query(`
		SELECT r.id FROM records r
		WHERE NOT EXISTS (SELECT 1 FROM records_fts f WHERE f.id = r.id)
		ORDER BY r.id
	`)
	if err != nil {
		return nil, fmt.Errorf("store: records missing fts: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
