package store

import (
	"fmt"

	"github.com/starford/berkano/internal/models"
)

// InsertEdge inserts a directed edge, ignoring exact duplicates.
func InsertEdge(q DBTX, e models.Edge) error {
	_, err := q.Exec(`
		INSERT OR IGNORE INTO edges (source_id, target_id, edge_type, weight, source_layer, created)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.SourceID, e.TargetID, e.EdgeType, e.Weight, e.SourceLayer, e.Created)
	if err != nil {
		return fmt.Errorf("store: insert edge %s->%s: %w", e.SourceID, e.TargetID, err)
	}
	return nil
}

// DeleteEdgesFrom removes every edge originating at the given record.
func DeleteEdgesFrom(q DBTX, sourceID string) error {
	if _, err := q.Exec(`DELETE FROM edges WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("store: delete edges from %s: %w", sourceID, err)
	}
	return nil
}

// DeleteEdgesTouching removes every edge with the record on either side.
func DeleteEdgesTouching(q DBTX, id string) error {
	if _, err := q.Exec(`DELETE FROM edges WHERE source_id = ? OR target_id = ?`, id, id); err != nil {
		return fmt.Errorf("store: delete edges touching %s: %w", id, err)
	}
	return nil
}

// AllEdges returns every edge ordered by source then target.
func AllEdges(q DBTX) ([]models.Edge, error) {
	rows, err := q.Query(`
		SELECT source_id, target_id, edge_type, weight, source_layer, created
		FROM edges ORDER BY source_id, target_id, edge_type
	`)
	if err != nil {
		return nil, fmt.Errorf("store: all edges: %w", err)
	}
	defer rows.Close()

	var out []models.Edge
	for rows.Next() {
		var e models.Edge
		if err := rows.Scan(&e.SourceID, &e.TargetID, &e.EdgeType, &e.Weight, &e.SourceLayer, &e.Created); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
