package store

import (
	"fmt"

	"github.com/starford/berkano/internal/models"
)

// NextID allocates the next id for a record type from its counter and
// returns it in canonical form. Counters survive a rebuild so ids are never
// reissued.
func NextID(q DBTX, t models.RecordType) (string, error) {
	var n int64
	err := q.QueryRow(`
		INSERT INTO counters (record_type, next) VALUES (?, 2)
		ON CONFLICT(record_type) DO UPDATE SET next = next + 1
		RETURNING next - 1
	`, string(t)).Scan(&n)
	if err != nil {
		return "", fmt.Errorf("store: next id for %s: %w", t, err)
	}
	return models.FormatID(t, n), nil
}
