package store

import "fmt"

// EnsureTag registers a tag name. The registry survives a rebuild: it may
// hold tags not currently used by any file.
func EnsureTag(q DBTX, name string) error {
	if _, err := q.Exec(`INSERT OR IGNORE INTO tags (name) VALUES (?)`, name); err != nil {
		return fmt.Errorf("store: ensure tag %q: %w", name, err)
	}
	return nil
}

// SetTagMemberships replaces a record's tag memberships, registering any new
// tag names on the way.
func SetTagMemberships(q DBTX, recordID string, tags []string) error {
	if _, err := q.Exec(`DELETE FROM record_tags WHERE record_id = ?`, recordID); err != nil {
		return fmt.Errorf("store: clear tags for %s: %w", recordID, err)
	}
	for _, tag := range tags {
		if err := EnsureTag(q, tag); err != nil {
			return err
		}
		if _, err := q.Exec(`INSERT OR IGNORE INTO record_tags (record_id, tag) VALUES (?, ?)`, recordID, tag); err != nil {
			return fmt.Errorf("store: add tag %q to %s: %w", tag, recordID, err)
		}
	}
	return nil
}

// DeleteTagMemberships removes every membership for a record.
func DeleteTagMemberships(q DBTX, recordID string) error {
	if _, err := q.Exec(`DELETE FROM record_tags WHERE record_id = ?`, recordID); err != nil {
		return fmt.Errorf("store: delete tags for %s: %w", recordID, err)
	}
	return nil
}

// Membership is one (record, tag) pair.
type Membership struct {
	RecordID string
	Tag      string
}

// AllTagMemberships returns every membership ordered by record then tag.
func AllTagMemberships(q DBTX) ([]Membership, error) {
	rows, err := q.Query(`SELECT record_id, tag FROM record_tags ORDER BY record_id, tag`)
	if err != nil {
		return nil, fmt.Errorf("store: all memberships: %w", err)
	}
	defer rows.Close()

	var out []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.RecordID, &m.Tag); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// TagsFor returns a record's tags ordered by name.
func TagsFor(q DBTX, recordID string) ([]string, error) {
	rows, err := q.Query(`SELECT tag FROM record_tags WHERE record_id = ? ORDER BY tag`, recordID)
	if err != nil {
		return nil, fmt.Errorf("store: tags for %s: %w", recordID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
