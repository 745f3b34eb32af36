package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/berkano/internal/apperr"
)

// WAL event statuses. dead_letter is terminal.
const (
	EventPending    = "pending"
	EventCompleted  = "completed"
	EventFailed     = "failed"
	EventDeadLetter = "dead_letter"
)

// WALEvent is a durable intent to notify plugins, persisted before the
// notification is attempted.
type WALEvent struct {
	ID        int64      `json:"id"`
	Hook      string     `json:"hook_name"`
	Payload   []byte     `json:"payload"`
	Status    string     `json:"status"`
	Error     string     `json:"error,omitempty"`
	Retries   int        `json:"retries"`
	SessionID string     `json:"session_id,omitempty"`
	Created   time.Time  `json:"created"`
	Completed *time.Time `json:"completed,omitempty"`
}

// InsertEvent persists a pending WAL row and returns its id. This always
// happens before the hook is executed.
func InsertEvent(q DBTX, hook string, payload []byte, sessionID string) (int64, error) {
	res, err := q.Exec(`
		INSERT INTO wal_events (hook_name, payload, status, session_id, created)
		VALUES (?, ?, ?, ?, ?)
	`, hook, string(payload), EventPending, nullable(sessionID), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("store: insert wal event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: wal event id: %w", err)
	}
	return id, nil
}

// MarkEventCompleted transitions a row to completed.
func MarkEventCompleted(q DBTX, id int64) error {
	_, err := q.Exec(`
		UPDATE wal_events SET status = ?, completed = ? WHERE id = ?
	`, EventCompleted, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("store: complete wal event %d: %w", id, err)
	}
	return nil
}

// MarkEventFailed records one failed attempt in a single statement: the
// retry counter, error text, and (when the retry budget is exhausted) the
// dead_letter transition all land atomically, so concurrent executors cannot
// lose an update.
func MarkEventFailed(q DBTX, id int64, errMsg string, maxRetries int) error {
	now := time.Now().UTC()
	_, err := q.Exec(`
		UPDATE wal_events SET
			retries   = retries + 1,
			error     = ?,
			status    = CASE WHEN retries + 1 >= ? THEN ? ELSE ? END,
			completed = CASE WHEN retries + 1 >= ? THEN ? ELSE completed END
		WHERE id = ?
	`, errMsg, maxRetries, EventDeadLetter, EventFailed, maxRetries, now, id)
	if err != nil {
		return fmt.Errorf("store: fail wal event %d: %w", id, err)
	}
	return nil
}

// GetEvent fetches one WAL row.
func GetEvent(q DBTX, id int64) (*WALEvent, error) {
	row := q.QueryRow(`
		SELECT id, hook_name, payload, status, COALESCE(error, ''), retries,
		       COALESCE(session_id, ''), created, completed
		FROM wal_events WHERE id = ?
	`, id)
	ev, err := scanEvent(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	return ev, err
}

// RetryableEvents returns every pending or failed row, ascending by id.
// dead_letter rows are permanently excluded: they require external
// intervention.
func RetryableEvents(q DBTX) ([]WALEvent, error) {
	rows, err := q.Query(`
		SELECT id, hook_name, payload, status, COALESCE(error, ''), retries,
		       COALESCE(session_id, ''), created, completed
		FROM wal_events
		WHERE status IN (?, ?)
		ORDER BY id ASC
	`, EventPending, EventFailed)
	if err != nil {
		return nil, fmt.Errorf("store: retryable events: %w", err)
	}
	defer rows.Close()

	var out []WALEvent
	for rows.Next() {
		ev, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

// ListEvents returns the most recent WAL rows, newest first.
func ListEvents(q DBTX, limit int) ([]WALEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.Query(`
		SELECT id, hook_name, payload, status, COALESCE(error, ''), retries,
		       COALESCE(session_id, ''), created, completed
		FROM wal_events ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	defer rows.Close()

	var out []WALEvent
	for rows.Next() {
		ev, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

func scanEvent(scan func(...any) error) (*WALEvent, error) {
	var ev WALEvent
	var payload string
	var completed sql.NullTime
	err := scan(&ev.ID, &ev.Hook, &payload, &ev.Status, &ev.Error, &ev.Retries, &ev.SessionID, &ev.Created, &completed)
	if err != nil {
		return nil, err
	}
	ev.Payload = []byte(payload)
	if completed.Valid {
		t := completed.Time
		ev.Completed = &t
	}
	return &ev, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
