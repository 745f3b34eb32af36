package store

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/starford/berkano/internal/apperr"
	"github.com/starford/berkano/internal/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	f, err := os.CreateTemp("", "berkano-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() {
		os.Remove(f.Name())
		os.Remove(f.Name() + "-wal")
		os.Remove(f.Name() + "-shm")
	})

	s, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(id string, t models.RecordType, path string) models.Record {
	now := time.Now().UTC()
	return models.Record{
		ID:      id,
		Title:   "Title " + id,
		Type:    t,
		Status:  models.DefaultStatus(t),
		Path:    path,
		Created: now,
		Updated: now,
	}
}

func TestSchemaCreation(t *testing.T) {
	s := testStore(t)
	for _, table := range []string{"records", "edges", "tags", "record_tags", "counters", "wal_events", "records_fts"} {
		var count int
		if err := s.Conn().QueryRow(`SELECT count(*) FROM ` + table).Scan(&count); err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestRecordCRUD(t *testing.T) {
	s := testStore(t)
	rec := testRecord("note-0001", models.TypeNote, "notes/note-0001.md")

	if err := InsertRecord(s.Conn(), rec); err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	got, err := GetRecord(s.Conn(), "note-0001")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got.Title != rec.Title || got.Status != "seedling" {
		t.Errorf("got %+v", got)
	}

	byPath, err := GetRecordByPath(s.Conn(), "notes/note-0001.md")
	if err != nil || byPath.ID != "note-0001" {
		t.Errorf("GetRecordByPath = %+v, %v", byPath, err)
	}

	rec.Title = "Renamed"
	rec.Status = "budding"
	if err := UpdateRecord(s.Conn(), rec); err != nil {
		t.Fatalf("UpdateRecord: %v", err)
	}
	got, _ = GetRecord(s.Conn(), "note-0001")
	if got.Title != "Renamed" || got.Status != "budding" {
		t.Errorf("after update: %+v", got)
	}

	if err := DeleteRecord(s.Conn(), "note-0001"); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	if _, err := GetRecord(s.Conn(), "note-0001"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateMissingRecord(t *testing.T) {
	s := testStore(t)
	err := UpdateRecord(s.Conn(), testRecord("note-9999", models.TypeNote, "notes/note-9999.md"))
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestNextIDMonotonic(t *testing.T) {
	s := testStore(t)

	id1, err := NextID(s.Conn(), models.TypeNote)
	if err != nil {
		t.Fatalf("NextID: %v", err)
	}
	if id1 != "note-0001" {
		t.Errorf("first id = %q", id1)
	}
	id2, _ := NextID(s.Conn(), models.TypeNote)
	if id2 != "note-0002" {
		t.Errorf("second id = %q", id2)
	}

	// Counters are per type.
	tid, _ := NextID(s.Conn(), models.TypeTask)
	if tid != "task-0001" {
		t.Errorf("task id = %q", tid)
	}

	// Deleting records never frees ids: the counter only moves forward.
	_ = InsertRecord(s.Conn(), testRecord(id2, models.TypeNote, "notes/note-0002.md"))
	_ = DeleteRecord(s.Conn(), id2)
	id3, _ := NextID(s.Conn(), models.TypeNote)
	if id3 != "note-0003" {
		t.Errorf("id after delete = %q, want note-0003", id3)
	}
}

func TestEdgesAndDegrees(t *testing.T) {
	s := testStore(t)
	_ = InsertRecord(s.Conn(), testRecord("note-0001", models.TypeNote, "notes/note-0001.md"))
	_ = InsertRecord(s.Conn(), testRecord("note-0002", models.TypeNote, "notes/note-0002.md"))

	e := models.Edge{SourceID: "note-0001", TargetID: "note-0002", EdgeType: "link", Weight: 1, SourceLayer: models.LayerBody, Created: time.Now().UTC()}
	if err := InsertEdge(s.Conn(), e); err != nil {
		t.Fatalf("InsertEdge: %v", err)
	}
	// Duplicate insert is ignored.
	if err := InsertEdge(s.Conn(), e); err != nil {
		t.Fatalf("duplicate InsertEdge: %v", err)
	}
	edges, err := AllEdges(s.Conn())
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 1 {
		t.Fatalf("edges = %d, want 1", len(edges))
	}

	if err := MaterializeDegrees(s.Conn()); err != nil {
		t.Fatalf("MaterializeDegrees: %v", err)
	}
	src, _ := GetRecord(s.Conn(), "note-0001")
	dst, _ := GetRecord(s.Conn(), "note-0002")
	if src.LinkDegree != 1 || dst.LinkDegree != 1 {
		t.Errorf("degrees = %d/%d, want 1/1", src.LinkDegree, dst.LinkDegree)
	}

	if err := DeleteEdgesTouching(s.Conn(), "note-0002"); err != nil {
		t.Fatal(err)
	}
	edges, _ = AllEdges(s.Conn())
	if len(edges) != 0 {
		t.Errorf("edges after delete = %d", len(edges))
	}
}

func TestTagMemberships(t *testing.T) {
	s := testStore(t)
	_ = InsertRecord(s.Conn(), testRecord("note-0001", models.TypeNote, "notes/note-0001.md"))

	if err := SetTagMemberships(s.Conn(), "note-0001", []string{"garden/soil", "garden/water"}); err != nil {
		t.Fatalf("SetTagMemberships: %v", err)
	}
	tags, err := TagsFor(s.Conn(), "note-0001")
	if err != nil {
		t.Fatal(err)
	}
	if len(tags) != 2 {
		t.Fatalf("tags = %v", tags)
	}

	// Replacing memberships drops the old set but keeps the tag registry.
	if err := SetTagMemberships(s.Conn(), "note-0001", []string{"garden/soil"}); err != nil {
		t.Fatal(err)
	}
	tags, _ = TagsFor(s.Conn(), "note-0001")
	if len(tags) != 1 || tags[0] != "garden/soil" {
		t.Errorf("tags = %v", tags)
	}
	var registered int
	if err := s.Conn().QueryRow(`SELECT count(*) FROM tags`).Scan(&registered); err != nil {
		t.Fatal(err)
	}
	if registered != 2 {
		t.Errorf("tag registry = %d, want 2 (registry survives membership changes)", registered)
	}
}

func TestIntegrityQueries(t *testing.T) {
	s := testStore(t)
	_ = InsertRecord(s.Conn(), testRecord("note-0001", models.TypeNote, "notes/note-0001.md"))

	now := time.Now().UTC()
	// Dangling edge: target does not exist.
	_ = InsertEdge(s.Conn(), models.Edge{SourceID: "note-0001", TargetID: "note-0404", EdgeType: "link", Weight: 1, SourceLayer: models.LayerBody, Created: now})
	// Self edge.
	_ = InsertEdge(s.Conn(), models.Edge{SourceID: "note-0001", TargetID: "note-0001", EdgeType: "link", Weight: 1, SourceLayer: models.LayerBody, Created: now})
	// Orphan tag membership.
	if _, err := s.Conn().Exec(`INSERT INTO record_tags (record_id, tag) VALUES ('note-0404', 'garden/soil')`); err != nil {
		t.Fatal(err)
	}

	dangling, err := DanglingEdges(s.Conn())
	if err != nil {
		t.Fatal(err)
	}
	if len(dangling) != 1 {
		t.Errorf("dangling = %v", dangling)
	}
	selfs, err := SelfEdges(s.Conn())
	if err != nil {
		t.Fatal(err)
	}
	if len(selfs) != 1 || selfs[0] != "note-0001" {
		t.Errorf("selfs = %v", selfs)
	}
	orphans, err := OrphanTagMemberships(s.Conn())
	if err != nil {
		t.Fatal(err)
	}
	if len(orphans) != 1 {
		t.Errorf("orphans = %v", orphans)
	}
	missing, err := RecordsMissingFTS(s.Conn())
	if err != nil {
		t.Fatal(err)
	}
	if len(missing) != 1 || missing[0] != "note-0001" {
		t.Errorf("missing fts = %v", missing)
	}

	if n, err := DeleteDanglingEdges(s.Conn()); err != nil || n != 1 {
		t.Errorf("DeleteDanglingEdges = %d, %v", n, err)
	}
	if n, err := DeleteSelfEdges(s.Conn()); err != nil || n != 1 {
		t.Errorf("DeleteSelfEdges = %d, %v", n, err)
	}
	if n, err := DeleteOrphanTagMemberships(s.Conn()); err != nil || n != 1 {
		t.Errorf("DeleteOrphanTagMemberships = %d, %v", n, err)
	}
}

func TestSearch(t *testing.T) {
	s := testStore(t)
	_ = InsertRecord(s.Conn(), testRecord("note-0001", models.TypeNote, "notes/note-0001.md"))
	if err := FTSUpsert(s.Conn(), "note-0001", "Soil acidity", "Notes on compost and acidity."); err != nil {
		t.Fatalf("FTSUpsert: %v", err)
	}

	hits, err := s.Search("acidity", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "note-0001" {
		t.Fatalf("hits = %v", hits)
	}

	if err := FTSDelete(s.Conn(), "note-0001"); err != nil {
		t.Fatal(err)
	}
	hits, _ = s.Search("acidity", 10)
	if len(hits) != 0 {
		t.Errorf("hits after delete = %v", hits)
	}
}

func TestWALEventLifecycle(t *testing.T) {
	s := testStore(t)

	id, err := InsertEvent(s.Conn(), "record.created", []byte(`{"id":"note-0001"}`), "sess-1")
	if err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}
	ev, err := GetEvent(s.Conn(), id)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Status != EventPending || ev.SessionID != "sess-1" {
		t.Errorf("event = %+v", ev)
	}

	if err := MarkEventCompleted(s.Conn(), id); err != nil {
		t.Fatal(err)
	}
	ev, _ = GetEvent(s.Conn(), id)
	if ev.Status != EventCompleted || ev.Completed == nil {
		t.Errorf("completed event = %+v", ev)
	}
}

func TestWALFailureTransitions(t *testing.T) {
	s := testStore(t)
	id, _ := InsertEvent(s.Conn(), "record.updated", []byte(`{}`), "")

	const maxRetries = 3
	for i := 1; i < maxRetries; i++ {
		if err := MarkEventFailed(s.Conn(), id, "boom", maxRetries); err != nil {
			t.Fatal(err)
		}
		ev, _ := GetEvent(s.Conn(), id)
		if ev.Status != EventFailed || ev.Retries != i || ev.Completed != nil {
			t.Fatalf("attempt %d: %+v", i, ev)
		}
	}

	// The final attempt crosses the retry budget: dead_letter, terminal.
	if err := MarkEventFailed(s.Conn(), id, "boom", maxRetries); err != nil {
		t.Fatal(err)
	}
	ev, _ := GetEvent(s.Conn(), id)
	if ev.Status != EventDeadLetter || ev.Retries != maxRetries || ev.Completed == nil {
		t.Errorf("dead letter event = %+v", ev)
	}

	retryable, err := RetryableEvents(s.Conn())
	if err != nil {
		t.Fatal(err)
	}
	if len(retryable) != 0 {
		t.Errorf("dead_letter rows must not be retryable: %v", retryable)
	}
}

func TestRetryableEventsOrder(t *testing.T) {
	s := testStore(t)
	a, _ := InsertEvent(s.Conn(), "h", []byte(`{}`), "")
	b, _ := InsertEvent(s.Conn(), "h", []byte(`{}`), "")
	c, _ := InsertEvent(s.Conn(), "h", []byte(`{}`), "")
	_ = MarkEventCompleted(s.Conn(), b)

	rows, err := RetryableEvents(s.Conn())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].ID != a || rows[1].ID != c {
		t.Errorf("rows = %+v", rows)
	}
}
