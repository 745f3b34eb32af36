package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/berkano/internal/graph"
	"github.com/starford/berkano/internal/models"
	"github.com/starford/berkano/internal/store"
	"github.com/starford/berkano/internal/testutil"
	"github.com/starford/berkano/internal/txn"
	"github.com/starford/berkano/internal/vault"
)

type testEnv struct {
	dir     string
	files   *vault.FS
	db      *store.Store
	coord   *txn.Coordinator
	backups *Backups
	engine  *Engine
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	dir, files := testutil.TestGarden(t)
	db := testutil.TestStore(t)
	logger := testutil.Logger()
	coord := txn.New(db, files, graph.NewCache(db), logger)
	backups := NewBackups(db, filepath.Join(t.TempDir(), "backups"), "berkano", 5, logger)
	engine := New(coord, db, files, backups, HealthConfig{}, logger)
	return &testEnv{dir: dir, files: files, db: db, coord: coord, backups: backups, engine: engine}
}

// seedRecord creates a fully consistent record: file, row, full-text row, and
// outgoing edges for each link (targets must already exist).
func seedRecord(t *testing.T, env *testEnv, id, title string, links []string) {
	t.Helper()
	now := time.Now().UTC()
	err := env.coord.Run(context.Background(), func(s *txn.Scope) error {
		path := vault.ResolvePath(models.TypeNote, id, "")
		fm := map[string]any{"id": id, "title": title, "type": "note", "status": "seedling"}
		if len(links) > 0 {
			anyLinks := make([]any, len(links))
			for i, l := range links {
				anyLinks[i] = l
			}
			fm["links"] = anyLinks
		}
		body := "Body of " + id + ".\n"
		if err := s.WriteContent(path, fm, body); err != nil {
			return err
		}
		rec := models.Record{
			ID: id, Title: title, Type: models.TypeNote, Status: "seedling",
			Path: path, Created: now, Updated: now,
		}
		if err := store.InsertRecord(s.Tx(), rec); err != nil {
			return err
		}
		if err := store.FTSUpsert(s.Tx(), id, title, body); err != nil {
			return err
		}
		for _, l := range links {
			edge := models.Edge{SourceID: id, TargetID: l, EdgeType: "link", Weight: 1, SourceLayer: models.LayerFrontmatter, Created: now}
			if err := store.InsertEdge(s.Tx(), edge); err != nil {
				return err
			}
		}
		return store.MaterializeDegrees(s.Tx())
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func checkReport(t *testing.T, env *testEnv) CheckReport {
	t.Helper()
	res := env.engine.Check(context.Background())
	if !res.OK {
		t.Fatalf("Check failed: %s", res.Error)
	}
	rep, ok := res.Data.(CheckReport)
	if !ok {
		t.Fatalf("Check data = %T", res.Data)
	}
	return rep
}

func findingWith(rep CheckReport, cat Category, sev Severity) *Finding {
	for i, f := range rep.Findings {
		if f.Category == cat && f.Severity == sev {
			return &rep.Findings[i]
		}
	}
	return nil
}

func TestCheckCleanGarden(t *testing.T) {
	env := newEnv(t)
	seedRecord(t, env, "note-0002", "Target", nil)
	seedRecord(t, env, "note-0001", "Source", []string{"note-0002"})

	rep := checkReport(t, env)
	if rep.Errors != 0 || rep.Warnings != 0 {
		t.Errorf("clean garden: %d errors, %d warnings: %+v", rep.Errors, rep.Warnings, rep.Findings)
	}
}

func TestCheckDetectsMissingFile(t *testing.T) {
	env := newEnv(t)
	seedRecord(t, env, "note-0001", "Doomed", nil)
	if err := os.Remove(filepath.Join(env.dir, "notes", "note-0001.md")); err != nil {
		t.Fatal(err)
	}

	rep := checkReport(t, env)
	f := findingWith(rep, CategoryConsistency, SeverityError)
	if f == nil || f.RecordID != "note-0001" {
		t.Errorf("missing-file finding not reported: %+v", rep.Findings)
	}
}

func TestCheckDetectsOrphanFile(t *testing.T) {
	env := newEnv(t)
	testutil.WriteFile(t, env.dir, "notes/note-0042.md", []byte("---\nid: note-0042\ntitle: Stray\ntype: note\nstatus: seedling\n---\n\nStray body.\n"))

	rep := checkReport(t, env)
	f := findingWith(rep, CategoryConsistency, SeverityError)
	if f == nil || f.Path != "notes/note-0042.md" {
		t.Errorf("orphan-file finding not reported: %+v", rep.Findings)
	}
}

func TestCheckDetectsDrift(t *testing.T) {
	env := newEnv(t)
	seedRecord(t, env, "note-0001", "Original", nil)
	testutil.WriteFile(t, env.dir, "notes/note-0001.md", []byte("---\nid: note-0001\ntitle: Edited Elsewhere\ntype: note\nstatus: budding\n---\n\nBody.\n"))

	rep := checkReport(t, env)
	if rep.Errors != 0 {
		t.Errorf("drift is index lag, not an error: %+v", rep.Findings)
	}
	// Title and status drift are two separate warnings.
	count := 0
	for _, f := range rep.Findings {
		if f.Category == CategoryConsistency && f.Severity == SeverityWarning {
			count++
		}
	}
	if count != 2 {
		t.Errorf("drift warnings = %d, want 2: %+v", count, rep.Findings)
	}
}

func TestCheckDetectsIntegrityViolations(t *testing.T) {
	env := newEnv(t)
	seedRecord(t, env, "note-0001", "Holder", nil)

	now := time.Now().UTC()
	_ = store.InsertEdge(env.db.Conn(), models.Edge{SourceID: "note-0001", TargetID: "note-0404", EdgeType: "link", Weight: 1, SourceLayer: models.LayerBody, Created: now})
	_ = store.InsertEdge(env.db.Conn(), models.Edge{SourceID: "note-0001", TargetID: "note-0001", EdgeType: "link", Weight: 1, SourceLayer: models.LayerBody, Created: now})
	if _, err := env.db.Conn().Exec(`INSERT INTO record_tags (record_id, tag) VALUES ('note-0404', 'garden/soil')`); err != nil {
		t.Fatal(err)
	}
	_ = store.FTSDelete(env.db.Conn(), "note-0001")

	rep := checkReport(t, env)
	if findingWith(rep, CategoryIntegrity, SeverityError) == nil {
		t.Errorf("integrity errors not reported: %+v", rep.Findings)
	}
	if findingWith(rep, CategoryGraph, SeverityError) == nil {
		t.Errorf("self-edge error not reported: %+v", rep.Findings)
	}
}

func TestCheckDetectsIllegalStatus(t *testing.T) {
	env := newEnv(t)
	seedRecord(t, env, "note-0001", "X", nil)
	if _, err := env.db.Conn().Exec(`UPDATE records SET status = 'done' WHERE id = 'note-0001'`); err != nil {
		t.Fatal(err)
	}

	rep := checkReport(t, env)
	if findingWith(rep, CategoryStructure, SeverityError) == nil {
		t.Errorf("illegal status not reported: %+v", rep.Findings)
	}
}

func TestCheckIsIdempotent(t *testing.T) {
	env := newEnv(t)
	seedRecord(t, env, "note-0001", "Lonely", nil)
	testutil.WriteFile(t, env.dir, "notes/note-0042.md", []byte("no frontmatter"))

	first := checkReport(t, env)
	second := checkReport(t, env)
	if first.Errors != second.Errors || first.Warnings != second.Warnings {
		t.Errorf("check mutated state: %+v vs %+v", first, second)
	}
}

func TestFixSafeRepairs(t *testing.T) {
	env := newEnv(t)
	seedRecord(t, env, "note-0001", "Doomed", nil)
	seedRecord(t, env, "note-0002", "Survivor", nil)

	// Record without a file.
	if err := os.Remove(filepath.Join(env.dir, "notes", "note-0001.md")); err != nil {
		t.Fatal(err)
	}
	// File without a record.
	testutil.WriteFile(t, env.dir, "notes/note-0099.md", []byte("---\nid: note-0099\ntitle: Stray\ntype: note\nstatus: seedling\n---\n\nStray body.\n"))
	// Dangling edge, self edge, orphan membership, missing full-text row.
	now := time.Now().UTC()
	_ = store.InsertEdge(env.db.Conn(), models.Edge{SourceID: "note-0002", TargetID: "note-0404", EdgeType: "link", Weight: 1, SourceLayer: models.LayerBody, Created: now})
	_ = store.InsertEdge(env.db.Conn(), models.Edge{SourceID: "note-0002", TargetID: "note-0002", EdgeType: "link", Weight: 1, SourceLayer: models.LayerBody, Created: now})
	if _, err := env.db.Conn().Exec(`INSERT INTO record_tags (record_id, tag) VALUES ('note-0404', 'garden/soil')`); err != nil {
		t.Fatal(err)
	}
	_ = store.FTSDelete(env.db.Conn(), "note-0002")

	res := env.engine.Fix(context.Background(), LevelSafe)
	if !res.OK {
		t.Fatalf("Fix: %s", res.Error)
	}
	rep := res.Data.(FixReport)
	if rep.OrphanRowsRemoved != 1 {
		t.Errorf("OrphanRowsRemoved = %d", rep.OrphanRowsRemoved)
	}
	if rep.FilesAdopted != 1 {
		t.Errorf("FilesAdopted = %d", rep.FilesAdopted)
	}
	if rep.DanglingEdges != 1 {
		t.Errorf("DanglingEdges = %d", rep.DanglingEdges)
	}
	if rep.SelfEdges != 1 {
		t.Errorf("SelfEdges = %d", rep.SelfEdges)
	}
	if rep.OrphanMemberships != 1 {
		t.Errorf("OrphanMemberships = %d", rep.OrphanMemberships)
	}
	if rep.FTSRowsRestored != 1 {
		t.Errorf("FTSRowsRestored = %d", rep.FTSRowsRestored)
	}

	// Everything structural is clean afterwards; remaining findings can only
	// be advisory warnings.
	after := checkReport(t, env)
	if after.Errors != 0 {
		t.Errorf("errors after fix: %+v", after.Findings)
	}

	// The adopted file has a live record.
	if _, err := store.GetRecord(env.db.Conn(), "note-0099"); err != nil {
		t.Errorf("adopted record missing: %v", err)
	}
}

func TestFixUnknownLevel(t *testing.T) {
	env := newEnv(t)
	res := env.engine.Fix(context.Background(), "heroic")
	if res.OK {
		t.Fatal("unknown level must fail")
	}
}

func TestFixCreatesBackupFirst(t *testing.T) {
	env := newEnv(t)
	seedRecord(t, env, "note-0001", "X", nil)

	if _, err := env.backups.Latest(); err == nil {
		t.Fatal("precondition: no backups yet")
	}
	res := env.engine.Fix(context.Background(), LevelSafe)
	if !res.OK {
		t.Fatal(res.Error)
	}
	if _, err := env.backups.Latest(); err != nil {
		t.Errorf("fix must create a backup: %v", err)
	}
}

func TestFixAggressiveRewritesNonCanonicalFiles(t *testing.T) {
	env := newEnv(t)
	seedRecord(t, env, "note-0001", "Canon", nil)

	// Same content, scrambled key order.
	testutil.WriteFile(t, env.dir, "notes/note-0001.md", []byte("---\ntitle: Canon\nstatus: seedling\nid: note-0001\ntype: note\n---\n\nBody of note-0001.\n"))

	res := env.engine.Fix(context.Background(), LevelAggressive)
	if !res.OK {
		t.Fatalf("Fix: %s", res.Error)
	}
	rep := res.Data.(FixReport)
	if rep.FilesRewritten != 1 {
		t.Errorf("FilesRewritten = %d", rep.FilesRewritten)
	}

	data, err := env.files.Read("notes/note-0001.md")
	if err != nil {
		t.Fatal(err)
	}
	want := "---\nid: note-0001\n"
	if string(data[:len(want)]) != want {
		t.Errorf("file not canonicalized:\n%s", data)
	}

	// A second aggressive pass rewrites nothing: rewriting is idempotent.
	res = env.engine.Fix(context.Background(), LevelAggressive)
	if !res.OK {
		t.Fatal(res.Error)
	}
	if rep := res.Data.(FixReport); rep.FilesRewritten != 0 {
		t.Errorf("second pass rewrote %d files", rep.FilesRewritten)
	}
}

func TestRebuildFromFiles(t *testing.T) {
	env := newEnv(t)
	testutil.WriteFile(t, env.dir, "notes/note-0001.md", []byte("---\nid: note-0001\ntitle: One\ntype: note\nstatus: seedling\nlinks:\n  - note-0002\n---\n\nSee [[note-0002]].\n"))
	testutil.WriteFile(t, env.dir, "notes/note-0002.md", []byte("---\nid: note-0002\ntitle: Two\ntype: note\nstatus: budding\n---\n\nBody.\n"))
	testutil.WriteFile(t, env.dir, "notes/broken.md", []byte("no frontmatter here"))

	res := env.engine.Rebuild(context.Background())
	if !res.OK {
		t.Fatalf("Rebuild: %s", res.Error)
	}
	rep := res.Data.(RebuildReport)
	if rep.Records != 2 {
		t.Errorf("Records = %d", rep.Records)
	}
	// Frontmatter link and body wikilink collapse into one edge.
	if rep.Edges != 1 {
		t.Errorf("Edges = %d", rep.Edges)
	}
	if rep.FilesSkipped != 1 {
		t.Errorf("FilesSkipped = %d", rep.FilesSkipped)
	}
	if len(res.Warnings) == 0 {
		t.Error("skipped file should produce a warning")
	}

	rec, err := store.GetRecord(env.db.Conn(), "note-0001")
	if err != nil {
		t.Fatal(err)
	}
	if rec.LinkDegree != 1 {
		t.Errorf("degree = %d", rec.LinkDegree)
	}

	// Rebuild is idempotent.
	res = env.engine.Rebuild(context.Background())
	if !res.OK {
		t.Fatal(res.Error)
	}
	if rep := res.Data.(RebuildReport); rep.Records != 2 || rep.Edges != 1 {
		t.Errorf("second rebuild: %+v", rep)
	}
}

func TestRebuildSkipsDuplicateIDs(t *testing.T) {
	env := newEnv(t)
	testutil.WriteFile(t, env.dir, "notes/note-0001.md", []byte("---\nid: note-0001\ntitle: First\ntype: note\nstatus: seedling\n---\n\nA.\n"))
	testutil.WriteFile(t, env.dir, "notes/note-0001-copy.md", []byte("---\nid: note-0001\ntitle: Impostor\ntype: note\nstatus: seedling\n---\n\nB.\n"))

	res := env.engine.Rebuild(context.Background())
	if !res.OK {
		t.Fatal(res.Error)
	}
	rep := res.Data.(RebuildReport)
	if rep.Records != 1 || rep.FilesSkipped != 1 {
		t.Errorf("rebuild with duplicate ids: %+v", rep)
	}
}

func TestRebuildPreservesCounters(t *testing.T) {
	env := newEnv(t)
	id, err := store.NextID(env.db.Conn(), models.TypeNote)
	if err != nil {
		t.Fatal(err)
	}
	if id != "note-0001" {
		t.Fatalf("id = %q", id)
	}

	res := env.engine.Rebuild(context.Background())
	if !res.OK {
		t.Fatal(res.Error)
	}

	id, _ = store.NextID(env.db.Conn(), models.TypeNote)
	if id != "note-0002" {
		t.Errorf("counter reset by rebuild: %q", id)
	}
}

func TestBackupRetention(t *testing.T) {
	env := newEnv(t)
	b := NewBackups(env.db, filepath.Join(t.TempDir(), "b"), "berkano", 2, testutil.Logger())

	for i := 0; i < 5; i++ {
		if _, err := b.Create(); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	names, err := b.list()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 {
		t.Errorf("retained = %d, want 2: %v", len(names), names)
	}
}

func TestBackupLatest(t *testing.T) {
	env := newEnv(t)
	b := NewBackups(env.db, filepath.Join(t.TempDir(), "b"), "berkano", 5, testutil.Logger())

	first, err := b.Create()
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	second, err := b.Create()
	if err != nil {
		t.Fatal(err)
	}

	latest, err := b.Latest()
	if err != nil {
		t.Fatal(err)
	}
	if latest != second || latest == first {
		t.Errorf("Latest = %q, want %q", latest, second)
	}
}

func TestRollbackRestoresStore(t *testing.T) {
	env := newEnv(t)
	seedRecord(t, env, "note-0001", "Before", nil)

	if _, err := env.backups.Create(); err != nil {
		t.Fatal(err)
	}
	seedRecord(t, env, "note-0002", "After", nil)

	res := env.engine.Rollback(context.Background())
	if !res.OK {
		t.Fatalf("Rollback: %s", res.Error)
	}

	if _, err := store.GetRecord(env.db.Conn(), "note-0001"); err != nil {
		t.Errorf("pre-backup record lost: %v", err)
	}
	if _, err := store.GetRecord(env.db.Conn(), "note-0002"); err == nil {
		t.Error("post-backup record survived rollback")
	}

	// The graph reflects the restored state, not the cached one.
	g, err := env.coord.Graph()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := g.Nodes["note-0002"]; ok {
		t.Error("graph is stale after rollback")
	}
}

func TestRollbackWithoutBackups(t *testing.T) {
	env := newEnv(t)
	seedRecord(t, env, "note-0001", "Untouched", nil)

	res := env.engine.Rollback(context.Background())
	if res.OK {
		t.Fatal("rollback with no backups must fail")
	}

	// Nothing was mutated.
	if _, err := store.GetRecord(env.db.Conn(), "note-0001"); err != nil {
		t.Errorf("store mutated by failed rollback: %v", err)
	}
}

func TestCheckHealthFlagsStaleAndPromotable(t *testing.T) {
	env := newEnv(t)
	seedRecord(t, env, "note-0001", "Old Seedling", nil)
	if _, err := env.db.Conn().Exec(
		`UPDATE records SET updated = ? WHERE id = 'note-0001'`,
		time.Now().UTC().Add(-60*24*time.Hour),
	); err != nil {
		t.Fatal(err)
	}

	seedRecord(t, env, "note-0002", "Hub", nil)
	if _, err := env.db.Conn().Exec(`UPDATE records SET link_degree = 7 WHERE id = 'note-0002'`); err != nil {
		t.Fatal(err)
	}

	rep := checkReport(t, env)
	stale, promotable := false, false
	for _, f := range rep.Findings {
		if f.Category != CategoryHealth {
			continue
		}
		if f.Severity != SeverityWarning {
			t.Errorf("health finding must be a warning: %+v", f)
		}
		switch f.RecordID {
		case "note-0001":
			stale = true
		case "note-0002":
			promotable = true
		}
	}
	if !stale || !promotable {
		t.Errorf("health findings missing (stale=%v promotable=%v): %+v", stale, promotable, rep.Findings)
	}
}
