package reconcile

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/starford/berkano/internal/apperr"
	"github.com/starford/berkano/internal/models"
	"github.com/starford/berkano/internal/parser"
	"github.com/starford/berkano/internal/result"
	"github.com/starford/berkano/internal/store"
	"github.com/starford/berkano/internal/txn"
	"github.com/starford/berkano/internal/vault"
)

// Repair levels.
const (
	LevelSafe       = "safe"
	LevelAggressive = "aggressive"
)

// FixReport is the data payload of a fix operation.
type FixReport struct {
	Level             string `json:"level"`
	OrphanRowsRemoved int    `json:"orphan_rows_removed"`
	FilesAdopted      int    `json:"files_adopted"`
	DanglingEdges     int64  `json:"dangling_edges_removed"`
	SelfEdges         int64  `json:"self_edges_removed"`
	OrphanMemberships int64  `json:"orphan_memberships_removed"`
	FTSRowsRestored   int    `json:"fts_rows_restored"`
	EdgesRederived    int    `json:"edges_rederived"`
	FilesRewritten    int    `json:"files_rewritten"`
}

// Fix backs up the store, then runs a fixed repair sequence in one
// coordinated transaction. The safe level removes dangling state and
// reinserts missing derived rows; aggressive additionally re-derives every
// edge from the files and rewrites every file's frontmatter key order.
func (e *Engine) Fix(ctx context.Context, level string) result.Result {
	const op = "fix"

	if level != LevelSafe && level != LevelAggressive {
		return result.Fail(op, fmt.Errorf("reconcile: unknown fix level %q", level))
	}

	if _, err := e.backups.Create(); err != nil {
		return result.Fail(op, apperr.Op(apperr.CodeBackupFailed, err))
	}

	rep := FixReport{Level: level}
	var warnings []string

	err := e.coord.Run(ctx, func(s *txn.Scope) error {
		tx := s.Tx()

		// 1. Records whose backing file is gone take their derived rows
		// with them.
		records, err := store.AllRecords(tx)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if e.files.Exists(rec.Path) {
				continue
			}
			if err := dropRecordState(tx, rec.ID); err != nil {
				return err
			}
			rep.OrphanRowsRemoved++
		}

		// 2. Files with no record are adopted: the file is the source of
		// truth, so the row is the missing derived state.
		adopted, warns, err := e.adoptOrphanFiles(tx)
		if err != nil {
			return err
		}
		warnings = append(warnings, warns...)
		rep.FilesAdopted = adopted

		// 3-5. Dangling state.
		if rep.DanglingEdges, err = store.DeleteDanglingEdges(tx); err != nil {
			return err
		}
		if rep.SelfEdges, err = store.DeleteSelfEdges(tx); err != nil {
			return err
		}
		if rep.OrphanMemberships, err = store.DeleteOrphanTagMemberships(tx); err != nil {
			return err
		}

		// 6. Missing full-text rows.
		restored, warns, err := e.restoreFTSRows(tx)
		if err != nil {
			return err
		}
		warnings = append(warnings, warns...)
		rep.FTSRowsRestored = restored

		if level == LevelAggressive {
			rederived, warns, err := e.rederiveEdges(tx)
			if err != nil {
				return err
			}
			warnings = append(warnings, warns...)
			rep.EdgesRederived = rederived

			rewritten, warns, err := e.rewriteFiles(s)
			if err != nil {
				return err
			}
			warnings = append(warnings, warns...)
			rep.FilesRewritten = rewritten
		}

		return store.MaterializeDegrees(tx)
	})
	if err != nil {
		return result.Fail(op, apperr.Op(apperr.CodeFixFailed, err))
	}
	return result.OK(op, rep, warnings)
}

// dropRecordState removes a record row and everything derived alongside it.
func dropRecordState(tx store.DBTX, id string) error {
	if err := store.FTSDelete(tx, id); err != nil {
		return err
	}
	if err := store.DeleteTagMemberships(tx, id); err != nil {
		return err
	}
	if err := store.DeleteEdgesTouching(tx, id); err != nil {
		return err
	}
	return store.DeleteRecord(tx, id)
}

// adoptOrphanFiles inserts records for files the index does not know about.
// A file that cannot be adopted (unparseable, no id, id conflict) becomes a
// warning, never an abort.
func (e *Engine) adoptOrphanFiles(tx store.DBTX) (int, []string, error) {
	paths, err := vault.FindContentFiles(e.files, "")
	if err != nil {
		return 0, nil, err
	}

	now := time.Now().UTC()
	adopted := 0
	var adoptedFiles []parsedFile
	var warnings []string
	for _, p := range paths {
		if _, err := store.GetRecordByPath(tx, p); err == nil {
			continue
		}

		data, err := e.files.Read(p)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: unreadable: %v", p, err))
			continue
		}
		res, err := parser.Parse(data)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", p, err))
			continue
		}
		if res.ID == "" {
			warnings = append(warnings, fmt.Sprintf("%s: file has no id, cannot adopt", p))
			continue
		}
		if _, err := store.GetRecord(tx, res.ID); err == nil {
			warnings = append(warnings, fmt.Sprintf("%s: id %s already belongs to another record", p, res.ID))
			continue
		}

		pf := parsedFile{path: p, id: res.ID, res: res}
		rec, warn := recordFromFile(pf, now)
		if warn != "" {
			warnings = append(warnings, warn)
			continue
		}
		if err := store.InsertRecord(tx, rec); err != nil {
			return adopted, warnings, err
		}
		if err := store.FTSUpsert(tx, rec.ID, rec.Title, res.Body); err != nil {
			return adopted, warnings, err
		}
		if err := store.SetTagMemberships(tx, rec.ID, res.Tags); err != nil {
			return adopted, warnings, err
		}
		adoptedFiles = append(adoptedFiles, pf)
		adopted++
	}

	// Outgoing edges for adopted files, now that their rows exist.
	exists := func(id string) bool {
		_, err := store.GetRecord(tx, id)
		return err == nil
	}
	for _, pf := range adoptedFiles {
		edges, _ := deriveEdges(pf.id, pf.res, exists, now)
		for _, edge := range edges {
			if err := store.InsertEdge(tx, edge); err != nil {
				return adopted, warnings, err
			}
		}
	}
	return adopted, warnings, nil
}

// restoreFTSRows reinserts the full-text row for any record missing one,
// using the backing file's body when it is readable.
func (e *Engine) restoreFTSRows(tx store.DBTX) (int, []string, error) {
	missing, err := store.RecordsMissingFTS(tx)
	if err != nil {
		return 0, nil, err
	}

	restored := 0
	var warnings []string
	for _, id := range missing {
		rec, err := store.GetRecord(tx, id)
		if err != nil {
			return restored, warnings, err
		}
		body := ""
		if data, err := e.files.Read(rec.Path); err == nil {
			if res, err := parser.Parse(data); err == nil {
				body = res.Body
			} else {
				warnings = append(warnings, fmt.Sprintf("%s: full-text row restored without body: %v", rec.Path, err))
			}
		}
		if err := store.FTSUpsert(tx, rec.ID, rec.Title, body); err != nil {
			return restored, warnings, err
		}
		restored++
	}
	return restored, warnings, nil
}

// rederiveEdges throws away every edge and rebuilds them all from the files.
func (e *Engine) rederiveEdges(tx store.DBTX) (int, []string, error) {
	if _, err := tx.Exec(`DELETE FROM edges`); err != nil {
		return 0, nil, fmt.Errorf("reconcile: clear edges: %w", err)
	}

	records, err := store.AllRecords(tx)
	if err != nil {
		return 0, nil, err
	}
	byID := make(map[string]models.Record, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}
	exists := func(id string) bool { _, ok := byID[id]; return ok }

	now := time.Now().UTC()
	count := 0
	var warnings []string
	for _, rec := range records {
		data, err := e.files.Read(rec.Path)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: unreadable, edges not re-derived: %v", rec.Path, err))
			continue
		}
		res, err := parser.Parse(data)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", rec.Path, err))
			continue
		}
		edges, skipped := deriveEdges(rec.ID, res, exists, now)
		for _, msg := range skipped {
			warnings = append(warnings, fmt.Sprintf("%s: %s", rec.Path, msg))
		}
		for _, edge := range edges {
			if err := store.InsertEdge(tx, edge); err != nil {
				return count, warnings, err
			}
			count++
		}
	}
	return count, warnings, nil
}

// rewriteFiles renders every record's file back through the canonical
// frontmatter key order. Writes go through the scope so they are reversed if
// the transaction fails. Files already canonical are left alone.
func (e *Engine) rewriteFiles(s *txn.Scope) (int, []string, error) {
	records, err := store.AllRecords(s.Tx())
	if err != nil {
		return 0, nil, err
	}

	rewritten := 0
	var warnings []string
	for _, rec := range records {
		data, err := s.ReadFile(rec.Path)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: unreadable, not rewritten: %v", rec.Path, err))
			continue
		}
		res, err := parser.Parse(data)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", rec.Path, err))
			continue
		}
		canonical, err := parser.Render(res.Frontmatter, res.Body)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: render failed: %v", rec.Path, err))
			continue
		}
		if bytes.Equal(data, canonical) {
			continue
		}
		if err := s.WriteFile(rec.Path, canonical); err != nil {
			return rewritten, warnings, err
		}
		rewritten++
	}
	return rewritten, warnings, nil
}
