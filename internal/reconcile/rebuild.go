package reconcile

import (
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

// RebuildReport is the data payload of a rebuild operation.
type RebuildReport struct {
	Records      int `json:"records"`
	Edges        int `json:"edges"`
	FilesSkipped int `json:"files_skipped"`
}

// parsedFile pairs a garden path with its parsed content during a rebuild.
type parsedFile struct {
	path string
	id   string
	res  *parser.Result
}

// Rebuild drops every derived table except the id counters and the tag-name
// registry and re-derives everything from the files in two passes: records,
// full-text rows, and tag memberships first, then edges once every record
// exists. A file that cannot be parsed is skipped with a warning; it never
// aborts the run.
func (e *Engine) Rebuild(ctx context.Context) result.Result {
	const op = "rebuild"

	if _, err := e.backups.Create(); err != nil {
		return result.Fail(op, apperr.Op(apperr.CodeBackupFailed, err))
	}

	var rep RebuildReport
	var warnings []string

	err := e.coord.Run(ctx, func(s *txn.Scope) error {
		tx := s.Tx()

		// Raw clears: counters and the tag registry are not re-derivable
		// from files and stay.
		for _, stmt := range []string{
			`DELETE FROM records`,
			`DELETE FROM edges`,
			`DELETE FROM record_tags`,
			`DELETE FROM records_fts`,
		} {
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("reconcile: clear derived table: %w", err)
			}
		}

		paths, err := vault.FindContentFiles(e.files, "")
		if err != nil {
			return err
		}

		// Pass 1: every record, full-text row, and tag membership.
		now := time.Now().UTC()
		seen := make(map[string]string, len(paths)) // id -> path
		var entries []parsedFile
		for _, p := range paths {
			pf, warn := e.parseForRebuild(p, seen)
			if warn != "" {
				warnings = append(warnings, warn)
				rep.FilesSkipped++
				continue
			}
			rec, warn := recordFromFile(pf, now)
			if warn != "" {
				warnings = append(warnings, warn)
				rep.FilesSkipped++
				continue
			}
			seen[pf.id] = p
			entries = append(entries, pf)

			if err := store.InsertRecord(tx, rec); err != nil {
				return err
			}
			if err := store.FTSUpsert(tx, rec.ID, rec.Title, pf.res.Body); err != nil {
				return err
			}
			if err := store.SetTagMemberships(tx, rec.ID, pf.res.Tags); err != nil {
				return err
			}
			rep.Records++
		}

		// Pass 2: edges, now that every endpoint exists.
		exists := func(id string) bool { _, ok := seen[id]; return ok }
		for _, pf := range entries {
			edges, skipped := deriveEdges(pf.id, pf.res, exists, now)
			for _, msg := range skipped {
				warnings = append(warnings, fmt.Sprintf("%s: %s", pf.path, msg))
			}
			for _, edge := range edges {
				if err := store.InsertEdge(tx, edge); err != nil {
					return err
				}
				rep.Edges++
			}
		}

		return store.MaterializeDegrees(tx)
	})
	if err != nil {
		return result.Fail(op, apperr.Op(apperr.CodeRebuildFailed, err))
	}
	return result.OK(op, rep, warnings)
}

// parseForRebuild reads and parses one file, returning a warning string
// instead of an error for anything that should skip the file.
func (e *Engine) parseForRebuild(path string, seen map[string]string) (parsedFile, string) {
	data, err := e.files.Read(path)
	if err != nil {
		return parsedFile{}, fmt.Sprintf("%s: unreadable: %v", path, err)
	}
	res, err := parser.Parse(data)
	if err != nil {
		return parsedFile{}, fmt.Sprintf("%s: %v", path, err)
	}
	if res.ID == "" {
		return parsedFile{}, fmt.Sprintf("%s: file has no id", path)
	}
	if prior, dup := seen[res.ID]; dup {
		return parsedFile{}, fmt.Sprintf("%s: duplicate id %s (already used by %s)", path, res.ID, prior)
	}
	return parsedFile{path: path, id: res.ID, res: res}, ""
}

// recordFromFile builds the index row for one parsed file.
func recordFromFile(pf parsedFile, now time.Time) (models.Record, string) {
	t, err := models.ParseType(pf.res.Type)
	if err != nil {
		if t = vault.PathType(pf.path); t == "" {
			return models.Record{}, fmt.Sprintf("%s: cannot determine record type", pf.path)
		}
	}
	status := pf.res.Status
	if status == "" {
		status = models.DefaultStatus(t)
	}
	return models.Record{
		ID:      pf.id,
		Title:   pf.res.Title,
		Type:    t,
		Subtype: pf.res.Subtype,
		Status:  status,
		Path:    pf.path,
		Created: now,
		Updated: now,
	}, ""
}

// deriveEdges builds a record's outgoing edges from its parsed content. A
// target linked in both layers yields one edge, attributed to the frontmatter.
// Links to unknown records and self-links are skipped and reported.
func deriveEdges(id string, res *parser.Result, exists func(string) bool, now time.Time) ([]models.Edge, []string) {
	var edges []models.Edge
	var skipped []string

	seen := make(map[string]struct{})
	add := func(target, layer string) {
		if _, dup := seen[target]; dup {
			return
		}
		seen[target] = struct{}{}
		if target == id {
			skipped = append(skipped, fmt.Sprintf("self link %s ignored", target))
			return
		}
		if !exists(target) {
			skipped = append(skipped, fmt.Sprintf("link target %s does not exist", target))
			return
		}
		edges = append(edges, models.Edge{
			SourceID:    id,
			TargetID:    target,
			EdgeType:    "link",
			Weight:      1.0,
			SourceLayer: layer,
			Created:     now,
		})
	}

	for _, t := range res.FrontLinks {
		add(t, models.LayerFrontmatter)
	}
	for _, t := range res.BodyLinks {
		add(t, models.LayerBody)
	}
	return edges, skipped
}
