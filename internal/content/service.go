// Package content implements record CRUD through the sanctioned mutation
// path: every write goes through one coordinator scope (file + relational
// rows together), and plugins are notified through the WAL dispatcher after
// commit.
package content

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/berkano/internal/dispatch"
	"github.com/starford/berkano/internal/models"
	"github.com/starford/berkano/internal/parser"
	"github.com/starford/berkano/internal/store"
	"github.com/starford/berkano/internal/txn"
	"github.com/starford/berkano/internal/vault"
)

// Hook names dispatched by the service.
const (
	HookRecordCreated = "record.created"
	HookRecordUpdated = "record.updated"
	HookRecordDeleted = "record.deleted"
)

// Service coordinates record mutations.
type Service struct {
	coord  *txn.Coordinator
	disp   *dispatch.Dispatcher
	db     *store.Store
	files  *vault.FS
	logger *slog.Logger
}

// NewService creates a content service.
func NewService(coord *txn.Coordinator, disp *dispatch.Dispatcher, db *store.Store, files *vault.FS, logger *slog.Logger) *Service {
	return &Service{coord: coord, disp: disp, db: db, files: files, logger: logger}
}

// RecordDetail is a record together with its file content.
type RecordDetail struct {
	Record  models.Record `json:"record"`
	Content string        `json:"content"`
	Tags    []string      `json:"tags"`
}

// Get reads a record and its backing file. Reads are unaudited.
func (s *Service) Get(ctx context.Context, id string) (*RecordDetail, error) {
	rec, err := store.GetRecord(s.db.Conn(), id)
	if err != nil {
		return nil, err
	}
	data, err := s.files.Read(rec.Path)
	if err != nil {
		return nil, err
	}
	tags, err := store.TagsFor(s.db.Conn(), id)
	if err != nil {
		return nil, err
	}
	return &RecordDetail{Record: *rec, Content: string(data), Tags: tags}, nil
}

// CreateParams describes a new record.
type CreateParams struct {
	Type      models.RecordType
	Title     string
	Subtype   string
	Topic     string
	Status    string
	Body      string
	Tags      []string
	Links     []string
	SessionID string
}

// Create allocates an id, writes the file, and inserts the derived rows in
// one scope. The creation hook is dispatched after commit: the dispatcher
// writes the WAL table on its own connection and must not contend with the
// open scope.
func (s *Service) Create(ctx context.Context, p CreateParams) (*models.Record, error) {
	if p.Title == "" {
		return nil, fmt.Errorf("content: title is required")
	}
	status := p.Status
	if status == "" {
		status = models.DefaultStatus(p.Type)
	}
	if !models.ValidStatus(p.Type, p.Subtype, status) {
		return nil, fmt.Errorf("content: status %q is not legal for type %s", status, p.Type)
	}

	now := time.Now().UTC()
	var rec models.Record
	err := s.coord.Run(ctx, func(sc *txn.Scope) error {
		tx := sc.Tx()

		id, err := store.NextID(tx, p.Type)
		if err != nil {
			return err
		}
		path := sc.ResolvePath(p.Type, id, p.Topic)

		fm := map[string]any{
			"id":     id,
			"title":  p.Title,
			"type":   string(p.Type),
			"status": status,
		}
		if p.Subtype != "" {
			fm["subtype"] = p.Subtype
		}
		if len(p.Tags) > 0 {
			fm["tags"] = p.Tags
		}
		if len(p.Links) > 0 {
			fm["links"] = p.Links
		}
		if err := sc.WriteContent(path, fm, p.Body); err != nil {
			return err
		}

		rec = models.Record{
			ID: id, Title: p.Title, Type: p.Type, Subtype: p.Subtype,
			Status: status, Path: path, Created: now, Updated: now,
		}
		if err := store.InsertRecord(tx, rec); err != nil {
			return err
		}
		if err := store.FTSUpsert(tx, id, p.Title, p.Body); err != nil {
			return err
		}
		if err := store.SetTagMemberships(tx, id, p.Tags); err != nil {
			return err
		}
		if err := insertLinkEdges(tx, id, p.Links, parser.ExtractWikilinks(p.Body), now); err != nil {
			return err
		}
		return store.MaterializeDegrees(tx)
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, HookRecordCreated, rec, p.SessionID)
	return &rec, nil
}

// UpdateParams describes changes to an existing record. Nil fields are left
// untouched.
type UpdateParams struct {
	Title     *string
	Status    *string
	Body      *string
	Tags      *[]string
	Links     *[]string
	SessionID string
}

// Update rewrites the record's file and derived rows in one scope.
func (s *Service) Update(ctx context.Context, id string, p UpdateParams) (*models.Record, error) {
	var rec models.Record
	err := s.coord.Run(ctx, func(sc *txn.Scope) error {
		tx := sc.Tx()

		cur, err := store.GetRecord(tx, id)
		if err != nil {
			return err
		}
		res, err := sc.ReadContent(cur.Path)
		if err != nil {
			return fmt.Errorf("content: read %s: %w", cur.Path, err)
		}

		title := cur.Title
		if p.Title != nil {
			title = *p.Title
		}
		status := cur.Status
		if p.Status != nil {
			status = *p.Status
		}
		if !models.ValidStatus(cur.Type, cur.Subtype, status) {
			return fmt.Errorf("content: status %q is not legal for type %s", status, cur.Type)
		}
		body := res.Body
		if p.Body != nil {
			body = *p.Body
		}
		tags := res.Tags
		if p.Tags != nil {
			tags = *p.Tags
		}
		links := res.FrontLinks
		if p.Links != nil {
			links = *p.Links
		}

		fm := res.Frontmatter
		fm["title"] = title
		fm["status"] = status
		if len(tags) > 0 {
			fm["tags"] = tags
		} else {
			delete(fm, "tags")
		}
		if len(links) > 0 {
			fm["links"] = links
		} else {
			delete(fm, "links")
		}
		if err := sc.WriteContent(cur.Path, fm, body); err != nil {
			return err
		}

		now := time.Now().UTC()
		rec = *cur
		rec.Title = title
		rec.Status = status
		rec.Updated = now
		if err := store.UpdateRecord(tx, rec); err != nil {
			return err
		}
		if err := store.FTSUpsert(tx, id, title, body); err != nil {
			return err
		}
		if err := store.SetTagMemberships(tx, id, tags); err != nil {
			return err
		}
		if err := store.DeleteEdgesFrom(tx, id); err != nil {
			return err
		}
		if err := insertLinkEdges(tx, id, links, parser.ExtractWikilinks(body), now); err != nil {
			return err
		}
		return store.MaterializeDegrees(tx)
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, HookRecordUpdated, rec, p.SessionID)
	return &rec, nil
}

// Delete removes the file first (files are the source of truth), then drops
// the derived rows. If the row cleanup fails, fix() removes the orphan rows
// later.
func (s *Service) Delete(ctx context.Context, id, sessionID string) error {
	cur, err := store.GetRecord(s.db.Conn(), id)
	if err != nil {
		return err
	}
	rec := *cur

	if err := s.files.Delete(rec.Path); err != nil {
		return err
	}

	err = s.coord.Run(ctx, func(sc *txn.Scope) error {
		tx := sc.Tx()
		if err := store.FTSDelete(tx, id); err != nil {
			return err
		}
		if err := store.DeleteTagMemberships(tx, id); err != nil {
			return err
		}
		if err := store.DeleteEdgesTouching(tx, id); err != nil {
			return err
		}
		if err := store.DeleteRecord(tx, id); err != nil {
			return err
		}
		return store.MaterializeDegrees(tx)
	})
	if err != nil {
		return err
	}

	s.notify(ctx, HookRecordDeleted, rec, sessionID)
	return nil
}

// Reindex re-derives one file's rows after an out-of-band edit (watcher
// path). An unknown path with a valid id in the file inserts a fresh record.
func (s *Service) Reindex(ctx context.Context, path string) (*models.Record, error) {
	var rec models.Record
	err := s.coord.Run(ctx, func(sc *txn.Scope) error {
		tx := sc.Tx()

		res, err := sc.ReadContent(path)
		if err != nil {
			return err
		}
		if res.ID == "" {
			return fmt.Errorf("content: %s has no id", path)
		}

		now := time.Now().UTC()
		cur, err := store.GetRecordByPath(tx, path)
		if err == nil {
			rec = *cur
			rec.Title = res.Title
			if res.Status != "" {
				rec.Status = res.Status
			}
			rec.Subtype = res.Subtype
			rec.Updated = now
			if err := store.UpdateRecord(tx, rec); err != nil {
				return err
			}
		} else {
			pf := parsedFileRecord(path, res, now)
			if pf == nil {
				return fmt.Errorf("content: cannot determine record type for %s", path)
			}
			rec = *pf
			if err := store.InsertRecord(tx, rec); err != nil {
				return err
			}
		}

		if err := store.FTSUpsert(tx, rec.ID, rec.Title, res.Body); err != nil {
			return err
		}
		if err := store.SetTagMemberships(tx, rec.ID, res.Tags); err != nil {
			return err
		}
		if err := store.DeleteEdgesFrom(tx, rec.ID); err != nil {
			return err
		}
		if err := insertLinkEdges(tx, rec.ID, res.FrontLinks, res.BodyLinks, now); err != nil {
			return err
		}
		return store.MaterializeDegrees(tx)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// RemoveStale drops every record whose backing file is gone. Used by the
// watcher after out-of-band deletes and renames.
func (s *Service) RemoveStale(ctx context.Context) (int, error) {
	var removed []models.Record
	err := s.coord.Run(ctx, func(sc *txn.Scope) error {
		tx := sc.Tx()
		records, err := store.AllRecords(tx)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if s.files.Exists(rec.Path) {
				continue
			}
			if err := store.FTSDelete(tx, rec.ID); err != nil {
				return err
			}
			if err := store.DeleteTagMemberships(tx, rec.ID); err != nil {
				return err
			}
			if err := store.DeleteEdgesTouching(tx, rec.ID); err != nil {
				return err
			}
			if err := store.DeleteRecord(tx, rec.ID); err != nil {
				return err
			}
			removed = append(removed, rec)
		}
		if len(removed) == 0 {
			return nil
		}
		return store.MaterializeDegrees(tx)
	})
	if err != nil {
		return 0, err
	}

	for _, rec := range removed {
		s.notify(ctx, HookRecordDeleted, rec, "")
	}
	return len(removed), nil
}

// notify dispatches a lifecycle hook. Listener failures land in the WAL
// table, never here.
func (s *Service) notify(ctx context.Context, hook string, rec models.Record, sessionID string) {
	payload := map[string]string{"id": rec.ID, "path": rec.Path, "type": string(rec.Type)}
	if _, err := s.disp.Dispatch(ctx, hook, payload, sessionID); err != nil {
		s.logger.Warn("content: dispatch failed",
			slog.String("hook", hook),
			slog.String("record", rec.ID),
			slog.String("error", err.Error()))
	}
}

// insertLinkEdges inserts edges to targets that exist, skipping self-links
// and unknown ids.
func insertLinkEdges(tx store.DBTX, id string, frontLinks, bodyLinks []string, now time.Time) error {
	insert := func(target, layer string) error {
		if target == id {
			return nil
		}
		if _, err := store.GetRecord(tx, target); err != nil {
			return nil // unknown target, skipped
		}
		return store.InsertEdge(tx, models.Edge{
			SourceID: id, TargetID: target, EdgeType: "link",
			Weight: 1.0, SourceLayer: layer, Created: now,
		})
	}
	for _, t := range frontLinks {
		if err := insert(t, models.LayerFrontmatter); err != nil {
			return err
		}
	}
	for _, t := range bodyLinks {
		if err := insert(t, models.LayerBody); err != nil {
			return err
		}
	}
	return nil
}

// parsedFileRecord builds a record for a previously unindexed file.
func parsedFileRecord(path string, res *parser.Result, now time.Time) *models.Record {
	t, err := models.ParseType(res.Type)
	if err != nil {
		if t = vault.PathType(path); t == "" {
			return nil
		}
	}
	status := res.Status
	if status == "" {
		status = models.DefaultStatus(t)
	}
	return &models.Record{
		ID: res.ID, Title: res.Title, Type: t, Subtype: res.Subtype,
		Status: status, Path: path, Created: now, Updated: now,
	}
}
