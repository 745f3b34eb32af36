package reconcile

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/berkano/internal/models"
	"github.com/starford/berkano/internal/parser"
	"github.com/starford/berkano/internal/store"
	"github.com/starford/berkano/internal/vault"
)

// checkConsistency compares every record against its backing file and flags
// files that have no record at all. Missing files and id disagreements are
// errors; title/status drift is index lag, a warning.
func (e *Engine) checkConsistency() ([]Finding, error) {
	records, err := store.AllRecords(e.db.Conn())
	if err != nil {
		return nil, err
	}
	paths, err := vault.FindContentFiles(e.files, "")
	if err != nil {
		return nil, err
	}
	onDisk := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		onDisk[p] = struct{}{}
	}

	var findings []Finding
	recorded := make(map[string]struct{}, len(records))
	for _, rec := range records {
		recorded[rec.Path] = struct{}{}

		if _, ok := onDisk[rec.Path]; !ok {
			findings = append(findings, Finding{
				Category: CategoryConsistency, Severity: SeverityError,
				RecordID: rec.ID, Path: rec.Path,
				Message: "backing file is missing",
			})
			continue
		}

		data, err := e.files.Read(rec.Path)
		if err != nil {
			findings = append(findings, Finding{
				Category: CategoryConsistency, Severity: SeverityError,
				RecordID: rec.ID, Path: rec.Path,
				Message: fmt.Sprintf("backing file unreadable: %v", err),
			})
			continue
		}
		res, err := parser.Parse(data)
		if err != nil {
			findings = append(findings, Finding{
				Category: CategoryConsistency, Severity: SeverityError,
				RecordID: rec.ID, Path: rec.Path,
				Message: fmt.Sprintf("backing file unparseable: %v", err),
			})
			continue
		}

		switch {
		case res.ID == "":
			findings = append(findings, Finding{
				Category: CategoryConsistency, Severity: SeverityError,
				RecordID: rec.ID, Path: rec.Path,
				Message: "backing file has no id",
			})
		case res.ID != rec.ID:
			findings = append(findings, Finding{
				Category: CategoryConsistency, Severity: SeverityError,
				RecordID: rec.ID, Path: rec.Path,
				Message: fmt.Sprintf("id mismatch: file says %s", res.ID),
			})
		}
		if res.Title != rec.Title {
			findings = append(findings, Finding{
				Category: CategoryConsistency, Severity: SeverityWarning,
				RecordID: rec.ID, Path: rec.Path,
				Message: fmt.Sprintf("title drift: file says %q", res.Title),
			})
		}
		if res.Status != "" && res.Status != rec.Status {
			findings = append(findings, Finding{
				Category: CategoryConsistency, Severity: SeverityWarning,
				RecordID: rec.ID, Path: rec.Path,
				Message: fmt.Sprintf("status drift: file says %q", res.Status),
			})
		}
	}

	for _, p := range paths {
		if _, ok := recorded[p]; !ok {
			findings = append(findings, Finding{
				Category: CategoryConsistency, Severity: SeverityError,
				Path:    p,
				Message: "file has no matching record",
			})
		}
	}
	return findings, nil
}

// checkIntegrity flags dangling edge endpoints, orphan tag memberships, and
// records missing their full-text row.
func (e *Engine) checkIntegrity() ([]Finding, error) {
	var findings []Finding

	dangling, err := store.DanglingEdges(e.db.Conn())
	if err != nil {
		return nil, err
	}
	for _, d := range dangling {
		side := "target"
		missing := d.TargetID
		if d.MissingSource {
			side = "source"
			missing = d.SourceID
		}
		findings = append(findings, Finding{
			Category: CategoryIntegrity, Severity: SeverityError,
			RecordID: missing,
			Message:  fmt.Sprintf("edge %s->%s (%s): %s record does not exist", d.SourceID, d.TargetID, d.EdgeType, side),
		})
	}

	orphans, err := store.OrphanTagMemberships(e.db.Conn())
	if err != nil {
		return nil, err
	}
	for _, m := range orphans {
		findings = append(findings, Finding{
			Category: CategoryIntegrity, Severity: SeverityError,
			RecordID: m.RecordID,
			Message:  fmt.Sprintf("tag membership %q references a missing record", m.Tag),
		})
	}

	missingFTS, err := store.RecordsMissingFTS(e.db.Conn())
	if err != nil {
		return nil, err
	}
	for _, id := range missingFTS {
		findings = append(findings, Finding{
			Category: CategoryIntegrity, Severity: SeverityError,
			RecordID: id,
			Message:  "record has no full-text row",
		})
	}
	return findings, nil
}

// checkGraph flags self-referencing edges and zero-degree records. The
// latter are warnings: unconnected records are candidates for the external
// link-suggestion collaborator, not defects.
func (e *Engine) checkGraph() ([]Finding, error) {
	var findings []Finding

	selfEdges, err := store.SelfEdges(e.db.Conn())
	if err != nil {
		return nil, err
	}
	for _, id := range selfEdges {
		findings = append(findings, Finding{
			Category: CategoryGraph, Severity: SeverityError,
			RecordID: id,
			Message:  "record has a self-referencing edge",
		})
	}

	g, err := e.coord.Graph()
	if err != nil {
		return nil, err
	}
	for _, id := range g.ZeroDegree() {
		findings = append(findings, Finding{
			Category: CategoryGraph, Severity: SeverityWarning,
			RecordID: id,
			Message:  "record has no links in either direction",
		})
	}
	return findings, nil
}

// checkStructure validates id format, status legality (unioned across
// registered sub-lifecycles), and tag form.
func (e *Engine) checkStructure() ([]Finding, error) {
	records, err := store.AllRecords(e.db.Conn())
	if err != nil {
		return nil, err
	}

	var findings []Finding
	for _, rec := range records {
		if err := validation.Validate(rec.ID,
			validation.Required,
			validation.Match(models.IDPattern(rec.Type)),
		); err != nil {
			findings = append(findings, Finding{
				Category: CategoryStructure, Severity: SeverityError,
				RecordID: rec.ID,
				Message:  fmt.Sprintf("id does not match the %s format", rec.Type),
			})
		}

		statuses := models.LegalStatuses(rec.Type, rec.Subtype)
		legal := make([]any, len(statuses))
		for i, s := range statuses {
			legal[i] = s
		}
		if err := validation.Validate(rec.Status,
			validation.Required,
			validation.In(legal...),
		); err != nil {
			findings = append(findings, Finding{
				Category: CategoryStructure, Severity: SeverityError,
				RecordID: rec.ID,
				Message:  fmt.Sprintf("status %q is not legal for type %s", rec.Status, rec.Type),
			})
		}
	}

	memberships, err := store.AllTagMemberships(e.db.Conn())
	if err != nil {
		return nil, err
	}
	for _, m := range memberships {
		if !models.WellFormedTag(m.Tag) {
			findings = append(findings, Finding{
				Category: CategoryStructure, Severity: SeverityWarning,
				RecordID: m.RecordID,
				Message:  fmt.Sprintf("tag %q is not in domain/scope form", m.Tag),
			})
		}
	}
	return findings, nil
}

// lowMaturity reports whether a record sits at the start of its lifecycle.
func lowMaturity(rec models.Record) bool {
	switch rec.Type {
	case models.TypeNote:
		return rec.Status == "seedling" || rec.Status == "budding"
	case models.TypeReference:
		return rec.Status == "unread"
	}
	return false
}

// checkHealth emits purely advisory, threshold-driven signals. It can never
// produce an error.
func (e *Engine) checkHealth() ([]Finding, error) {
	records, err := store.AllRecords(e.db.Conn())
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-e.health.StaleAfter)
	var findings []Finding
	for _, rec := range records {
		if lowMaturity(rec) && rec.Updated.Before(cutoff) {
			findings = append(findings, Finding{
				Category: CategoryHealth, Severity: SeverityWarning,
				RecordID: rec.ID,
				Message:  fmt.Sprintf("%s untouched since %s; consider tending or composting", rec.Status, rec.Updated.Format("2006-01-02")),
			})
		}
		if rec.Type == models.TypeNote && lowMaturity(rec) && rec.LinkDegree >= e.health.PromoteDegree {
			findings = append(findings, Finding{
				Category: CategoryHealth, Severity: SeverityWarning,
				RecordID: rec.ID,
				Message:  fmt.Sprintf("well linked (degree %d) but still %s; promotion candidate", rec.LinkDegree, rec.Status),
			})
		}
	}
	return findings, nil
}
