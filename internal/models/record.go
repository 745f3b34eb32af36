// Package models defines the domain types for Berkano: records, edges, and
// the per-type id formats and status lifecycles they must obey.
package models

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

// RecordType enumerates the kinds of content the garden holds.
type RecordType string

const (
	TypeNote      RecordType = "note"
	TypeTask      RecordType = "task"
	TypeReference RecordType = "reference"
)

// Types lists every known record type in a stable order.
func Types() []RecordType {
	return []RecordType{TypeNote, TypeTask, TypeReference}
}

// Record is the relational index row for one content file. The file at Path
// is the source of truth; the row is a derived projection of it.
type Record struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Type       RecordType `json:"type"`
	Subtype    string     `json:"subtype,omitempty"`
	Status     string     `json:"status"`
	Path       string     `json:"path"`
	Created    time.Time  `json:"created"`
	Updated    time.Time  `json:"updated"`
	LinkDegree int        `json:"link_degree"`
}

// Edge is a directed relation between two records, derived from file content.
type Edge struct {
	SourceID    string    `json:"source_id"`
	TargetID    string    `json:"target_id"`
	EdgeType    string    `json:"edge_type"`
	Weight      float64   `json:"weight"`
	SourceLayer string    `json:"source_layer"`
	Created     time.Time `json:"created"`
}

// Edge source layers.
const (
	LayerFrontmatter = "frontmatter"
	LayerBody        = "body"
)

// idPrefixes maps record types to the prefix used in generated ids.
var idPrefixes = map[RecordType]string{
	TypeNote:      "note",
	TypeTask:      "task",
	TypeReference: "ref",
}

var idPatterns = map[RecordType]*regexp.Regexp{
	TypeNote:      regexp.MustCompile(`^note-\d{4}$`),
	TypeTask:      regexp.MustCompile(`^task-\d{4}$`),
	TypeReference: regexp.MustCompile(`^ref-\d{4}$`),
}

// baseLifecycles are the built-in legal statuses per type.
var baseLifecycles = map[RecordType][]string{
	TypeNote:      {"seedling", "budding", "evergreen"},
	TypeTask:      {"todo", "doing", "blocked", "done"},
	TypeReference: {"unread", "reading", "absorbed"},
}

// FormatID renders a counter value as a canonical id for the given type.
func FormatID(t RecordType, n int64) string {
	return fmt.Sprintf("%s-%04d", idPrefixes[t], n)
}

// ValidID reports whether id matches the canonical format for its type.
func ValidID(t RecordType, id string) bool {
	re, ok := idPatterns[t]
	return ok && re.MatchString(id)
}

// IDPattern returns the regular expression an id of the given type must match.
func IDPattern(t RecordType) *regexp.Regexp {
	return idPatterns[t]
}

// ParseType returns the RecordType for s, or an error for unknown types.
func ParseType(s string) (RecordType, error) {
	t := RecordType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := idPrefixes[t]; !ok {
		return "", fmt.Errorf("models: unknown record type %q", s)
	}
	return t, nil
}

// subKey identifies a registered sub-lifecycle.
type subKey struct {
	t       RecordType
	subtype string
}

var (
	subMu         sync.RWMutex
	subLifecycles = map[subKey][]string{}
)

// RegisterLifecycle adds extra legal statuses for records of the given type
// and subtype. Status legality is the union of the base lifecycle and every
// registered sub-lifecycle matching the record.
func RegisterLifecycle(t RecordType, subtype string, statuses []string) {
	subMu.Lock()
	defer subMu.Unlock()
	key := subKey{t: t, subtype: subtype}
	subLifecycles[key] = append(subLifecycles[key], statuses...)
}

// LegalStatuses returns every status legal for a record of the given type and
// subtype.
func LegalStatuses(t RecordType, subtype string) []string {
	out := append([]string(nil), baseLifecycles[t]...)
	subMu.RLock()
	defer subMu.RUnlock()
	out = append(out, subLifecycles[subKey{t: t, subtype: subtype}]...)
	if subtype != "" {
		out = append(out, subLifecycles[subKey{t: t, subtype: ""}]...)
	}
	return out
}

// ValidStatus reports whether status is legal for the given type and subtype.
func ValidStatus(t RecordType, subtype, status string) bool {
	for _, s := range LegalStatuses(t, subtype) {
		if s == status {
			return true
		}
	}
	return false
}

// DefaultStatus returns the initial status for a newly created record.
func DefaultStatus(t RecordType) string {
	ls := baseLifecycles[t]
	if len(ls) == 0 {
		return ""
	}
	return ls[0]
}

// WellFormedTag reports whether a tag follows the two-part "domain/scope"
// form, e.g. "lang/go". Anything else is tolerated but flagged as a warning
// by structural validation.
func WellFormedTag(tag string) bool {
	parts := strings.Split(tag, "/")
	return len(parts) == 2 && parts[0] != "" && parts[1] != ""
}
