// Package parser converts between raw Markdown files and their structured
// form: YAML frontmatter, body, link targets, and tags.
package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	wikilinkRe = regexp.MustCompile(`\[\[(.*?)\]\]`)
	tagRe      = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
)

// canonicalOrder is the frontmatter key order Render emits. Keys not listed
// here follow in alphabetical order.
var canonicalOrder = []string{"id", "title", "type", "subtype", "status", "tags", "links", "created", "updated"}

// Result holds the output of parsing one content file.
type Result struct {
	Frontmatter map[string]any
	Body        string

	ID      string
	Title   string
	Type    string
	Subtype string
	Status  string
	Tags    []string

	// FrontLinks are targets declared in the frontmatter "links" list;
	// BodyLinks are [[wikilink]] targets found in the body.
	FrontLinks []string
	BodyLinks  []string
}

// Parse extracts frontmatter and body from raw Markdown bytes. A file without
// a frontmatter block, or with invalid YAML in it, is an error: every garden
// file must carry at least an id.
func Parse(data []byte) (*Result, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Frontmatter: fm,
		Body:        body,
		ID:          stringField(fm, "id"),
		Title:       stringField(fm, "title"),
		Type:        stringField(fm, "type"),
		Subtype:     stringField(fm, "subtype"),
		Status:      stringField(fm, "status"),
		Tags:        extractTags(body, fm),
		FrontLinks:  stringList(fm, "links"),
		BodyLinks:   ExtractWikilinks(body),
	}
	return res, nil
}

// Render produces canonical file content: frontmatter keys in canonical
// order, then the body. Parse(Render(fm, body)) round-trips.
func Render(fm map[string]any, body string) ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range orderedKeys(fm) {
		var kn, vn yaml.Node
		kn.SetString(k)
		if err := vn.Encode(fm[k]); err != nil {
			return nil, fmt.Errorf("parser: encode frontmatter key %q: %w", k, err)
		}
		root.Content = append(root.Content, &kn, &vn)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("parser: marshal frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("parser: close encoder: %w", err)
	}
	buf.WriteString("---\n")
	if body != "" {
		buf.WriteString("\n")
		buf.WriteString(body)
		if !strings.HasSuffix(body, "\n") {
			buf.WriteString("\n")
		}
	}
	return buf.Bytes(), nil
}

// orderedKeys returns fm's keys: canonical keys first (in canonical order),
// then the rest alphabetically.
func orderedKeys(fm map[string]any) []string {
	var out []string
	seen := make(map[string]struct{}, len(fm))
	for _, k := range canonicalOrder {
		if _, ok := fm[k]; ok {
			out = append(out, k)
			seen[k] = struct{}{}
		}
	}
	var rest []string
	for k := range fm {
		if _, ok := seen[k]; !ok {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// splitFrontmatter separates the YAML block between leading --- delimiters
// from the Markdown body.
func splitFrontmatter(data []byte) (map[string]any, string, error) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, "", fmt.Errorf("parser: missing frontmatter block")
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, "", fmt.Errorf("parser: unterminated frontmatter block")
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]any
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		return nil, "", fmt.Errorf("parser: invalid frontmatter: %w", err)
	}
	if fm == nil {
		fm = map[string]any{}
	}
	return fm, body, nil
}

func stringField(fm map[string]any, key string) string {
	if v, ok := fm[key]; ok {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func stringList(fm map[string]any, key string) []string {
	raw, ok := fm[key]
	if !ok {
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	seen := make(map[string]struct{}, len(items))
	var out []string
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// ExtractWikilinks returns deduplicated [[wikilink]] targets, normalising
// [[target|alias]] to target.
func ExtractWikilinks(body string) []string {
	matches := wikilinkRe.FindAllStringSubmatch(body, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		target := m[1]
		if i := strings.Index(target, "|"); i >= 0 {
			target = target[:i]
		}
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		if _, dup := seen[target]; dup {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}

// extractTags collects tags from the frontmatter "tags" list and inline
// #tags in the body.
func extractTags(body string, fm map[string]any) []string {
	seen := make(map[string]struct{})
	var out []string

	for _, t := range stringList(fm, "tags") {
		if _, dup := seen[t]; !dup {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}

	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		t := m[1]
		if _, dup := seen[t]; !dup {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
