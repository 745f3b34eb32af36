package vault

import (
	"path"
	"sort"
	"strings"

	"github.com/starford/berkano/internal/models"
)

// typeDirs maps a record type to its directory under the garden root.
var typeDirs = map[models.RecordType]string{
	models.TypeNote:      "notes",
	models.TypeTask:      "tasks",
	models.TypeReference: "references",
}

// ResolvePath returns the canonical relative path for a record. An optional
// topic becomes a subdirectory: notes/gardening/note-0001.md.
func ResolvePath(t models.RecordType, id, topic string) string {
	dir := typeDirs[t]
	if topic != "" {
		return path.Join(dir, topic, id+".md")
	}
	return path.Join(dir, id+".md")
}

// TypeDir returns the directory a record type's files live under.
func TypeDir(t models.RecordType) string { return typeDirs[t] }

// FindContentFiles lists every .md file in the garden, sorted by path.
// When t is non-empty only that type's directory is walked.
func FindContentFiles(f *FS, t models.RecordType) ([]string, error) {
	dir := ""
	if t != "" {
		dir = typeDirs[t]
	}
	infos, err := f.List(dir)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(infos))
	for _, info := range infos {
		out = append(out, info.Path)
	}
	sort.Strings(out)
	return out, nil
}

// PathType infers the record type from a relative path, or "" when the path
// is outside any known type directory.
func PathType(p string) models.RecordType {
	for t, dir := range typeDirs {
		if strings.HasPrefix(p, dir+"/") {
			return t
		}
	}
	return ""
}
