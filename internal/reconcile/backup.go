package reconcile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/starford/berkano/internal/apperr"
	"github.com/starford/berkano/internal/store"
)

// timestampLayout produces fixed-width, lexically sortable backup names.
const timestampLayout = "20060102T150405.000000000"

// Backups owns the backup directory: append and prune only.
type Backups struct {
	db     *store.Store
	dir    string
	prefix string
	max    int
	logger *slog.Logger
}

// NewBackups creates a backup manager writing to dir, keeping at most max
// copies.
func NewBackups(db *store.Store, dir, prefix string, max int, logger *slog.Logger) *Backups {
	if prefix == "" {
		prefix = "berkano"
	}
	if max <= 0 {
		max = 5
	}
	return &Backups{db: db, dir: dir, prefix: prefix, max: max, logger: logger}
}

// Create takes a point-in-time copy of the live store via VACUUM INTO and
// prunes the directory to the retention count, oldest first.
func (b *Backups) Create() (string, error) {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return "", fmt.Errorf("reconcile: create backup dir: %w", err)
	}
	name := fmt.Sprintf("%s-%s.db", b.prefix, time.Now().UTC().Format(timestampLayout))
	target := filepath.Join(b.dir, name)
	if err := b.db.Exec(`VACUUM INTO ?`, target); err != nil {
		return "", fmt.Errorf("reconcile: backup to %s: %w", name, err)
	}
	b.logger.Info("reconcile: backup created", slog.String("file", name))
	b.prune()
	return target, nil
}

// Latest returns the path of the most recent backup (lexically greatest
// name), or ErrNoBackups.
func (b *Backups) Latest() (string, error) {
	names, err := b.list()
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", apperr.ErrNoBackups
	}
	return filepath.Join(b.dir, names[len(names)-1]), nil
}

// list returns backup file names sorted ascending (oldest first).
func (b *Backups) list() ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reconcile: read backup dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), b.prefix+"-") && strings.HasSuffix(e.Name(), ".db") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// prune deletes the oldest backups beyond the retention count. Best-effort.
func (b *Backups) prune() {
	names, err := b.list()
	if err != nil {
		b.logger.Warn("reconcile: prune list failed", slog.String("error", err.Error()))
		return
	}
	for len(names) > b.max {
		victim := names[0]
		names = names[1:]
		if err := os.Remove(filepath.Join(b.dir, victim)); err != nil {
			b.logger.Warn("reconcile: prune failed", slog.String("file", victim), slog.String("error", err.Error()))
		} else {
			b.logger.Debug("reconcile: pruned backup", slog.String("file", victim))
		}
	}
}
