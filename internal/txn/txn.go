// Package txn implements the transaction coordinator: the only sanctioned
// mutation path. One scope holds one relational transaction plus an undo log
// of file writes; on failure the relational side rolls back and file writes
// are compensated best-effort. True cross-store atomicity between SQLite and
// the filesystem is deliberately not attempted.
package txn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/starford/berkano/internal/apperr"
	"github.com/starford/berkano/internal/graph"
	"github.com/starford/berkano/internal/models"
	"github.com/starford/berkano/internal/parser"
	"github.com/starford/berkano/internal/store"
	"github.com/starford/berkano/internal/vault"
)

// Coordinator opens coordinated write scopes over the store and the garden
// files, and owns graph-cache invalidation.
type Coordinator struct {
	db     *store.Store
	files  *vault.FS
	cache  *graph.Cache
	logger *slog.Logger

	open atomic.Bool
}

// New creates a coordinator.
func New(db *store.Store, files *vault.FS, cache *graph.Cache, logger *slog.Logger) *Coordinator {
	return &Coordinator{db: db, files: files, cache: cache, logger: logger}
}

// Scope is one coordinated write scope. It is only valid inside the function
// passed to Run.
type Scope struct {
	tx    *sql.Tx
	files *vault.FS
	undo  []fileOp
}

// fileOp records the state needed to reverse one file write.
type fileOp struct {
	path    string
	prior   []byte
	existed bool
}

// Run executes fn inside a coordinated scope. On a nil return the relational
// transaction commits; on an error the transaction rolls back, every file
// write is reversed most-recent-first, and the original error is returned
// unchanged. The graph cache is invalidated unconditionally on every exit.
// Nesting scopes is unsupported: the store is single-writer.
func (c *Coordinator) Run(ctx context.Context, fn func(*Scope) error) error {
	if !c.open.CompareAndSwap(false, true) {
		return apperr.ErrScopeOpen
	}
	defer c.open.Store(false)
	defer c.cache.Invalidate()

	tx, err := c.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("txn: begin: %w", err)
	}

	s := &Scope{tx: tx, files: c.files}

	if err := fn(s); err != nil {
		s.compensate(c.logger)
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			c.logger.Warn("txn: rollback failed", slog.String("error", rbErr.Error()))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		s.compensate(c.logger)
		return fmt.Errorf("txn: commit: %w", err)
	}
	return nil
}

// Graph returns the committed traversal graph. It refuses while a scope is
// open: the graph reflects last-committed state, never pending writes.
func (c *Coordinator) Graph() (*graph.Graph, error) {
	if c.open.Load() {
		return nil, apperr.ErrScopeOpen
	}
	return c.cache.Graph()
}

// Tx exposes the relational handle for arbitrary writes within the scope.
func (s *Scope) Tx() *sql.Tx { return s.tx }

// WriteFile writes a garden file through the scope, capturing the prior
// content (or its absence) for compensation.
func (s *Scope) WriteFile(path string, content []byte) error {
	op := fileOp{path: path}
	prior, err := s.files.Read(path)
	switch {
	case err == nil:
		op.prior = prior
		op.existed = true
	case errors.Is(err, os.ErrNotExist):
		// New file; compensation deletes it.
	default:
		return err
	}

	if err := s.files.Write(path, content); err != nil {
		return err
	}
	s.undo = append(s.undo, op)
	return nil
}

// ReadFile reads a garden file. Reads are unaudited.
func (s *Scope) ReadFile(path string) ([]byte, error) {
	return s.files.Read(path)
}

// WriteContent renders frontmatter and body to canonical form and writes the
// result through the scope.
func (s *Scope) WriteContent(path string, fm map[string]any, body string) error {
	data, err := parser.Render(fm, body)
	if err != nil {
		return err
	}
	return s.WriteFile(path, data)
}

// ReadContent reads and parses a garden file.
func (s *Scope) ReadContent(path string) (*parser.Result, error) {
	data, err := s.files.Read(path)
	if err != nil {
		return nil, err
	}
	return parser.Parse(data)
}

// ResolvePath returns the canonical relative path for a record.
func (s *Scope) ResolvePath(t models.RecordType, id, topic string) string {
	return vault.ResolvePath(t, id, topic)
}

// compensate walks the undo log most-recent-first. Every step is
// best-effort: a failure here is logged and swallowed so it can never mask
// the error that triggered compensation.
func (s *Scope) compensate(logger *slog.Logger) {
	for i := len(s.undo) - 1; i >= 0; i-- {
		op := s.undo[i]
		var err error
		if op.existed {
			err = s.files.Write(op.path, op.prior)
		} else {
			err = s.files.Delete(op.path)
			if err != nil && errors.Is(err, os.ErrNotExist) {
				err = nil
			}
		}
		if err != nil {
			logger.Warn("txn: compensation failed",
				slog.String("path", op.path),
				slog.String("error", err.Error()))
		}
	}
	s.undo = nil
}
