// Package reconcile implements the reconciliation engine: detection passes
// over the files and derived stores, coordinated repairs, full rebuild from
// files, and backup/rollback around destructive operations.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/starford/berkano/internal/apperr"
	"github.com/starford/berkano/internal/result"
	"github.com/starford/berkano/internal/store"
	"github.com/starford/berkano/internal/txn"
	"github.com/starford/berkano/internal/vault"
)

// HealthConfig drives the advisory garden-health pass.
type HealthConfig struct {
	// StaleAfter is how long a low-maturity record may go untouched before
	// it is flagged as aging.
	StaleAfter time.Duration
	// PromoteDegree is the link degree at which a low-maturity note becomes
	// a promotion candidate.
	PromoteDegree int
}

// Engine runs reconciliation operations. Repairs always go through the
// transaction coordinator; the backups directory is owned exclusively by
// this engine.
type Engine struct {
	coord   *txn.Coordinator
	db      *store.Store
	files   *vault.FS
	backups *Backups
	health  HealthConfig
	logger  *slog.Logger
}

// New creates an engine.
func New(coord *txn.Coordinator, db *store.Store, files *vault.FS, backups *Backups, health HealthConfig, logger *slog.Logger) *Engine {
	if health.StaleAfter <= 0 {
		health.StaleAfter = 30 * 24 * time.Hour
	}
	if health.PromoteDegree <= 0 {
		health.PromoteDegree = 5
	}
	return &Engine{coord: coord, db: db, files: files, backups: backups, health: health, logger: logger}
}

// Check runs the five detection passes and returns their findings as data.
// It mutates nothing and is idempotent. A pass that itself fails becomes a
// warning; it never blocks the other passes.
func (e *Engine) Check(ctx context.Context) result.Result {
	const op = "check"

	passes := []struct {
		name string
		fn   func() ([]Finding, error)
	}{
		{"consistency", e.checkConsistency},
		{"integrity", e.checkIntegrity},
		{"graph", e.checkGraph},
		{"structure", e.checkStructure},
		{"health", e.checkHealth},
	}

	var findings []Finding
	var warnings []string
	for _, p := range passes {
		fs, err := p.fn()
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s pass failed: %v", p.name, err))
			continue
		}
		findings = append(findings, fs...)
	}
	return result.OK(op, report(findings), warnings)
}

// Rollback restores the live store file from the most recent backup. With no
// backups it fails with a typed error and mutates nothing.
func (e *Engine) Rollback(ctx context.Context) result.Result {
	const op = "rollback"

	latest, err := e.backups.Latest()
	if err != nil {
		return result.Fail(op, err)
	}

	data, err := os.ReadFile(latest)
	if err != nil {
		return result.Fail(op, apperr.Op(apperr.CodeRestoreFailed, err))
	}

	// Release the open handle before swapping the file under it.
	if err := e.db.Close(); err != nil {
		return result.Fail(op, apperr.Op(apperr.CodeRestoreFailed, err))
	}

	writeErr := os.WriteFile(e.db.Path(), data, 0o644)
	// Stale WAL sidecars would shadow the restored content.
	_ = os.Remove(e.db.Path() + "-wal")
	_ = os.Remove(e.db.Path() + "-shm")

	if err := e.db.Reopen(); err != nil {
		return result.Fail(op, apperr.Op(apperr.CodeRestoreFailed, err))
	}
	if writeErr != nil {
		return result.Fail(op, apperr.Op(apperr.CodeRestoreFailed, writeErr))
	}

	// Empty scope: the coordinator invalidates the graph cache at exit.
	if err := e.coord.Run(ctx, func(*txn.Scope) error { return nil }); err != nil {
		return result.Fail(op, err)
	}

	e.logger.Info("reconcile: rolled back", slog.String("backup", filepath.Base(latest)))
	return result.OK(op, map[string]string{"restored_from": filepath.Base(latest)}, nil)
}
