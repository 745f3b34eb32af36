// Package apperr defines the error taxonomy shared across the engine.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")
	ErrNoBackups = errors.New("no backups available")
	ErrScopeOpen = errors.New("transaction scope already open")
	ErrClosed    = errors.New("dispatcher closed")
)

// Operation failure codes carried by OpError.
const (
	CodeBackupFailed  = "BackupFailed"
	CodeRestoreFailed = "RestoreFailed"
	CodeRebuildFailed = "RebuildFailed"
	CodeFixFailed     = "FixFailed"
)

// OpError wraps an underlying I/O or relational failure with a stable code
// that downstream layers can render without parsing error text.
type OpError struct {
	Code string
	Err  error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Op wraps err with the given code. A nil err returns nil.
func Op(code string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Code: code, Err: err}
}
