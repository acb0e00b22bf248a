package database

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound               = errors.New("record not found")
	ErrConcurrentModification = errors.New("record was modified concurrently")
	ErrUniqueViolation        = errors.New("unique constraint violated")
	ErrSchemaMismatch         = errors.New("database schema mismatch")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrRegisterClosed         = errors.New("cash register is not open")
)

// storageError keeps the driver error while matching a storage sentinel.
type storageError struct {
	kind error
	err  error
}

func (e *storageError) Error() string {
	return e.kind.Error() + ": " + e.err.Error()
}

func (e *storageError) Unwrap() []error {
	return []error{e.kind, e.err}
}

// translate maps driver errors onto storage sentinels so callers never
// depend on the driver.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &storageError{kind: ErrNotFound, err: err}
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		if sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return &storageError{kind: ErrUniqueViolation, err: err}
		}
	}

	msg := err.Error()
	if strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "no such column") ||
		strings.Contains(msg, "has no column named") {
		return &storageError{kind: ErrSchemaMismatch, err: err}
	}
	return err
}
