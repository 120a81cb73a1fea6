package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrUniqueConstraint is returned when an insert or update
	// violates a unique constraint.
	ErrUniqueConstraint = errors.New("unique constraint violation")
)

// wrapErr maps driver errors onto the store's error taxonomy, keeping
// the original error in the chain.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		if se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return fmt.Errorf("%s: %w", op, ErrUniqueConstraint)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
