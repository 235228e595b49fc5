package shared

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE classes surfaced by the schema's constraints and triggers.
const (
	pgUniqueViolation  = "23505"
	pgFKViolation      = "23503"
	pgCheckViolation   = "23514"
	pgRaiseException   = "P0001" // raised by the constraint triggers
	pgSerialization    = "40001"
	pgDeadlockDetected = "40P01"
)

// MapPgError translates low-level Postgres errors into ErrConstraintViolation
// so callers can treat any invariant trip uniformly. Errors that are not
// constraint-related are returned unchanged.
func MapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUniqueViolation, pgFKViolation, pgCheckViolation, pgRaiseException:
		return fmt.Errorf("%w: %s", ErrConstraintViolation, pgErr.Message)
	}
	return err
}

// IsRetryable reports whether the error is a transient serialization failure
// the caller should retry.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgSerialization || pgErr.Code == pgDeadlockDetected
}
