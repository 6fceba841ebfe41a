package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"stockmatch/internal/core/apperror"
)

// PostgreSQL error codes the ledger reacts to.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgCheckViolation       = "23514"
)

// IsRetryable reports whether err means the transaction lost a race and
// re-running it may succeed.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
		return true
	}
	return false
}

// IsNoRows reports whether err is pgx.ErrNoRows.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// MapError turns constraint violations into AppErrors. Other errors pass through.
func MapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		return apperror.NewConflict("record already exists").
			WithDetail("constraint", pgErr.ConstraintName).WithCause(err)
	case pgForeignKeyViolation:
		return apperror.NewConflict("record is referenced or references a missing row").
			WithDetail("constraint", pgErr.ConstraintName).WithCause(err)
	case pgCheckViolation:
		return apperror.NewConflict("ledger constraint violated").
			WithDetail("constraint", pgErr.ConstraintName).WithCause(err)
	}
	return err
}
