package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound indicates no row matched the lookup.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateEmail indicates the unique email constraint rejected a write.
	ErrDuplicateEmail = errors.New("email already in use")
	// ErrHasDependents indicates dependent rows reference the record.
	ErrHasDependents = errors.New("record referenced by dependent rows")
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// translateError maps driver-level failures onto repository sentinels so the
// service layer never inspects postgres error codes itself.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return ErrDuplicateEmail
		case pgForeignKeyViolation:
			return ErrHasDependents
		}
	}
	return err
}
