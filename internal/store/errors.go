package store

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a conditional write finds the record in a
	// state other than the expected one.
	ErrConflict = errors.New("conflict")

	// ErrInsufficientPoints is returned when a balance change would make the
	// balance negative.
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrDuplicate is returned when a unique constraint is violated.
	ErrDuplicate = errors.New("duplicate")

	// ErrStale is returned when a record changed after the caller read it.
	ErrStale = errors.New("stale record")
)

const (
	pqUniqueViolation           = "23505"
	pqForeignKeyViolation       = "23503"
	pqInvalidTextRepresentation = "22P02" // malformed UUID ids
)

// mapError turns driver errors into package sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqUniqueViolation:
			return ErrDuplicate
		case pqForeignKeyViolation, pqInvalidTextRepresentation:
			return ErrNotFound
		}
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
