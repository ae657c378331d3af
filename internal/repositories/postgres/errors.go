package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	uniqueViolation      = "23505"
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
)

// Error implements repositories.RepositoryError for PostgreSQL failures.
type Error struct {
	Op          string
	Err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "postgres: " + e.Op
	}
	return fmt.Sprintf("postgres: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error       { return e.Err }
func (e *Error) IsNotFound() bool    { return e.notFound }
func (e *Error) IsConflict() bool    { return e.conflict }
func (e *Error) IsUnavailable() bool { return e.unavailable }

func notFound(op string) error {
	return &Error{Op: op, Err: pgx.ErrNoRows, notFound: true}
}

func conflict(op, msg string) error {
	return &Error{Op: op, Err: errors.New(msg), conflict: true}
}

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(op)
	}

	out := &Error{Op: op, Err: err}
	var pgErr *pgconn.PgError
	var netErr net.Error
	switch {
	case errors.As(err, &pgErr):
		switch pgErr.Code {
		case uniqueViolation, serializationFailure, deadlockDetected:
			out.conflict = true
		}
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr), pgconn.SafeToRetry(err):
		out.unavailable = true
	}
	return out
}
