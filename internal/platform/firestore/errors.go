package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies a Firestore failure for the service layer.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNotFound
	KindConflict
	KindUnavailable
)

// Error implements repositories.RepositoryError for the Firestore repositories.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return "firestore: " + e.Err.Error()
	}
	return fmt.Sprintf("firestore: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error       { return e.Err }
func (e *Error) IsNotFound() bool    { return e.Kind == KindNotFound }
func (e *Error) IsConflict() bool    { return e.Kind == KindConflict }
func (e *Error) IsUnavailable() bool { return e.Kind == KindUnavailable }

// NotFound reports a missing document.
func NotFound(op, entity string) error {
	return &Error{Op: op, Kind: KindNotFound, Err: fmt.Errorf("%s not found", entity)}
}

// Conflict reports a write rejected because the stored document moved on, e.g. an order whose
// status changed inside a concurrent transaction.
func Conflict(op, msg string) error {
	return &Error{Op: op, Kind: KindConflict, Err: errors.New(msg)}
}

// WrapError classifies err by its gRPC status. Context errors are returned as they are, and a
// gRPC Canceled becomes context.Canceled.
func WrapError(op string, err error) error {
	var existing *Error
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.As(err, &existing):
		return err
	}

	code := status.Code(err)
	if code == codes.Canceled {
		return context.Canceled
	}
	return &Error{Op: op, Kind: kindOf(code), Err: err}
}

func kindOf(code codes.Code) Kind {
	switch code {
	case codes.NotFound:
		return KindNotFound
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted:
		return KindConflict
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Internal:
		return KindUnavailable
	}
	return KindUnknown
}
