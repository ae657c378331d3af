package services

import (
	"errors"
	"fmt"

	"github.com/acai-shop/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order, one of its items or a referenced catalog entry is missing.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates the order's current status forbids the operation.
	ErrOrderInvalidState = errors.New("order: invalid state")
	// ErrOrderConflict indicates the order changed underneath the caller.
	ErrOrderConflict = errors.New("order: conflict")

	// ErrDelivererInvalidInput signals invalid deliverer fields.
	ErrDelivererInvalidInput = errors.New("deliverer: invalid input")
	// ErrDelivererNotFound indicates the deliverer does not exist.
	ErrDelivererNotFound = errors.New("deliverer: not found")
	// ErrDelivererConflict indicates a duplicate phone number or a concurrent change.
	ErrDelivererConflict = errors.New("deliverer: conflict")

	// ErrUnavailable marks transient backend failures the caller may retry.
	ErrUnavailable = errors.New("service unavailable")
)

// Machine readable reasons attached to invalid-state and conflict errors.
const (
	ReasonOrderTerminal        = "order_terminal"
	ReasonInvalidTransition    = "invalid_transition"
	ReasonNotCancellable       = "not_cancellable"
	ReasonDelivererRequired    = "deliverer_required"
	ReasonDelivererInactive    = "deliverer_inactive"
	ReasonConfirmationRequired = "confirmation_required"
	ReasonChangeBelowTotal     = "change_below_total"
	ReasonProductInactive      = "product_inactive"
	ReasonStatusChanged        = "status_changed"
	ReasonPhoneTaken           = "phone_taken"
	ReasonMoneyPrecision       = "money_precision"
)

// ServiceError carries the offending field or a machine readable reason. errors.Is matches both
// its Kind sentinel and the wrapped cause.
type ServiceError struct {
	Kind    error
	Field   string
	Reason  string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	msg := e.Kind.Error()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ServiceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func invalidField(kind error, field, format string, args ...any) error {
	return &ServiceError{Kind: kind, Field: field, Message: fmt.Sprintf(format, args...)}
}

func invalidState(reason, format string, args ...any) error {
	return &ServiceError{Kind: ErrOrderInvalidState, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func notFound(kind error, field, format string, args ...any) error {
	return &ServiceError{Kind: kind, Field: field, Message: fmt.Sprintf(format, args...)}
}

// mapRepositoryError translates repository failures into the service taxonomy.
func mapRepositoryError(err error, notFoundKind, conflictKind error, field string) error {
	if err == nil {
		return nil
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return &ServiceError{Kind: notFoundKind, Field: field, Err: err}
		case repoErr.IsConflict():
			return &ServiceError{Kind: conflictKind, Field: field, Reason: ReasonStatusChanged, Err: err}
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return err
}
