package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sweet-shop/api/internal/notifications"
	"github.com/sweet-shop/api/internal/payments"
	"github.com/sweet-shop/api/internal/repositories"
)

var (
	// ErrValidation signals the caller provided invalid input. Nothing was persisted.
	ErrValidation = errors.New("order: invalid input")
	// ErrNotFound indicates the order or session could not be located.
	ErrNotFound = errors.New("order: not found")
	// ErrInvalidTransition indicates the order status does not allow the requested change.
	ErrInvalidTransition = errors.New("order: invalid status transition")
	// ErrPrecondition indicates a required fact is missing, such as a payment reference.
	ErrPrecondition = errors.New("order: precondition failed")
	// ErrGateway matches payment provider failures and timeouts.
	ErrGateway = payments.ErrGateway
	// ErrNotification matches notification delivery failures. They are logged, never returned.
	ErrNotification = notifications.ErrNotification
)

// FieldError names one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every invalid field of a command.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Message)
	}
	return fmt.Sprintf("%s: %s", ErrValidation.Error(), strings.Join(parts, "; "))
}

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Unwrap() error { return ErrValidation }

func (e *ValidationError) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

func (e *ValidationError) errOrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func invalidField(field, message string) error {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// translateRepoError maps store failures onto the service sentinels.
func translateRepoError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isRepoNotFound(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	}
	return fmt.Errorf("%s: %w", op, err)
}
