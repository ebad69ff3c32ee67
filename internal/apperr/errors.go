// Package apperr defines the shared error taxonomy used across both
// services: every expected, handled failure mode is an *AppError
// carrying a machine-checkable Kind plus free-form Context for logging.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an AppError so callers can branch on it with errors.As
// instead of string-matching messages.
type Kind string

const (
	KindRepository   Kind = "repository_error"
	KindUnitOfWork   Kind = "unit_of_work_error"
	KindMessaging    Kind = "messaging_error"
	KindConnection   Kind = "connection_error"
	KindSubscription Kind = "subscription_error"
	KindPublish      Kind = "publish_error"
	KindConsume      Kind = "consume_error"
	KindProcessing   Kind = "processing_error"
	KindNotFound     Kind = "not_found"
	KindCreation     Kind = "creation_error"
	KindValidation   Kind = "validation_error"
)

// AppError is the base of every expected, controlled failure in this
// system. Unexpected errors should not be wrapped in it; let them
// propagate as plain errors so they're easy to tell apart in logs.
type AppError struct {
	Kind    Kind
	Message string
	Context map[string]any
	Cause   error
}

func (e *AppError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

func New(kind Kind, message string, ctx map[string]any) *AppError {
	return &AppError{Kind: kind, Message: message, Context: ctx}
}

func Wrap(kind Kind, message string, cause error, ctx map[string]any) *AppError {
	return &AppError{Kind: kind, Message: message, Context: ctx, Cause: cause}
}

// OrderNotFound reports that no order exists with the given id.
func OrderNotFound(orderID string) *AppError {
	return New(KindNotFound, "order not found", map[string]any{"order_id": orderID})
}

// OrderCreation reports that an order could not be created.
func OrderCreation(message string, cause error) *AppError {
	return Wrap(KindCreation, message, cause, nil)
}

// MessagePublish reports that an event could not be published to the broker.
func MessagePublish(orderID string, cause error) *AppError {
	return Wrap(KindPublish, "failed to publish message", cause, map[string]any{"order_id": orderID})
}

// Of extracts an *AppError from err, if any wraps one.
func Of(err error) (*AppError, bool) {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// Is reports whether err is (or wraps) an AppError of the given kind.
func Is(err error, kind Kind) bool {
	ae, ok := Of(err)
	return ok && ae.Kind == kind
}
