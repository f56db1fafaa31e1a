package core

import "github.com/pkg/errors"

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

// NewFieldError is a shortcut for a ValidationError on a single field.
func NewFieldError(field, msg string) error {
	return &ValidationError{Err: errors.New(msg), Fields: []FieldError{{Field: field, Error: msg}}}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return err.Fields[0].Field + ": " + err.Fields[0].Error
		}
		return ""
	}
	return err.Err.Error()
}

// PermissionError is returned when an actor is not allowed to act on a resource.
type PermissionError struct {
	Reason string
}

func NewPermissionError(reason string) error {
	return &PermissionError{Reason: reason}
}

func (err PermissionError) Error() string {
	return "permission denied: " + err.Reason
}

func IsPermissionError(err error) bool {
	_, ok := errors.Cause(err).(*PermissionError)
	return ok
}

// NotFoundError is the base of every package-level ErrNotFound sentinel.
type NotFoundError struct {
	Resource string
}

func NewNotFoundError(resource string) *NotFoundError {
	return &NotFoundError{Resource: resource}
}

func (err NotFoundError) Error() string {
	return err.Resource + " not found"
}

func IsNotFound(err error) bool {
	_, ok := errors.Cause(err).(*NotFoundError)
	return ok
}

// RateLimitError is returned when an actor exceeds a per-action cap.
type RateLimitError struct {
	Action string
}

func (err RateLimitError) Error() string {
	return "rate limit exceeded for " + err.Action
}

func IsRateLimited(err error) bool {
	_, ok := errors.Cause(err).(*RateLimitError)
	return ok
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
