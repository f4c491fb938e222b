package storage

import (
	"errors"
	"fmt"
)

// ErrorType classifies a backend failure.
type ErrorType string

const (
	ErrNotFound    ErrorType = "not_found"
	ErrUnavailable ErrorType = "unavailable"
	ErrRejected    ErrorType = "rejected"
)

// Error represents a storage-related error
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsType reports whether err is a storage error of type t.
func IsType(err error, t ErrorType) bool {
	var se *Error
	return errors.As(err, &se) && se.Type == t
}

// NotFound returns an ErrNotFound error.
func NotFound(format string, args ...any) error {
	return &Error{Type: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}
