package errors

import (
	"errors"
	"fmt"
)

// Category groups errors by how the shell reacts to them
type Category string

const (
	CategoryConfig      Category = "config"
	CategoryAPI         Category = "api"
	CategoryCommand     Category = "command"
	CategoryPersistence Category = "persistence"
	CategoryAbort       Category = "abort"
	CategoryValidation  Category = "validation"
)

// ShellError is the structured error type for the project
type ShellError struct {
	Category  Category
	Code      string
	Message   string
	Retryable bool
	Cause     error
}

func (e *ShellError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

func (e *ShellError) Unwrap() error {
	return e.Cause
}

func (e *ShellError) Is(target error) bool {
	t, ok := target.(*ShellError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Category == t.Category
}

// IsRetryable checks whether an error is retryable.
// Returns false for nil errors or non-ShellError types.
func IsRetryable(err error) bool {
	var se *ShellError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// GetCategory extracts the error category from a ShellError.
// Returns an empty Category for nil errors or non-ShellError types.
func GetCategory(err error) Category {
	var se *ShellError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// IsCategory reports whether err carries the given category anywhere in its chain.
func IsCategory(err error, c Category) bool {
	return err != nil && GetCategory(err) == c
}

// GetUserMessage returns a user-friendly message for the error.
// For ShellError it returns the Message field; for other errors it returns Error().
func GetUserMessage(err error) string {
	if err == nil {
		return ""
	}
	var se *ShellError
	if errors.As(err, &se) {
		if se.Cause != nil && se.Category != CategoryAbort {
			return fmt.Sprintf("%s: %v", se.Message, se.Cause)
		}
		return se.Message
	}
	return err.Error()
}
