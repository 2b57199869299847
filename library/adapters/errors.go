package adapters

import (
	"fmt"

	"github.com/Laisky/errors/v2"

	"github.com/Laisky/tracker-search/library/search"
)

// Error carries the search status a failure maps to.
type Error struct {
	Status  search.Status
	Message string
	Err     error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e == nil {
		return "adapter error: <nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Status, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Status, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError constructs a classified adapter error.
func NewError(status search.Status, err error, format string, args ...any) *Error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...), Err: err}
}

// Classify maps err into the search status taxonomy.
// Errors without a classification are unknownError.
func Classify(err error) search.Status {
	if err == nil {
		return search.StatusSuccess
	}

	var typed *Error
	if errors.As(err, &typed) && typed.Status.IsError() {
		return typed.Status
	}
	return search.StatusUnknownError
}
