package billingerror

import (
	"errors"
	"fmt"
)

// Error is a user-facing billing failure with a stable machine code.
type Error struct {
	Code    string
	Message string
	Human   string
}

func New(code, message, human string) *Error {
	return &Error{Code: code, Message: message, Human: human}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// As extracts the billing error from err, if any.
func As(err error) (*Error, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}
