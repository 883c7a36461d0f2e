package credential

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Use errors.Is(err, credential.ErrMalformed) to check.
// Both are startup-fatal: there is nothing to retry.
var (
	ErrMalformed  = errors.New("credential: malformed")
	ErrUnreadable = errors.New("credential: unreadable")
)

// Error carries the failure kind, where the secret came from and which
// field was at fault. Key material is never included.
type Error struct {
	Kind   error // ErrMalformed or ErrUnreadable
	Source string
	Field  string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Source != "" {
		msg += " (" + e.Source + ")"
	}

	if e.Field != "" {
		msg += ": " + e.Field
	}

	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}

	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Err}
}

func malformed(field string, err error) *Error {
	return &Error{Kind: ErrMalformed, Field: field, Err: err}
}

// withSource stamps the secret's origin onto an *Error from Load.
func withSource(err error, source string) error {
	var ce *Error
	if errors.As(err, &ce) {
		ce.Source = source
	}

	return err
}
