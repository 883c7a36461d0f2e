// Package drive talks to the Google Drive v3 API: it finds files by name in
// a folder, lists and downloads folder contents, writes files with multipart
// uploads, and composes those into a serialized create-or-update.
package drive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Failure kinds. Every error from this package matches exactly one of these
// with errors.Is.
var (
	ErrTransport         = errors.New("drive: transport failure")
	ErrRejected          = errors.New("drive: request rejected")
	ErrMalformedResponse = errors.New("drive: malformed response")
	ErrDuplicateName     = errors.New("drive: duplicate name in folder")
	ErrCanceled          = errors.New("drive: request canceled")

	// ErrUnauthenticated wraps a failure to obtain an access token. The
	// token source's own error is kept in the chain.
	ErrUnauthenticated = errors.New("drive: obtaining access token")
)

// Status sentinels, carried by APIError.Err.
var (
	ErrBadRequest   = errors.New("drive: bad request")
	ErrUnauthorized = errors.New("drive: unauthorized")
	ErrForbidden    = errors.New("drive: forbidden")
	ErrNotFound     = errors.New("drive: not found")
	ErrThrottled    = errors.New("drive: throttled")
	ErrServerError  = errors.New("drive: server error")
)

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Body       string
	Err        error // status sentinel, may be nil
}

func (e *APIError) Error() string {
	return fmt.Sprintf("drive: HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// LookupError reports a failed FindByName.
type LookupError struct {
	Name   string
	Parent string
	Kind   error
	Err    error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("drive: looking up %q in %s: %v", e.Name, e.Parent, e.Err)
}

func (e *LookupError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// UploadError reports a failed create or update. Op is "create", "update",
// or "lock" when the caller gave up waiting for the per-name lock.
type UploadError struct {
	Op     string
	Name   string
	Parent string
	ID     string
	Kind   error
	Err    error
}

func (e *UploadError) Error() string {
	target := e.Name
	if e.ID != "" {
		target = fmt.Sprintf("%s (%s)", e.Name, e.ID)
	}

	return fmt.Sprintf("drive: %s %s: %v", e.Op, target, e.Err)
}

func (e *UploadError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// IsRetryable reports whether err is a transient transport failure.
// Rejections, duplicates, malformed answers and cancellation are final. An
// http.Client timeout with the caller's context still live is transport.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrCanceled) {
		return false
	}

	return errors.Is(err, ErrTransport)
}

// kindOf picks the failure kind for err returned while ctx was in force.
func kindOf(ctx context.Context, err error) error {
	var apiErr *APIError

	switch {
	case ctx.Err() != nil, errors.Is(err, ErrCanceled):
		return ErrCanceled
	case errors.Is(err, ErrUnauthenticated):
		return ErrUnauthenticated
	case errors.As(err, &apiErr):
		return ErrRejected
	case errors.Is(err, ErrMalformedResponse):
		return ErrMalformedResponse
	case errors.Is(err, ErrDuplicateName):
		return ErrDuplicateName
	default:
		return ErrTransport
	}
}

func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryableStatus reports whether a read request should be retried.
func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
