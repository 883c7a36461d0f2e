// Package auth turns a service-account credential into bearer access tokens
// using the OAuth2 JWT-Bearer assertion grant (RFC 7523): it signs assertions,
// exchanges them at the token endpoint, and caches the resulting tokens.
package auth

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is(err, auth.ErrNoAccessToken) to check.
var (
	// ErrKeyRejected means the credential's key cannot produce an RS256
	// signature. Fatal.
	ErrKeyRejected = errors.New("auth: signing key rejected")

	// ErrTransport covers network failures and unparsable token responses.
	// Retryable with backoff.
	ErrTransport = errors.New("auth: token endpoint transport failure")

	// ErrNoAccessToken means the endpoint answered without an access_token,
	// whatever the HTTP status. Not retryable: it points at a credential or
	// scope problem.
	ErrNoAccessToken = errors.New("auth: no access token in response")

	// ErrCanceled means the caller's context ended during the exchange.
	ErrCanceled = errors.New("auth: token exchange canceled")
)

// SigningError reports why an assertion could not be signed.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("%v: %v", ErrKeyRejected, e.Err)
}

func (e *SigningError) Unwrap() []error {
	return []error{ErrKeyRejected, e.Err}
}

// TokenError is returned by Exchange. StatusCode and Body are set whenever
// the endpoint produced a response, so callers can log the server's reason.
type TokenError struct {
	Kind       error // ErrTransport, ErrNoAccessToken or ErrCanceled
	StatusCode int
	Body       string
	Err        error
}

func (e *TokenError) Error() string {
	msg := e.Kind.Error()
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}

	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}

	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}

	return msg
}

func (e *TokenError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Err}
}

// IsRetryable reports whether a token failure is worth retrying.
// Only transport failures are, including an http.Client timeout while the
// caller's context is still live. Cancellation and missing tokens are not.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrCanceled) {
		return false
	}

	return errors.Is(err, ErrTransport)
}
