package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a provider failure coarsely enough for callers to
// choose an error message and decide whether a retry could help.
type Kind string

const (
	KindRateLimited    Kind = "rate_limited"
	KindAuth           Kind = "auth"
	KindInvalidRequest Kind = "invalid_request"
	KindOverloaded     Kind = "overloaded"
	KindUnknown        Kind = "unknown"
)

// Error wraps a provider SDK failure with its classification. The
// provider subpackages funnel every SDK error through WrapStatus so
// callers see a single taxonomy regardless of backend.
type Error struct {
	Provider   string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure is worth retrying after a
// backoff. Rate limits and transient provider overload qualify; bad
// credentials and malformed requests do not.
func (e *Error) Retryable() bool {
	return e.Kind == KindRateLimited || e.Kind == KindOverloaded
}

// ErrKind extracts the classification from err, or KindUnknown when the
// error did not come from a provider client.
func ErrKind(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindUnknown
}

// WrapStatus classifies an SDK failure by its HTTP status code.
func WrapStatus(provider string, status int, err error) *Error {
	kind := KindUnknown
	switch {
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuth
	case status >= 400 && status < 500:
		kind = KindInvalidRequest
	case status >= 500:
		kind = KindOverloaded
	}
	return &Error{Provider: provider, Kind: kind, StatusCode: status, Err: err}
}
