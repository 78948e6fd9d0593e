package llm

import (
	"errors"
	"fmt"
)

// Typed errors constructed once at the boundary where the provider's native
// error is caught. Callers classify with errors.As instead of walking cause
// chains for marker strings.

// RateLimitError means the provider rejected the call with a rate-limit
// condition (HTTP 429 or a rate-limit error type in the body).
type RateLimitError struct {
	Provider string
	Message  string
}

func (e *RateLimitError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: rate limited", e.Provider)
	}
	return fmt.Sprintf("%s: rate limited: %s", e.Provider, e.Message)
}

// UpstreamError wraps any other provider or tool host failure.
type UpstreamError struct {
	Provider string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream failure: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// PersistenceError wraps a history or usage-log write failure. These are
// best-effort: the orchestrator logs them and never surfaces them to the
// caller's stream.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ValidationError means the request was malformed before any external call.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Message
}

// IsRateLimit reports whether err is, or wraps, a RateLimitError.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}
