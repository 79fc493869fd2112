// Package aierr defines the error taxonomy shared by the embedding pipeline,
// the cluster engine, and the graph builder. Callers use the classification
// helpers to decide between fail-fast, retry, and serve-stale behavior.
package aierr

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ValidationError reports bad input. It is never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Msg
}

// NewValidation creates a ValidationError with a formatted message.
func NewValidation(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ProviderError reports a failure of an external embedding or completion
// provider. Transient provider errors feed the retry and circuit-breaker
// bookkeeping; non-transient ones are surfaced as-is.
type ProviderError struct {
	Op        string // "embed", "complete"
	Err       error
	Transient bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s failed: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProvider wraps an external call failure, classifying transience from the
// underlying error.
func NewProvider(op string, err error) *ProviderError {
	return &ProviderError{Op: op, Err: err, Transient: isTransient(err)}
}

// CacheMissError reports that no cached result exists for a user. The caller
// decides whether to recompute synchronously or asynchronously.
type CacheMissError struct {
	UserID int32
	Kind   string
}

func (e *CacheMissError) Error() string {
	return fmt.Sprintf("cache miss: kind=%s user=%d", e.Kind, e.UserID)
}

// ErrNotEnoughData marks an empty-by-definition result: too little data to
// compute anything. It is not a failure and must never abort a request.
var ErrNotEnoughData = errors.New("not enough data")

// IsValidation returns true if err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTransientProvider returns true if err is a ProviderError classified as
// transient (rate limit, quota, timeout, network).
func IsTransientProvider(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return false
}

// IsCacheMiss returns true if err is a CacheMissError.
func IsCacheMiss(err error) bool {
	var ce *CacheMissError
	return errors.As(err, &ce)
}

// isTransient checks error patterns indicating a temporary provider failure.
func isTransient(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	patterns := []string{
		"timeout",
		"deadline exceeded",
		"rate limit",
		"quota",
		"too many requests",
		"429",
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"temporary failure",
		"eof",
		"service unavailable",
		"502",
		"503",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
