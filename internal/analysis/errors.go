package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// quotaMarkers are matched case-insensitively against provider error text.
var quotaMarkers = []string{"quota", "exceed", "rate", "429", "limit"}

// TransientProviderError marks a provider failure worth retrying against the
// same adapter, typically an HTTP 429.
type TransientProviderError struct {
	Provider string
	Err      error
}

func (e *TransientProviderError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Provider, e.Err)
}

func (e *TransientProviderError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientProviderError. nil stays nil.
func Transient(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientProviderError{Provider: provider, Err: err}
}

// MalformedOutputError means the provider answered but no JSON object could
// be read from the text.
type MalformedOutputError struct {
	Provider string
	Raw      string
	Err      error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("%s: malformed output: %v", e.Provider, e.Err)
}

func (e *MalformedOutputError) Unwrap() error { return e.Err }

// AdapterError is the per-adapter outcome when the cascade gives up on an
// adapter and moves to the next one.
type AdapterError struct {
	Provider string
	Attempts int
	Err      error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("adapter %s failed after %d attempt(s): %v", e.Provider, e.Attempts, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// IsQuotaError reports whether the error text looks like a quota or rate
// limit condition.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range quotaMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// IsTransient reports whether err should be retried against the same
// adapter: quota text, an adapter-marked TransientProviderError, or a call
// timeout.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var tpe *TransientProviderError
	if errors.As(err, &tpe) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return IsQuotaError(err)
}
