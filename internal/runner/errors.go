package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/promptforge-ai/demon-engine/internal/llm"
)

// AuthError is a credential or authorization failure at the provider. Never
// retried.
type AuthError struct {
	ProviderName string
	Err          error
}

// Error implements error
func (e *AuthError) Error() string {
	return fmt.Sprintf("provider %s authentication failed: %v", e.ProviderName, e.Err)
}

// Unwrap supports errors.Is/As chains
func (e *AuthError) Unwrap() error { return e.Err }

// TimeoutError means the provider call exceeded its deadline. Retryable with
// backoff.
type TimeoutError struct {
	ProviderName string
	Err          error
}

// Error implements error
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("provider %s timed out: %v", e.ProviderName, e.Err)
}

// Unwrap supports errors.Is/As chains
func (e *TimeoutError) Unwrap() error { return e.Err }

// TransientError is a 5xx/429-class provider failure. Retryable with
// exponential backoff and jitter.
type TransientError struct {
	ProviderName string
	RetryAfter   string
	Err          error
}

// Error implements error
func (e *TransientError) Error() string {
	return fmt.Sprintf("provider %s transient failure: %v", e.ProviderName, e.Err)
}

// Unwrap supports errors.Is/As chains
func (e *TransientError) Unwrap() error { return e.Err }

// networkErrorFragments identify retryable transport failures by message.
// Same heuristic set the HTTP providers have always needed.
var networkErrorFragments = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"network is unreachable",
	"temporary failure",
	"i/o timeout",
	"timeout",
}

// Classify maps a raw provider error into the runner's taxonomy. Errors that
// fit no class pass through unchanged and are treated as non-retryable.
func Classify(err error, providerName string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{ProviderName: providerName, Err: err}
	}

	var statusErr *llm.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden:
			return &AuthError{ProviderName: providerName, Err: err}
		case statusErr.StatusCode == http.StatusRequestTimeout:
			return &TimeoutError{ProviderName: providerName, Err: err}
		case statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500:
			return &TransientError{ProviderName: providerName, RetryAfter: statusErr.RetryAfter, Err: err}
		}
		return err
	}

	lowered := strings.ToLower(err.Error())
	for _, fragment := range networkErrorFragments {
		if strings.Contains(lowered, fragment) {
			return &TransientError{ProviderName: providerName, Err: err}
		}
	}

	return err
}

// Retryable reports whether the classified error may be retried
func Retryable(err error) bool {
	var timeout *TimeoutError
	var transient *TransientError
	return errors.As(err, &timeout) || errors.As(err, &transient)
}
