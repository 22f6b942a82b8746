package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Capability-level sentinels. External collaborators fail with exactly one of
// these so the pipeline can classify the outcome without inspecting messages.
var (
	// Retriever capability.
	ErrUnavailable = errors.New("content unavailable")
	ErrBlocked     = errors.New("content blocked")
	ErrTooLarge    = errors.New("content too large")
	ErrNetwork     = errors.New("network error")

	// Extractor capability.
	ErrUnprocessableMedia = errors.New("unprocessable media")

	// Provider capability.
	ErrAuth              = errors.New("authentication error")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrTimeout           = errors.New("timeout")
	ErrMalformedResponse = errors.New("malformed response")
	ErrRateLimited       = errors.New("rate limit exceeded")

	// Ledger capability.
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrRejected          = errors.New("transaction rejected")

	// Local classification.
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrCancelled     = errors.New("job cancelled")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided sentinel for later classification.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrNetwork
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsTransient reports whether an error should be retried locally with backoff.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrNetwork), errors.Is(err, ErrTimeout), errors.Is(err, ErrMalformedResponse):
		return true
	default:
		return false
	}
}

// IsProviderFatal reports whether an error disqualifies a provider for the
// remainder of the job.
func IsProviderFatal(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrQuotaExceeded)
}

// ReasonCode maps an error to the machine-readable code surfaced to callers.
func ReasonCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrUnavailable):
		return "source_unavailable"
	case errors.Is(err, ErrBlocked):
		return "source_blocked"
	case errors.Is(err, ErrTooLarge):
		return "content_too_large"
	case errors.Is(err, ErrUnprocessableMedia):
		return "unprocessable_media"
	case errors.Is(err, ErrAuth):
		return "provider_auth"
	case errors.Is(err, ErrQuotaExceeded):
		return "provider_quota"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrInsufficientFunds):
		return "ledger_funds"
	case errors.Is(err, ErrRejected):
		return "ledger_rejected"
	case errors.Is(err, ErrValidation):
		return "invalid_request"
	case errors.Is(err, ErrConfiguration):
		return "misconfigured"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrNetwork):
		return "network"
	default:
		return "internal"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
