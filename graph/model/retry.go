package model

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// RetryPolicy configures retries of a provider call.
type RetryPolicy struct {
	// MaxAttempts is the number of calls including the first. Values
	// below 1 are treated as 1.
	MaxAttempts int

	// BaseDelay is the base of the exponential backoff.
	BaseDelay time.Duration

	// MaxDelay caps the exponential component.
	MaxDelay time.Duration

	// Retryable decides whether an error is worth another attempt. Nil
	// means IsTransient.
	Retryable func(error) bool
}

// DefaultRetryPolicy retries transient failures three times in total,
// starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    8 * time.Second,
		Retryable:   IsTransient,
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, the
// attempts run out, or ctx is done.
func (p RetryPolicy) Do(ctx context.Context, provider string, fn func(context.Context) (ChatOut, error)) (ChatOut, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return ChatOut{}, err
		}

		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !retryable(err) || attempt == attempts-1 {
			break
		}

		delay := computeBackoff(attempt, p.BaseDelay, p.MaxDelay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ChatOut{}, ctx.Err()
		}
	}

	if attempts > 1 && retryable(lastErr) {
		return ChatOut{}, fmt.Errorf("%s API failed after %d attempts: %w", provider, attempts, lastErr)
	}
	return ChatOut{}, lastErr
}

// computeBackoff returns min(base * 2^attempt, maxDelay) plus up to base of
// jitter. attempt is zero-based.
func computeBackoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base * (1 << attempt)
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- jitter for retry timing, not security
	return delay + jitter
}

// ProviderError is an HTTP-level failure reported by a provider SDK.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %v", e.Provider, e.StatusCode, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRateLimit reports whether err is a 429 from a provider.
func IsRateLimit(err error) bool {
	var perr *ProviderError
	return errors.As(err, &perr) && perr.StatusCode == http.StatusTooManyRequests
}

// IsTransient reports whether err is worth retrying: rate limits, server
// errors, timeouts and connection failures. Context cancellation is not.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.StatusCode == http.StatusTooManyRequests || perr.StatusCode >= 500
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection", "temporary", "eof", "503", "502", "500"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
