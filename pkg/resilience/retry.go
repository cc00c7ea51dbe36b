// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 © The Ergon Authors

// Package resilience provides retry, circuit breaker, timeout and fallback
// wrappers used around provider calls.
package resilience

import (
	"context"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/ergonlabs/ergon/pkg/errors"
)

// transientMarkers are lowercase substrings that identify provider failures
// worth retrying when the error carries no typed classification. The list
// covers the connection-reset and disconnect messages the common SDKs emit.
var transientMarkers = []string{
	"connection error",
	"connection refused",
	"connection reset",
	"server disconnected",
	"eof occurred",
	"unexpected eof",
	"timeout",
	"timed out",
	"event loop is closed",
	"anthropicexception",
	"rate limit",
	"overloaded",
	"status 429",
	"status 500",
	"status 502",
	"status 503",
	"status 529",
}

// IsTransient reports whether err represents a transient provider failure
// that a retry may resolve. Typed *errors.Error values are classified by
// their Recoverable flag; context cancellation is never transient; anything
// else falls back to network-error detection and message matching.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var typed *errors.Error
	if errors.As(err, &typed) {
		return typed.Recoverable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// RetryConfig controls retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the total attempt budget (must be >= 1).
	MaxAttempts int

	// InitialDelay is the backoff before the second attempt.
	InitialDelay time.Duration

	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration

	// Multiplier for exponential backoff (default 2.0).
	Multiplier float64

	// Jitter between 0 and 1; 0.1 means ±10% randomization of each delay.
	Jitter float64

	// Classify decides whether an error warrants another attempt.
	// Nil means IsTransient.
	Classify func(error) bool

	// OnRetry, if set, is called before each re-attempt with the
	// 1-based number of the attempt about to run and the prior error.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns the retry policy used by the dispatcher unless
// overridden by configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
		Classify:     IsTransient,
	}
}

// WithMaxAttempts returns a copy with MaxAttempts set.
func (rc RetryConfig) WithMaxAttempts(n int) RetryConfig {
	rc.MaxAttempts = n
	return rc
}

// WithInitialDelay returns a copy with InitialDelay set.
func (rc RetryConfig) WithInitialDelay(d time.Duration) RetryConfig {
	rc.InitialDelay = d
	return rc
}

// WithClassify returns a copy with the error classifier set.
func (rc RetryConfig) WithClassify(fn func(error) bool) RetryConfig {
	rc.Classify = fn
	return rc
}

// Do runs fn under the retry policy and returns the last error if the
// attempt budget is exhausted. Non-transient errors return immediately.
func (rc RetryConfig) Do(ctx context.Context, fn func() error) error {
	_, err := rc.DoWithAttempts(ctx, fn)
	return err
}

// DoWithAttempts is Do plus accounting: it returns how many attempts ran,
// including the final one, so callers can surface the count.
func (rc RetryConfig) DoWithAttempts(ctx context.Context, fn func() error) (int, error) {
	if rc.MaxAttempts < 1 {
		rc.MaxAttempts = 1
	}
	classify := rc.Classify
	if classify == nil {
		classify = IsTransient
	}

	var lastErr error
	for attempt := 1; attempt <= rc.MaxAttempts; attempt++ {
		if attempt > 1 {
			if rc.OnRetry != nil {
				rc.OnRetry(attempt, lastErr)
			}
			select {
			case <-ctx.Done():
				return attempt - 1, errors.New(errors.CodeContextLost, "context canceled during retry", ctx.Err()).
					WithContext("attempts", attempt-1).
					WithContext("max_attempts", rc.MaxAttempts)
			case <-time.After(rc.backoff(attempt - 1)):
			}
		}

		err := fn()
		if err == nil {
			return attempt, nil
		}
		lastErr = err
		if !classify(err) {
			return attempt, err
		}
	}
	return rc.MaxAttempts, lastErr
}

// backoff computes the delay preceding the given retry (1-based).
func (rc RetryConfig) backoff(retry int) time.Duration {
	multiplier := rc.Multiplier
	if multiplier == 0 {
		multiplier = 2.0
	}

	delay := time.Duration(float64(rc.InitialDelay) * math.Pow(multiplier, float64(retry-1)))
	if rc.MaxDelay > 0 && delay > rc.MaxDelay {
		delay = rc.MaxDelay
	}
	if rc.Jitter > 0 {
		spread := 2 * rc.Jitter * (rand.Float64() - 0.5)
		delay = time.Duration(float64(delay) * (1 + spread))
		if delay < 0 {
			delay = 0
		}
	}
	return delay
}
