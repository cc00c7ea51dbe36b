// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 © The Ergon Authors

package resilience

import (
	"context"

	"github.com/ergonlabs/ergon/pkg/errors"
)

// Fallback produces a substitute value when a primary operation fails.
type Fallback[T any] interface {
	Execute(ctx context.Context, primaryErr error) (T, error)
}

// FallbackFunc adapts a function to the Fallback interface.
type FallbackFunc[T any] func(ctx context.Context, primaryErr error) (T, error)

// Execute implements Fallback.
func (f FallbackFunc[T]) Execute(ctx context.Context, err error) (T, error) {
	return f(ctx, err)
}

// StaticFallback always returns a fixed value.
type StaticFallback[T any] struct {
	Value T
}

// Execute implements Fallback.
func (s StaticFallback[T]) Execute(_ context.Context, _ error) (T, error) {
	return s.Value, nil
}

// ErrorFallback rewraps the primary error with a message, marking it
// non-recoverable so retry layers stop.
type ErrorFallback[T any] struct {
	Message string
}

// Execute implements Fallback.
func (e ErrorFallback[T]) Execute(_ context.Context, primaryErr error) (T, error) {
	var zero T
	return zero, errors.New(errors.CodeInternal, e.Message, primaryErr).
		WithRecoverable(false)
}

// ChainFallback tries each fallback in order until one succeeds.
type ChainFallback[T any] struct {
	Fallbacks []Fallback[T]
}

// Execute implements Fallback.
func (c ChainFallback[T]) Execute(ctx context.Context, primaryErr error) (T, error) {
	var zero T
	lastErr := primaryErr
	for _, fb := range c.Fallbacks {
		v, err := fb.Execute(ctx, lastErr)
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	return zero, lastErr
}

// WithFallback runs fn and, on error, delegates to the fallback.
func WithFallback[T any](ctx context.Context, fn func(context.Context) (T, error), fb Fallback[T]) (T, error) {
	v, err := fn(ctx)
	if err == nil {
		return v, nil
	}
	return fb.Execute(ctx, err)
}
