// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 © The Ergon Authors

package resilience

import (
	"context"
	"time"

	"github.com/ergonlabs/ergon/pkg/errors"
)

// WithTimeout runs fn with a deadline. A zero duration disables the bound.
// fn receives the derived context and should honor its cancellation; the
// wrapper returns a CodeTimeout error as soon as the deadline passes even if
// fn is still running.
func WithTimeout(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	if d == 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	select {
	case <-ctx.Done():
		return errors.New(errors.CodeTimeout, "operation exceeded timeout", ctx.Err()).
			WithContext("timeout", d.String())
	case err := <-done:
		return err
	}
}

// WithTimeoutResult is WithTimeout for operations that produce a value.
func WithTimeoutResult[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if d == 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		done <- outcome{v, err}
	}()

	select {
	case <-ctx.Done():
		return zero, errors.New(errors.CodeTimeout, "operation exceeded timeout", ctx.Err()).
			WithContext("timeout", d.String())
	case out := <-done:
		return out.value, out.err
	}
}
