// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package retry runs operations with bounded exponential backoff.
//
// Failures are classified by ErrorKind. Transient errors are retried,
// permanent errors fail immediately and unknown errors are wrapped and
// surfaced without a retry.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Config configures retry behaviour.
type Config struct {
	// MaxRetries is the total number of attempts (default: 3).
	MaxRetries int `yaml:"max_retries,omitempty"`

	// BaseDelay is the delay before the second attempt. Attempt n waits
	// BaseDelay * 2^n (default: 1s).
	BaseDelay time.Duration `yaml:"base_delay,omitempty"`

	// MaxDelay caps a single backoff sleep. Zero means uncapped.
	MaxDelay time.Duration `yaml:"max_delay,omitempty"`
}

// DefaultConfig returns the defaults used by agent clients.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  time.Second,
	}
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
}

// Observer is notified about retry decisions.
type Observer interface {
	OnRetry(operation string, attempt int, err error)
}

// Executor runs operations under a Config.
type Executor struct {
	config   Config
	observer Observer
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures an Executor.
type Option func(*Executor)

// WithObserver registers an observer for retry attempts.
func WithObserver(o Observer) Option {
	return func(e *Executor) {
		e.observer = o
	}
}

// New creates an Executor.
func New(cfg Config, opts ...Option) *Executor {
	cfg.SetDefaults()
	e := &Executor{
		config: cfg,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Executor) Config() Config {
	return e.config
}

// Do executes fn until it succeeds, fails with a non-transient error, or
// MaxRetries attempts have been made.
func (e *Executor) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	_, err := DoWithResult(ctx, e, operation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoWithResult executes an operation that returns a value.
func DoWithResult[T any](ctx context.Context, e *Executor, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < e.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, errors.Join(err, lastErr)
			}
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		switch KindOf(err) {
		case KindPermanent:
			slog.Debug("Non-retryable error", "operation", operation, "error", err)
			return zero, err
		case KindUnknown:
			slog.Error("Unexpected error", "operation", operation, "error", err)
			return zero, fmt.Errorf("unexpected error in A2A client: %w", err)
		}

		lastErr = err
		slog.Warn("Attempt failed",
			"operation", operation,
			"attempt", attempt+1,
			"max_attempts", e.config.MaxRetries,
			"error", err)

		if attempt >= e.config.MaxRetries-1 {
			break
		}

		if e.observer != nil {
			e.observer.OnRetry(operation, attempt+1, err)
		}

		if err := e.sleep(ctx, e.delay(attempt)); err != nil {
			return zero, errors.Join(err, lastErr)
		}
	}

	slog.Warn("Max retries exceeded",
		"operation", operation,
		"attempts", e.config.MaxRetries,
		"error", lastErr)

	return zero, &RetryError{
		Operation:   operation,
		Attempts:    e.config.MaxRetries,
		LastError:   lastErr,
		IsExhausted: true,
	}
}

// delay computes BaseDelay * 2^attempt, clamped to MaxDelay.
func (e *Executor) delay(attempt int) time.Duration {
	d := e.config.BaseDelay << attempt
	if e.config.MaxDelay > 0 && (d <= 0 || d > e.config.MaxDelay) {
		return e.config.MaxDelay
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryError is returned once all attempts have failed.
// It unwraps to the last transient error.
type RetryError struct {
	Operation   string
	Attempts    int
	LastError   error
	IsExhausted bool
}

func (e *RetryError) Error() string {
	if e.IsExhausted {
		return fmt.Sprintf("%s failed after %d attempts: %v", e.Operation, e.Attempts, e.LastError)
	}
	return fmt.Sprintf("%s failed (attempt %d): %v", e.Operation, e.Attempts, e.LastError)
}

func (e *RetryError) Unwrap() error {
	return e.LastError
}

// IsRetryExhausted reports whether err came from an exhausted Executor.
func IsRetryExhausted(err error) bool {
	var retryErr *RetryError
	return errors.As(err, &retryErr) && retryErr.IsExhausted
}
