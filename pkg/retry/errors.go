package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"
)

// ErrorKind classifies a failure for retry purposes.
type ErrorKind int

const (
	// KindUnknown errors are wrapped and surfaced without retrying.
	KindUnknown ErrorKind = iota

	// KindTransient errors (network, transport, 5xx) are retried with backoff.
	KindTransient

	// KindPermanent errors (malformed input) fail on the first attempt.
	KindPermanent
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ErrInvalidInput marks malformed requests. Retrying them cannot succeed.
var ErrInvalidInput = errors.New("invalid input")

// Error tags an error with its ErrorKind.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String() + " error"
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient tags err as retryable. nil stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTransient, Err: err}
}

// Permanent tags err as non-retryable. nil stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindPermanent, Err: err}
}

// Invalid returns a permanent error wrapping ErrInvalidInput.
func Invalid(format string, args ...any) error {
	return Permanent(fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...)))
}

// StatusError is an HTTP-level failure reported by a remote agent.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// KindOf returns the ErrorKind of err. Explicit tags win; otherwise the
// error chain is inspected for well-known network and HTTP failures.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	if IsRetryExhausted(err) {
		return KindPermanent
	}

	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}

	if errors.Is(err, ErrInvalidInput) {
		return KindPermanent
	}

	if errors.Is(err, context.Canceled) {
		return KindPermanent
	}

	// Per-request timeouts. Executor.Do stops on its own once the caller's
	// context is done.
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}

	var status *StatusError
	if errors.As(err, &status) {
		switch {
		case status.StatusCode == 429, status.StatusCode >= 500:
			return KindTransient
		case status.StatusCode >= 400:
			return KindPermanent
		}
		return KindUnknown
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return KindTransient
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return KindTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	return KindUnknown
}

// IsRetryable reports whether err should be retried.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}
