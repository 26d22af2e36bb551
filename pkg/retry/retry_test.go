package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func newTestExecutor(cfg Config) (*Executor, *recordingSleeper) {
	rec := &recordingSleeper{}
	e := New(cfg)
	e.sleep = rec.sleep
	return e, rec
}

func TestExecutor_TransientExhaustion(t *testing.T) {
	e, rec := newTestExecutor(Config{MaxRetries: 4, BaseDelay: 10 * time.Millisecond})
	cause := errors.New("connection reset by peer")

	attempts := 0
	err := e.Do(context.Background(), "send", func(context.Context) error {
		attempts++
		return Transient(cause)
	})

	require.Error(t, err)
	assert.Equal(t, 4, attempts)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsRetryExhausted(err))
	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
	}, rec.delays)
}

func TestExecutor_PermanentSingleAttempt(t *testing.T) {
	e, rec := newTestExecutor(Config{MaxRetries: 5, BaseDelay: time.Millisecond})

	attempts := 0
	err := e.Do(context.Background(), "send", func(context.Context) error {
		attempts++
		return Invalid("message has no parts")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.False(t, IsRetryExhausted(err))
	assert.Empty(t, rec.delays)
}

func TestExecutor_UnknownWrappedWithoutRetry(t *testing.T) {
	e, _ := newTestExecutor(Config{MaxRetries: 3, BaseDelay: time.Millisecond})
	cause := errors.New("boom")

	attempts := 0
	err := e.Do(context.Background(), "send", func(context.Context) error {
		attempts++
		return cause
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "unexpected error in A2A client")
}

func TestExecutor_SucceedsAfterTransient(t *testing.T) {
	e, _ := newTestExecutor(Config{MaxRetries: 3, BaseDelay: time.Millisecond})

	attempts := 0
	got, err := DoWithResult(context.Background(), e, "get", func(context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", Transient(io.ErrUnexpectedEOF)
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, attempts)
}

func TestExecutor_ContextCancelledDuringBackoff(t *testing.T) {
	e := New(Config{MaxRetries: 3, BaseDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := e.Do(ctx, "send", func(context.Context) error {
		attempts++
		cancel()
		return Transient(errors.New("unavailable"))
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

type countingObserver struct{ calls int }

func (c *countingObserver) OnRetry(string, int, error) { c.calls++ }

func TestExecutor_Observer(t *testing.T) {
	obs := &countingObserver{}
	e := New(Config{MaxRetries: 3, BaseDelay: time.Millisecond}, WithObserver(obs))
	e.sleep = func(context.Context, time.Duration) error { return nil }

	_ = e.Do(context.Background(), "send", func(context.Context) error {
		return Transient(errors.New("unavailable"))
	})

	assert.Equal(t, 2, obs.calls)
}

func TestExecutor_Defaults(t *testing.T) {
	e := New(Config{})
	assert.Equal(t, 3, e.Config().MaxRetries)
	assert.Equal(t, time.Second, e.Config().BaseDelay)
}

func TestDelay_Clamped(t *testing.T) {
	e := New(Config{MaxRetries: 10, BaseDelay: time.Second, MaxDelay: 5 * time.Second})
	assert.Equal(t, time.Second, e.delay(0))
	assert.Equal(t, 4*time.Second, e.delay(2))
	assert.Equal(t, 5*time.Second, e.delay(3))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "nil", err: nil, want: KindUnknown},
		{name: "tagged_transient", err: Transient(errors.New("x")), want: KindTransient},
		{name: "tagged_permanent", err: Permanent(errors.New("x")), want: KindPermanent},
		{name: "wrapped_tag", err: fmt.Errorf("send: %w", Transient(errors.New("x"))), want: KindTransient},
		{name: "invalid_input", err: fmt.Errorf("bad: %w", ErrInvalidInput), want: KindPermanent},
		{name: "canceled", err: context.Canceled, want: KindPermanent},
		{name: "deadline", err: context.DeadlineExceeded, want: KindTransient},
		{name: "http_503", err: &StatusError{StatusCode: 503, Message: "unavailable"}, want: KindTransient},
		{name: "http_429", err: &StatusError{StatusCode: 429, Message: "slow down"}, want: KindTransient},
		{name: "http_400", err: &StatusError{StatusCode: 400, Message: "bad request"}, want: KindPermanent},
		{name: "unexpected_eof", err: io.ErrUnexpectedEOF, want: KindTransient},
		{name: "url_error", err: &url.Error{Op: "Post", URL: "http://x", Err: errors.New("dial tcp")}, want: KindTransient},
		{name: "plain", err: errors.New("plain"), want: KindUnknown},
		{name: "exhausted", err: &RetryError{LastError: Transient(errors.New("x")), IsExhausted: true}, want: KindPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}
