package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		Attempts: attempts,
		Backoff:  Backoff{Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 2},
	}
}

func TestRetry(t *testing.T) {
	t.Parallel()

	t.Run("first try succeeds", func(t *testing.T) {
		t.Parallel()
		calls := 0
		v, err := Retry(context.Background(), fastPolicy(3), func(context.Context) (string, error) {
			calls++
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", v)
		assert.Equal(t, 1, calls)
	})

	t.Run("transient then success", func(t *testing.T) {
		t.Parallel()
		calls := 0
		v, err := Retry(context.Background(), fastPolicy(3), func(context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, Transient(errors.New("overloaded"), 529)
			}
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, v)
		assert.Equal(t, 3, calls)
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		t.Parallel()
		calls := 0
		_, err := Retry(context.Background(), fastPolicy(2), func(context.Context) (int, error) {
			calls++
			return 7, Transient(errors.New("busy"), 503)
		})
		require.Error(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("permanent error stops", func(t *testing.T) {
		t.Parallel()
		calls := 0
		_, err := Retry(context.Background(), fastPolicy(5), func(context.Context) (int, error) {
			calls++
			return 0, errors.New("invalid request")
		})
		require.EqualError(t, err, "invalid request")
		assert.Equal(t, 1, calls)
	})

	t.Run("custom retryable and hook", func(t *testing.T) {
		t.Parallel()
		var seen []int
		p := fastPolicy(3)
		p.Retryable = func(error) bool { return true }
		p.OnRetry = func(attempt int, _ error) { seen = append(seen, attempt) }
		_, err := Retry(context.Background(), p, func(context.Context) (int, error) {
			return 0, errors.New("anything")
		})
		require.Error(t, err)
		assert.Equal(t, []int{1, 2}, seen)
	})

	t.Run("cancelled context stops", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		_, err := Retry(ctx, fastPolicy(5), func(context.Context) (int, error) {
			calls++
			cancel()
			return 0, Transient(errors.New("busy"), 503)
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	b := Backoff{Initial: 100 * time.Millisecond, Max: time.Second, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, b.delay(0))
	assert.Equal(t, 200*time.Millisecond, b.delay(1))
	assert.Equal(t, 400*time.Millisecond, b.delay(2))
	assert.Equal(t, time.Second, b.delay(10))

	b.Jitter = 0.5
	for i := 0; i < 50; i++ {
		d := b.delay(1)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 300*time.Millisecond)
	}
}

func TestNormalizedPolicy(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{}.normalized()
	assert.Equal(t, 3, p.Attempts)
	assert.Equal(t, 500*time.Millisecond, p.Backoff.Initial)
	assert.NotNil(t, p.Retryable)
}

func newTestBreaker(threshold int) (*Breaker, *time.Time) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b := NewBreaker(threshold, time.Minute)
	b.now = func() time.Time { return now }
	return b, &now
}

func fail(context.Context) (string, error) { return "", errors.New("boom") }

func succeed(context.Context) (string, error) { return "ok", nil }

func TestBreaker(t *testing.T) {
	t.Parallel()

	t.Run("opens after threshold", func(t *testing.T) {
		t.Parallel()
		b, _ := newTestBreaker(2)
		_, _ = Guard(context.Background(), b, fail)
		assert.Equal(t, BreakerClosed, b.State())
		_, _ = Guard(context.Background(), b, fail)
		assert.Equal(t, BreakerOpen, b.State())

		called := false
		_, err := Guard(context.Background(), b, func(context.Context) (string, error) {
			called = true
			return "", nil
		})
		assert.ErrorIs(t, err, ErrBreakerOpen)
		assert.False(t, called)
	})

	t.Run("success resets failures", func(t *testing.T) {
		t.Parallel()
		b, _ := newTestBreaker(2)
		_, _ = Guard(context.Background(), b, fail)
		_, _ = Guard(context.Background(), b, succeed)
		assert.Equal(t, 0, b.Failures())
		_, _ = Guard(context.Background(), b, fail)
		assert.Equal(t, BreakerClosed, b.State())
	})

	t.Run("trial call after cooldown closes", func(t *testing.T) {
		t.Parallel()
		b, now := newTestBreaker(1)
		_, _ = Guard(context.Background(), b, fail)
		require.Equal(t, BreakerOpen, b.State())

		*now = now.Add(2 * time.Minute)
		assert.Equal(t, BreakerHalfOpen, b.State())
		v, err := Guard(context.Background(), b, succeed)
		require.NoError(t, err)
		assert.Equal(t, "ok", v)
		assert.Equal(t, BreakerClosed, b.State())
	})

	t.Run("failed trial call reopens", func(t *testing.T) {
		t.Parallel()
		b, now := newTestBreaker(1)
		_, _ = Guard(context.Background(), b, fail)
		*now = now.Add(2 * time.Minute)
		_, _ = Guard(context.Background(), b, fail)
		assert.Equal(t, BreakerOpen, b.State())
	})

	t.Run("zero threshold never trips", func(t *testing.T) {
		t.Parallel()
		b, _ := newTestBreaker(0)
		for i := 0; i < 10; i++ {
			_, _ = Guard(context.Background(), b, fail)
		}
		assert.Equal(t, BreakerClosed, b.State())
		assert.Equal(t, 10, b.Failures())
	})

	t.Run("cancellation does not count", func(t *testing.T) {
		t.Parallel()
		b, _ := newTestBreaker(1)
		_, _ = Guard(context.Background(), b, func(context.Context) (string, error) {
			return "", fmt.Errorf("call: %w", context.Canceled)
		})
		assert.Equal(t, BreakerClosed, b.State())
	})

	t.Run("state change hook and reset", func(t *testing.T) {
		t.Parallel()
		b, _ := newTestBreaker(1)
		var transitions []string
		b.OnStateChange(func(from, to BreakerState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		})
		_, _ = Guard(context.Background(), b, fail)
		b.Reset()
		assert.Equal(t, []string{"closed->open", "open->closed"}, transitions)
	})

	t.Run("concurrent use", func(t *testing.T) {
		t.Parallel()
		b := NewBreaker(1000, time.Minute)
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if i%2 == 0 {
					_, _ = Guard(context.Background(), b, fail)
					return
				}
				_, _ = Guard(context.Background(), b, succeed)
			}(i)
		}
		wg.Wait()
		assert.Equal(t, BreakerClosed, b.State())
	})
}

func TestBreakerState_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "closed", BreakerClosed.String())
	assert.Equal(t, "open", BreakerOpen.String())
	assert.Equal(t, "half-open", BreakerHalfOpen.String())
	assert.Equal(t, "unknown", BreakerState(9).String())
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("bad request"), false},
		{"marked", Transient(errors.New("x"), 429), true},
		{"wrapped marked", fmt.Errorf("oracle: %w", Transient(errors.New("x"), 0)), true},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"conn reset", fmt.Errorf("post: %w", syscall.ECONNRESET), true},
		{"message pattern", errors.New("read tcp: i/o timeout"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestTransient(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Transient(nil, 500))

	inner := errors.New("rate limited")
	err := Transient(inner, 429)
	assert.EqualError(t, err, "rate limited")
	assert.ErrorIs(t, err, inner)

	var te *TransientError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 429, te.StatusCode)
}

func TestIsTransientStatus(t *testing.T) {
	t.Parallel()

	for _, code := range []int{408, 429, 500, 502, 503, 504, 529} {
		assert.True(t, IsTransientStatus(code), code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 422} {
		assert.False(t, IsTransientStatus(code), code)
	}
}
