package oracle

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/feedback-cli/internal/resilience"
)

// ErrThrottled is returned when the rate limiter refuses a call before it is
// sent, typically because the wait would outlast the context deadline.
var ErrThrottled = eris.New("oracle: throttled by rate limiter")

// GuardConfig tunes Guarded. Zero values disable the matching protection.
type GuardConfig struct {
	// Timeout bounds each attempt.
	Timeout time.Duration
	Retry   resilience.RetryPolicy
	Breaker *resilience.Breaker
	Limiter *Limiter
}

// Guarded wraps an Oracle with pacing, per-attempt timeouts, retries of
// transient failures and a breaker. Once the breaker opens, calls fail fast
// and callers use their fallback.
type Guarded struct {
	inner Oracle
	cfg   GuardConfig
}

// Guard wraps inner.
func Guard(inner Oracle, cfg GuardConfig) *Guarded {
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry.Attempts = 1
	}
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.LogRetry(inner.Name(), "ask")
	}
	if cfg.Breaker != nil {
		name := inner.Name()
		cfg.Breaker.OnStateChange(func(from, to resilience.BreakerState) {
			zap.L().Warn("oracle: breaker state changed",
				zap.String("provider", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		})
	}
	return &Guarded{inner: inner, cfg: cfg}
}

func (g *Guarded) Name() string { return g.inner.Name() }

func (g *Guarded) Ask(ctx context.Context, req Request) (Response, error) {
	call := func(ctx context.Context) (Response, error) {
		return resilience.Retry(ctx, g.cfg.Retry, func(ctx context.Context) (Response, error) {
			return g.once(ctx, req)
		})
	}
	if g.cfg.Breaker == nil {
		return call(ctx)
	}
	return resilience.Guard(ctx, g.cfg.Breaker, call)
}

func (g *Guarded) once(ctx context.Context, req Request) (Response, error) {
	if err := g.cfg.Limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return Response{}, eris.Wrap(err, "oracle: wait for rate limiter")
		}
		return Response{}, eris.Wrapf(ErrThrottled, "oracle: wait for rate limiter: %v", err)
	}

	callCtx := ctx
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	resp, err := g.inner.Ask(callCtx, req)
	if err != nil {
		var te *resilience.TransientError
		if errors.As(err, &te) && te.StatusCode == http.StatusTooManyRequests {
			g.cfg.Limiter.OnRateLimit()
		}
		return Response{}, err
	}
	g.cfg.Limiter.OnSuccess()
	return resp, nil
}
