package oracle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Limiter paces oracle calls. It halves its rate when the provider answers
// 429 and recovers by 20% per success, never above the configured rate.
type Limiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	initial rate.Limit
	floor   rate.Limit
	current rate.Limit
}

// NewLimiter allows perMinute calls per minute. A non-positive value
// returns nil, which never blocks.
func NewLimiter(perMinute int) *Limiter {
	if perMinute <= 0 {
		return nil
	}
	r := rate.Every(time.Minute / time.Duration(perMinute))
	return &Limiter{
		limiter: rate.NewLimiter(r, 1),
		initial: r,
		floor:   r / 8,
		current: r,
	}
}

// Wait blocks until the next call is allowed.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}

// OnSuccess moves the rate back toward the configured one.
func (l *Limiter) OnSuccess() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current >= l.initial {
		return
	}
	l.current = min(l.current*1.2, l.initial)
	l.limiter.SetLimit(l.current)
}

// OnRateLimit halves the rate.
func (l *Limiter) OnRateLimit() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = max(l.current*0.5, l.floor)
	l.limiter.SetLimit(l.current)
	zap.L().Warn("oracle: provider rate limited, slowing down",
		zap.Float64("calls_per_minute", float64(l.current)*60),
	)
}

// Limit returns the current rate.
func (l *Limiter) Limit() rate.Limit {
	if l == nil {
		return rate.Inf
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}
