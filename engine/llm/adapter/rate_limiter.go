package llmadapter

import (
	"context"
	"math"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// RateLimiter throttles calls to one provider by concurrency and requests per minute.
// A nil *RateLimiter never blocks.
type RateLimiter struct {
	provider string
	sem      *semaphore.Weighted
	limiter  *rate.Limiter

	active   atomic.Int32
	rejected atomic.Int64
	total    atomic.Int64
}

// RateLimiterSnapshot exposes limiter counters for tests and diagnostics.
type RateLimiterSnapshot struct {
	ActiveRequests   int32
	RejectedRequests int64
	TotalRequests    int64
}

// NewRateLimiter returns nil when both limits are disabled.
func NewRateLimiter(provider string, concurrency int, requestsPerMinute float64) *RateLimiter {
	if concurrency <= 0 && requestsPerMinute <= 0 {
		return nil
	}
	l := &RateLimiter{provider: provider}
	if concurrency > 0 {
		l.sem = semaphore.NewWeighted(int64(concurrency))
	}
	if requestsPerMinute > 0 {
		perSecond := requestsPerMinute / 60.0
		l.limiter = rate.NewLimiter(rate.Limit(perSecond), computeBurst(perSecond))
	}
	return l
}

func computeBurst(perSecond float64) int {
	if perSecond <= 1 {
		return 1
	}
	return int(math.Ceil(perSecond))
}

// Acquire waits for a slot. Every successful Acquire must be paired with Release.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	if l == nil {
		return nil
	}
	l.total.Add(1)
	if l.sem != nil {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			l.rejected.Add(1)
			return NewErrorWithCode(ErrCodeRateLimit, "provider concurrency wait canceled", l.provider, err)
		}
	}
	l.active.Add(1)
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			l.Release()
			l.rejected.Add(1)
			return NewErrorWithCode(ErrCodeRateLimit, "provider request rate wait canceled", l.provider, err)
		}
	}
	return nil
}

func (l *RateLimiter) Release() {
	if l == nil {
		return
	}
	l.active.Add(-1)
	if l.sem != nil {
		l.sem.Release(1)
	}
}

func (l *RateLimiter) Snapshot() RateLimiterSnapshot {
	if l == nil {
		return RateLimiterSnapshot{}
	}
	return RateLimiterSnapshot{
		ActiveRequests:   l.active.Load(),
		RejectedRequests: l.rejected.Load(),
		TotalRequests:    l.total.Load(),
	}
}
