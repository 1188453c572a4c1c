package utils

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds how many callers hold a slot at once. A nil *Limiter never blocks.
type Limiter struct {
	sem  *semaphore.Weighted
	size int
}

// NewLimiter returns nil when n <= 0.
func NewLimiter(n int) *Limiter {
	if n <= 0 {
		return nil
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(n)), size: n}
}

// Acquire waits for a free slot until ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.sem.Acquire(ctx, 1)
}

func (l *Limiter) TryAcquire() bool {
	if l == nil {
		return true
	}
	return l.sem.TryAcquire(1)
}

func (l *Limiter) Release() {
	if l == nil {
		return
	}
	l.sem.Release(1)
}

func (l *Limiter) Size() int {
	if l == nil {
		return 0
	}
	return l.size
}
