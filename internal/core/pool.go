package core

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent store calls and gives each one a deadline.
type Pool struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

// NewPool allows size concurrent calls, each limited to timeout (zero means no limit).
func NewPool(size int, timeout time.Duration) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), timeout: timeout}
}

// Do runs fn once a slot is free. Waiting for a slot honors ctx.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return fn(ctx)
}

// Run is Do for calls that produce a value.
func Run[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}
