// Package worker provides a fixed-size pool that maps tasks to results.
package worker

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pool runs fn over tasks with at most Workers calls in flight.
type Pool[T, R any] struct {
	workers int
	fn      func(context.Context, T) R
}

// NewPool returns a pool of the given size; sizes below one are treated as one.
func NewPool[T, R any](workers int, fn func(context.Context, T) R) *Pool[T, R] {
	if workers < 1 {
		workers = 1
	}
	return &Pool[T, R]{workers: workers, fn: fn}
}

// Workers reports the pool size.
func (p *Pool[T, R]) Workers() int { return p.workers }

// Run dispatches tasks and streams results in completion order. The channel
// closes once every dispatched task has reported. Cancelling ctx stops
// dispatch; callers that stop reading early must cancel ctx to release the
// workers.
func (p *Pool[T, R]) Run(ctx context.Context, tasks []T) <-chan R {
	out := make(chan R, p.workers)

	go func() {
		defer close(out)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.workers)
		for _, task := range tasks {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				r := p.fn(gctx, task)
				select {
				case out <- r:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			})
		}
		_ = g.Wait()
	}()

	return out
}
