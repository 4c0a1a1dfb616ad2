// Package parallel runs loops over index ranges on a bounded set of goroutines.
package parallel

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Range splits [0,n) into at most workers contiguous ranges and runs fn on
// each concurrently. The first error cancels ctx for the others.
func Range(ctx context.Context, n, workers int, fn func(ctx context.Context, lo, hi int) error) error {
	if n == 0 {
		return nil
	}
	workers = max(1, min(workers, n))
	chunk := (n + workers - 1) / workers

	g, ctx := errgroup.WithContext(ctx)
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(ctx, lo, hi)
		})
	}
	return g.Wait()
}

// Each runs fn for every i in [0,n) with workers goroutines claiming the next
// unprocessed index from a shared counter, for workloads of uneven size.
func Each(ctx context.Context, n, workers int, fn func(ctx context.Context, worker, i int) error) error {
	if n == 0 {
		return nil
	}
	workers = max(1, min(workers, n))

	var next atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	for w := range workers {
		g.Go(func() error {
			for {
				i := int(next.Add(1) - 1)
				if i >= n {
					return nil
				}
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := fn(ctx, w, i); err != nil {
					return err
				}
			}
		})
	}
	return g.Wait()
}
