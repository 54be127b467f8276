package scraper

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ParallelMap applies fn to every item using at most workers goroutines and
// returns the results aligned with the input positions.
//
// The first error returned by fn cancels the context passed to the remaining
// calls and is returned once every started call has finished. Errors are never
// swallowed: callers that want per-item tolerance must handle the error inside
// fn and return nil (see [FetchAll]).
//
// workers < 1 is treated as 1, which runs the items sequentially in order.
//
// Example:
//
//	sizes, err := scraper.ParallelMap(ctx, urls, 8, func(ctx context.Context, u string) (int64, error) {
//	    return head(ctx, u)
//	})
func ParallelMap[T, R any](ctx context.Context, items []T, workers int, fn func(context.Context, T) (R, error)) ([]R, error) {
	results := make([]R, len(items))
	if len(items) == 0 {
		return results, nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(max(workers, 1))

	for i, item := range items {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			r, err := fn(groupCtx, item)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ParallelEach is ParallelMap for functions without a result.
func ParallelEach[T any](ctx context.Context, items []T, workers int, fn func(context.Context, T) error) error {
	_, err := ParallelMap(ctx, items, workers, func(ctx context.Context, item T) (struct{}, error) {
		return struct{}{}, fn(ctx, item)
	})
	return err
}
