package ingest

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// mapBounded applies fn to every item with at most limit calls in flight and returns
// the results in input order. fn cannot fail, so one item never cancels another. A
// single item runs on the calling goroutine.
func mapBounded[T, R any](ctx context.Context, limit int, items []T, fn func(context.Context, T) R) []R {
	out := make([]R, len(items))
	if len(items) == 1 {
		out[0] = fn(ctx, items[0])
		return out
	}

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, item := range items {
		g.Go(func() error {
			out[i] = fn(ctx, item)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
