package parallel

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Map calls mapFunc for every element of input, running at most limit calls
// at a time, and returns the results in input order. The first error cancels
// the context passed to the remaining calls and is returned.
//
//	details, err := parallel.Map(ctx, 8, dirs, loadDetails)
func Map[E, D any](ctx context.Context, limit int, input []E, mapFunc func(context.Context, E) (D, error)) ([]D, error) {
	if limit < 1 {
		limit = 1
	}
	out := make([]D, len(input))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, e := range input {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			d, err := mapFunc(gctx, e)
			if err != nil {
				return err
			}
			out[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
