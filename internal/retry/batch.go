package retry

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Failure is an item that still failed after its retries.
type Failure[T any] struct {
	Item T
	Err  error
}

// BatchResult partitions the items of a batch. Both slices keep input order
// and every item lands in exactly one of them.
type BatchResult[T any] struct {
	Successes []T
	Failures  []Failure[T]
}

// Total returns the number of items the batch was run with.
func (r BatchResult[T]) Total() int {
	return len(r.Successes) + len(r.Failures)
}

// Complete reports whether every item succeeded.
func (r BatchResult[T]) Complete() bool {
	return len(r.Failures) == 0
}

// WithPartialRetry runs op once for every item, then retries only the
// items whose error the policy classifies as retryable. Items that ever
// succeed are reported once in Successes.
func WithPartialRetry[T any](ctx context.Context, items []T, p Policy, op func(ctx context.Context, item T) error, opts ...Option) BatchResult[T] {
	o := buildOptions(opts)
	errs := make([]error, len(items))

	runAll(ctx, o.limit, len(items), func(i int) {
		errs[i] = op(ctx, items[i])
	})

	var pending []int
	for i, err := range errs {
		if err != nil && p.retryable(err) {
			pending = append(pending, i)
		}
	}

	if len(pending) > 0 {
		o.log.Info().
			Int("failed", len(pending)).
			Int("total", len(items)).
			Msg("retrying failed batch items")

		runAll(ctx, o.limit, len(pending), func(j int) {
			i := pending[j]
			_, errs[i] = do(ctx, p, func(ctx context.Context) (struct{}, error) {
				return struct{}{}, op(ctx, items[i])
			}, o)
		})
	}

	var result BatchResult[T]
	for i, err := range errs {
		if err == nil {
			result.Successes = append(result.Successes, items[i])
			continue
		}
		result.Failures = append(result.Failures, Failure[T]{Item: items[i], Err: err})
	}
	return result
}

// runAll calls fn for 0..n-1 with at most limit calls in flight. fn never
// fails the group, so every index runs.
func runAll(ctx context.Context, limit, n int, fn func(i int)) {
	g, _ := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := 0; i < n; i++ {
		g.Go(func() error {
			fn(i)
			return nil
		})
	}
	_ = g.Wait()
}
