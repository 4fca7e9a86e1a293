// Package retry runs operations under an exponential backoff policy, alone
// or as a batch that only retries the items that failed.
package retry

import (
	"context"
	"errors"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/andresuchdata/dergi/internal/domain"
	"github.com/andresuchdata/dergi/pkg/logger"
)

// Classifier reports whether an error is worth another attempt.
type Classifier func(error) bool

// Policy is an immutable retry configuration.
type Policy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	// Retryable limits retries to matching errors. Nil retries every error.
	Retryable Classifier
}

// RetryableCodes matches errors carrying one of codes through domain.Coder.
func RetryableCodes(codes ...string) Classifier {
	allowed := append([]string(nil), codes...)
	return func(err error) bool {
		var coder domain.Coder
		if !errors.As(err, &coder) {
			return false
		}
		return domain.HasCode(coder.ErrorCode(), allowed)
	}
}

// UploadPolicy is applied to each page and cover upload.
func UploadPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		InitialDelay:      time.Second,
		MaxDelay:          4 * time.Second,
		BackoffMultiplier: 2,
		Retryable:         RetryableCodes(domain.TransientStorageCodes...),
	}
}

// StoragePolicy is applied to delete, move and list calls.
func StoragePolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2,
		Retryable:         RetryableCodes(domain.TransientStorageCodes...),
	}
}

// DatabasePolicy is applied to metadata store writes.
func DatabasePolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		InitialDelay:      200 * time.Millisecond,
		MaxDelay:          2 * time.Second,
		BackoffMultiplier: 2,
		Retryable:         RetryableCodes(domain.TransientDatabaseCodes...),
	}
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// BackOff returns the delay schedule of p: InitialDelay grown by
// BackoffMultiplier per attempt and capped at MaxDelay, without jitter.
func (p Policy) BackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.RandomizationFactor = 0
	b.Multiplier = p.BackoffMultiplier
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(p.attempts()-1))
}

type options struct {
	timer   func() backoff.Timer
	log     zerolog.Logger
	onRetry func(err error, delay time.Duration)
	limit   int
}

// Option customizes a Do or WithPartialRetry call.
type Option func(*options)

// WithTimer replaces the sleeping timer, mostly for tests.
func WithTimer(factory func() backoff.Timer) Option {
	return func(o *options) { o.timer = factory }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithOnRetry registers a hook called before each backoff sleep.
func WithOnRetry(fn func(err error, delay time.Duration)) Option {
	return func(o *options) { o.onRetry = fn }
}

// WithConcurrency bounds the first pass of WithPartialRetry.
func WithConcurrency(n int) Option {
	return func(o *options) { o.limit = n }
}

func buildOptions(opts []Option) options {
	o := options{
		log:   logger.Component("retry"),
		limit: 8,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// policy runs out of attempts. The last error is returned unchanged.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	o := buildOptions(opts)
	return do(ctx, p, op, o)
}

func do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error), o options) (T, error) {
	attempt := 0
	operation := func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err != nil && !p.retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	notify := func(err error, delay time.Duration) {
		o.log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", p.attempts()).
			Dur("delay", delay).
			Msg("operation failed, retrying")
		if o.onRetry != nil {
			o.onRetry(err, delay)
		}
	}

	var timer backoff.Timer
	if o.timer != nil {
		timer = o.timer()
	}

	return backoff.RetryNotifyWithTimerAndData(operation, backoff.WithContext(p.BackOff(), ctx), notify, timer)
}

// DoErr is Do for operations without a result.
func DoErr(ctx context.Context, p Policy, op func(ctx context.Context) error, opts ...Option) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts...)
	return err
}
