package msgerr

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryOptions configures Retry. Zero values fall back to the defaults below.
type RetryOptions struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// RetryIf decides whether a failed attempt is retried. Defaults to
	// IsRetryable.
	RetryIf func(error) bool
	// OnRetry is called before each retry with the attempt number (1-based)
	// and the delay that follows.
	OnRetry func(attempt int, err error, delay time.Duration)
}

const (
	defaultRetryMaxRetries   = 3
	defaultRetryInitialDelay = time.Second
	defaultRetryMaxDelay     = 30 * time.Second
	defaultRetryMultiplier   = 2.0
)

// OptionsFromPolicy derives retry options from an error definition's policy.
func OptionsFromPolicy(p RetryPolicy) RetryOptions {
	return RetryOptions{MaxRetries: p.MaxRetries, InitialDelay: p.Delay}
}

func (o RetryOptions) withDefaults() RetryOptions {
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultRetryMaxRetries
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = defaultRetryInitialDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = defaultRetryMaxDelay
	}
	if o.MaxDelay < o.InitialDelay {
		o.MaxDelay = o.InitialDelay
	}
	if o.Multiplier < 1 {
		o.Multiplier = defaultRetryMultiplier
	}
	if o.RetryIf == nil {
		o.RetryIf = IsRetryable
	}
	return o
}

// Retry runs op until it succeeds, returns a non-retryable error, the retry
// budget is spent or ctx is done. Delays grow exponentially.
func Retry[T any](ctx context.Context, op func(context.Context) (T, error), opts RetryOptions) (T, error) {
	opts = opts.withDefaults()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = opts.InitialDelay
	policy.MaxInterval = opts.MaxDelay
	policy.Multiplier = opts.Multiplier
	policy.RandomizationFactor = 0

	attempt := 0
	operation := func() (T, error) {
		res, err := op(ctx)
		if err != nil && !opts.RetryIf(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(opts.MaxRetries+1)),
		backoff.WithNotify(func(err error, delay time.Duration) {
			attempt++
			if opts.OnRetry != nil {
				opts.OnRetry(attempt, err, delay)
			}
		}),
	)
}
