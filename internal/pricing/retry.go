package pricing

import (
	"context"
	"math"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/lmkt/candle-indexer/internal/config"
)

// RetryPolicy bounds how an operation is retried. The delay before retry n
// (starting at 0) is InitialDelay * BackoffMultiplier^n.
type RetryPolicy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	BackoffMultiplier float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		InitialDelay:      time.Second,
		BackoffMultiplier: 2,
	}
}

func RetryPolicyFromConfig(cfg *config.PricingConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialDelay > 0 {
		p.InitialDelay = cfg.InitialDelay
	}
	if cfg.BackoffMultiplier > 0 {
		p.BackoffMultiplier = cfg.BackoffMultiplier
	}
	return p
}

// Delays lists the waits between attempts under this policy.
func (p RetryPolicy) Delays() []time.Duration {
	if p.MaxAttempts <= 1 {
		return nil
	}
	b := p.backoff()
	out := make([]time.Duration, 0, p.MaxAttempts-1)
	for {
		d, stop := b.Next()
		if stop {
			return out
		}
		out = append(out, d)
	}
}

// backoff returns a fresh go-retry backoff; backoffs are stateful so every
// Retry call needs its own.
func (p RetryPolicy) backoff() retry.Backoff {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var n float64
	b := retry.BackoffFunc(func() (time.Duration, bool) {
		d := time.Duration(float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, n))
		n++
		return d, false
	})
	return retry.WithMaxRetries(uint64(attempts-1), b)
}

// Retry runs op until it succeeds, the policy's attempts are used up, or ctx
// is done. On exhaustion the last error from op is returned. Sleeping blocks
// only the calling goroutine.
func Retry[T any](ctx context.Context, policy RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := retry.Do(ctx, policy.backoff(), func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return retry.RetryableError(err)
		}
		result = v
		return nil
	})
	return result, err
}
