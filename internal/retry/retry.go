// Package retry provides an explicit retry helper with exponential backoff
// and jitter, replacing the decorator-based retry wrapping of the original
// implementation with a plain function value plus config.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Config controls backoff behavior for Do.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	MaxDelay    time.Duration
	JitterFrac  float64
}

// DefaultConfig matches the ±25% jitter, base 0.5s, factor 2, cap 10s, max 3
// attempts policy for transient transport failures.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		Factor:      2.0,
		MaxDelay:    10 * time.Second,
		JitterFrac:  0.25,
	}
}

// Do invokes fn up to cfg.MaxAttempts times, sleeping with exponential
// backoff and jitter between attempts. It returns the last error if every
// attempt fails, or nil as soon as fn succeeds. ctx cancellation aborts
// immediately between attempts.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	var lastErr error
	delay := cfg.BaseDelay

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(addJitter(delay, cfg.JitterFrac)):
			}
			delay = time.Duration(float64(delay) * cfg.Factor)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}

		if err := fn(); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	return lastErr
}

func addJitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	jitter := float64(d) * frac
	delta := (rand.Float64()*2 - 1) * jitter
	result := time.Duration(float64(d) + delta)
	if result < 0 {
		return 0
	}
	return result
}
