// Package resilience retries operations that fail transiently.
package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy controls how an operation is retried.
type Policy struct {
	// MaxAttempts counts the first try. 1 disables retries.
	MaxAttempts int

	// Backoff is the delay before the first retry; it doubles per attempt
	// up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration

	// Jitter spreads each delay by up to ±Jitter of its value.
	Jitter float64

	// Retryable decides whether an error is worth another attempt.
	// IsTransient when nil.
	Retryable func(err error) bool

	// OnRetry runs before each backoff sleep.
	OnRetry func(attempt int, err error)
}

// DefaultPolicy suits webhook deliveries.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     time.Second,
		MaxBackoff:  10 * time.Second,
		Jitter:      0.2,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Backoff < 0 {
		p.Backoff = 0
	}
	if p.MaxBackoff <= 0 || p.MaxBackoff < p.Backoff {
		p.MaxBackoff = p.Backoff
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	return p
}

// delay returns the sleep before retry number attempt (1-based).
func (p Policy) delay(attempt int) time.Duration {
	d := p.Backoff
	for i := 1; i < attempt && d < p.MaxBackoff; i++ {
		d *= 2
	}
	if d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	if p.Jitter > 0 && d > 0 {
		spread := float64(d) * p.Jitter
		d += time.Duration((rand.Float64()*2 - 1) * spread)
	}
	if d < 0 {
		return 0
	}
	return d
}

// Do runs fn until it succeeds, returns a non-retryable error, exhausts
// p.MaxAttempts or ctx ends. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p = p.normalized()

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil || !p.Retryable(err) || attempt >= p.MaxAttempts {
			return err
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}

		timer := time.NewTimer(p.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

// LogRetries returns an OnRetry hook that logs a warning per retry.
func LogRetries(component, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation",
			zap.String("component", component),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
