// Package resilience provides the retry and circuit-breaker primitives used
// around external calls: batch writes to the vector store and embedding
// requests to the model backend.
//
// [Policy] is an explicit retry policy object (attempt budget plus an
// exponential backoff schedule) rather than a decorator: callers hand it an
// operation and it owns the sleep/retry loop. [Breaker] is a three-state
// circuit breaker for the embedding service path.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Policy describes how an operation is retried. The zero value is not
// useful; construct via struct literal and rely on defaults for unset
// fields, applied on first use:
//
//	MaxAttempts    3
//	InitialBackoff 1s
//	MaxBackoff     10s
//	Multiplier     2
//
// A Policy value is immutable and may be shared across goroutines.
type Policy struct {
	// Name labels the policy in log lines (e.g. "batch-upload").
	Name string

	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the per-step delay as the schedule grows.
	MaxBackoff time.Duration

	// Multiplier scales the delay between consecutive attempts.
	Multiplier float64
}

// withDefaults returns a copy of p with zero fields replaced.
func (p Policy) withDefaults() Policy {
	if p.Name == "" {
		p.Name = "retry"
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = time.Second
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 10 * time.Second
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2
	}
	return p
}

// Backoff returns the delay inserted after the attempt-th failed attempt
// (1-based). The schedule grows geometrically from InitialBackoff and is
// capped at MaxBackoff: with defaults 1s, 2s, 4s, … ≤ 10s.
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()
	d := float64(p.InitialBackoff)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
		if d >= float64(p.MaxBackoff) {
			return p.MaxBackoff
		}
	}
	if d > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(d)
}

// Do runs op until it succeeds, the attempt budget is exhausted, or ctx is
// done. Between attempts it sleeps the scheduled backoff; cancellation
// during the sleep aborts immediately with the context error.
//
// On exhaustion the last error is returned wrapped with the attempt count,
// so callers can still errors.Is/As against the underlying failure.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	p = p.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Backoff(attempt)
		slog.Debug("operation failed, retrying",
			"policy", p.Name,
			"attempt", attempt,
			"max_attempts", p.MaxAttempts,
			"backoff", delay,
			"err", lastErr,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("%s: all %d attempts failed: %w", p.Name, p.MaxAttempts, lastErr)
}
