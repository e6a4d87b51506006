package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Do] while the breaker is open and
// its cooldown has not elapsed. The embed server maps it to 503.
var ErrBreakerOpen = errors.New("breaker is open")

// BreakerState is the current operating mode of a [Breaker].
type BreakerState int

const (
	// BreakerClosed forwards all calls.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects calls until the cooldown elapses.
	BreakerOpen

	// BreakerHalfOpen lets a single probe call through; its outcome decides
	// whether the breaker closes again or re-opens.
	BreakerHalfOpen
)

// String returns the lowercase state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is a three-state circuit breaker. It opens after Threshold
// consecutive failures, stays open for Cooldown, then allows one probe call.
// A successful probe closes it; a failed probe re-opens it for another
// cooldown period.
//
// Breaker is safe for concurrent use.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

// BreakerConfig holds tuning knobs for [NewBreaker]. Zero values get
// defaults: Threshold 5, Cooldown 30s.
type BreakerConfig struct {
	// Name labels the breaker in log lines.
	Name string

	// Threshold is the consecutive-failure count that opens the breaker.
	Threshold int

	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
}

// NewBreaker creates a closed [Breaker] from cfg.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{
		name:      cfg.Name,
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
	}
}

// Do runs op if the breaker allows it, recording the outcome. While open it
// returns [ErrBreakerOpen] without calling op.
func (b *Breaker) Do(op func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := op()
	b.record(err)
	return err
}

// State returns the effective state, accounting for an elapsed cooldown.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && time.Since(b.openedAt) >= b.cooldown {
		return BreakerHalfOpen
	}
	return b.state
}

// admit decides whether a call may proceed, transitioning open → half-open
// when the cooldown has elapsed.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if time.Since(b.openedAt) < b.cooldown {
			return ErrBreakerOpen
		}
		b.state = BreakerHalfOpen
		b.probing = false
		slog.Info("breaker half-open, probing", "name", b.name)
		fallthrough

	case BreakerHalfOpen:
		if b.probing {
			// One probe at a time.
			return ErrBreakerOpen
		}
		b.probing = true
	}
	return nil
}

// record updates breaker state from a call outcome.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.probing = false
		if err != nil {
			b.state = BreakerOpen
			b.openedAt = time.Now()
			slog.Warn("breaker re-opened after failed probe", "name", b.name)
		} else {
			b.state = BreakerClosed
			b.failures = 0
			slog.Info("breaker closed after successful probe", "name", b.name)
		}
		return
	}

	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.state == BreakerClosed && b.failures >= b.threshold {
		b.state = BreakerOpen
		b.openedAt = time.Now()
		slog.Warn("breaker opened",
			"name", b.name,
			"consecutive_failures", b.failures,
		)
	}
}
