package connectivity

import (
	"context"
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // calls pass through
	BreakerOpen                         // calls rejected
	BreakerHalfOpen                     // probe calls allowed
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	}
	return "closed"
}

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	Threshold int              // consecutive failures that open the circuit (default 5)
	Cooldown  time.Duration    // time spent open before probing (default 30s)
	Probes    int              // successes in half-open needed to close (default 2)
	Now       func() time.Time // clock (default time.Now)
}

func (c *BreakerConfig) defaults() {
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.Probes <= 0 {
		c.Probes = 2
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Breaker stops calling an endpoint that keeps failing. Status errors in the
// 4xx range count as successes: the endpoint answered.
type Breaker struct {
	cfg      BreakerConfig
	mu       sync.Mutex
	state    BreakerState
	failures int
	probes   int
	openedAt time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	cfg.defaults()
	return &Breaker{cfg: cfg}
}

// State returns the current state, moving open to half-open once the
// cooldown elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() BreakerState {
	if b.state == BreakerOpen && b.cfg.Now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.state = BreakerHalfOpen
		b.probes = 0
	}
	return b.state
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked() != BreakerOpen
}

// Record feeds the outcome of a call into the breaker.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil || (StatusCode(err) >= 400 && StatusCode(err) < 500) {
		switch b.state {
		case BreakerHalfOpen:
			if b.probes++; b.probes >= b.cfg.Probes {
				b.state, b.failures, b.probes = BreakerClosed, 0, 0
			}
		case BreakerClosed:
			b.failures = 0
		}
		return
	}
	switch b.state {
	case BreakerClosed:
		if b.failures++; b.failures >= b.cfg.Threshold {
			b.state, b.openedAt = BreakerOpen, b.cfg.Now()
		}
	case BreakerHalfOpen:
		b.state, b.openedAt, b.probes = BreakerOpen, b.cfg.Now(), 0
	}
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.state, b.failures, b.probes = BreakerClosed, 0, 0
	b.mu.Unlock()
}

// WithBreaker rejects calls with *ErrCircuitOpen while b is open.
func WithBreaker(b *Breaker, service string) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			if !b.Allow() {
				return nil, &ErrCircuitOpen{Service: service}
			}
			resp, err := next(ctx, payload)
			b.Record(err)
			return resp, err
		}
	}
}
