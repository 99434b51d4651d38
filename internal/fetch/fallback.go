package fetch

import (
	"context"
	"net/url"
	"sync"
	"time"

	"diariodigest/internal/logger"
	"diariodigest/internal/metrics"
)

// CircuitState of a host's primary strategy.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// Circuit tracks consecutive blocks of the primary strategy for one host.
type Circuit struct {
	State       CircuitState `json:"state"`
	Failures    int          `json:"failures"`
	LastFailure time.Time    `json:"last_failure,omitempty"`
	NextRetryAt time.Time    `json:"next_retry_at,omitempty"`
}

// Breaker remembers hosts whose primary strategy is blocked.
type Breaker struct {
	Threshold int
	Cooldown  time.Duration

	mu       sync.Mutex
	circuits map[string]*Circuit
}

func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &Breaker{Threshold: threshold, Cooldown: cooldown, circuits: make(map[string]*Circuit)}
}

func (b *Breaker) circuitLocked(name string) *Circuit {
	c, ok := b.circuits[name]
	if !ok {
		c = &Circuit{State: CircuitClosed}
		b.circuits[name] = c
	}
	return c
}

// RecordSuccess closes the circuit.
func (b *Breaker) RecordSuccess(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.circuitLocked(name)
	if c.State != CircuitClosed {
		logger.Info("fetch: circuit closed", map[string]interface{}{"host": name})
	}
	c.State = CircuitClosed
	c.Failures = 0
}

// RecordFailure opens the circuit once Threshold consecutive failures are
// seen, or immediately when a half-open probe fails.
func (b *Breaker) RecordFailure(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.circuitLocked(name)
	c.Failures++
	c.LastFailure = time.Now()
	if c.Failures >= b.Threshold || c.State == CircuitHalfOpen {
		c.State = CircuitOpen
		c.NextRetryAt = time.Now().Add(b.Cooldown)
		logger.Warn("fetch: circuit opened", map[string]interface{}{
			"host": name, "failures": c.Failures, "retry_at": c.NextRetryAt.Format(time.RFC3339),
		})
	}
}

// ShouldSkip reports whether the primary should be bypassed. An open
// circuit past its cool-down turns half-open and lets one probe through.
func (b *Breaker) ShouldSkip(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.circuitLocked(name)
	if c.State != CircuitOpen {
		return false
	}
	if time.Now().After(c.NextRetryAt) {
		c.State = CircuitHalfOpen
		logger.Info("fetch: circuit half-open, probing primary", map[string]interface{}{"host": name})
		return false
	}
	return true
}

// States returns a copy of every circuit, for status pages.
func (b *Breaker) States() map[string]Circuit {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]Circuit, len(b.circuits))
	for k, v := range b.circuits {
		out[k] = *v
	}
	return out
}

// Fallback tries the primary strategy and switches to the secondary when
// the primary is blocked by anti-bot protection.
type Fallback struct {
	Primary   Fetcher
	Secondary Fetcher
	Breaker   *Breaker
	Observer  metrics.Observer
}

func NewFallback(primary, secondary Fetcher, breaker *Breaker, obs metrics.Observer) *Fallback {
	if breaker == nil {
		breaker = NewBreaker(1, 30*time.Minute)
	}
	if obs == nil {
		obs = metrics.Nop{}
	}
	return &Fallback{Primary: primary, Secondary: secondary, Breaker: breaker, Observer: obs}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Hostname()
}

func (f *Fallback) Fetch(ctx context.Context, rawURL string) (*Snapshot, error) {
	host := hostOf(rawURL)
	if f.Secondary != nil && f.Breaker.ShouldSkip(host) {
		f.emit(rawURL, "circuit_open")
		return f.Secondary.Fetch(ctx, rawURL)
	}

	snap, err := f.Primary.Fetch(ctx, rawURL)
	if err == nil {
		f.Breaker.RecordSuccess(host)
		return snap, nil
	}
	if !IsBlocked(err) || f.Secondary == nil {
		return nil, err
	}
	f.Breaker.RecordFailure(host)
	f.emit(rawURL, "blocked")
	return f.Secondary.Fetch(ctx, rawURL)
}

func (f *Fallback) emit(rawURL, reason string) {
	f.Observer.Emit(metrics.Event{Name: metrics.StrategyFallback, Fields: map[string]interface{}{
		"url": rawURL, "reason": reason,
	}})
}
