// Package ratelimit throttles outbound requests per domain.
package ratelimit

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"diariodigest/internal/logger"
)

// Limiter gates requests to a URL's domain.
type Limiter interface {
	// Wait blocks until a slot is free for rawURL's domain or ctx is done.
	Wait(ctx context.Context, rawURL string) error
	// Allow takes a slot without blocking and reports whether one was free.
	Allow(rawURL string) bool
}

// Noop never throttles.
type Noop struct{}

func (Noop) Wait(context.Context, string) error { return nil }
func (Noop) Allow(string) bool                  { return true }

type limit struct {
	max    int
	period time.Duration
}

type window struct {
	max    int
	period time.Duration
	stamps []time.Time
}

// prune drops timestamps that fell out of the window.
func (w *window) prune(now time.Time) {
	cut := 0
	for cut < len(w.stamps) && !w.stamps[cut].After(now.Add(-w.period)) {
		cut++
	}
	w.stamps = w.stamps[cut:]
}

// DomainLimiter is a sliding-window limiter keyed by host: at most max
// requests per period for each domain. A 429 puts the domain into backoff.
type DomainLimiter struct {
	mu        sync.Mutex
	max       int
	period    time.Duration
	overrides map[string]limit
	windows   map[string]*window
	backoffs  map[string]time.Time
}

// NewDomainLimiter defaults to 10 requests per 60 seconds when given zeros.
func NewDomainLimiter(max int, period time.Duration) *DomainLimiter {
	if max <= 0 {
		max = 10
	}
	if period <= 0 {
		period = 60 * time.Second
	}
	return &DomainLimiter{
		max:       max,
		period:    period,
		overrides: make(map[string]limit),
		windows:   make(map[string]*window),
		backoffs:  make(map[string]time.Time),
	}
}

// Configure sets a different limit for one domain, resetting its window.
func (d *DomainLimiter) Configure(domain string, max int, period time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	domain = strings.ToLower(domain)
	d.overrides[domain] = limit{max: max, period: period}
	delete(d.windows, domain)
}

func extractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func (d *DomainLimiter) windowLocked(domain string) *window {
	w, ok := d.windows[domain]
	if !ok {
		w = &window{max: d.max, period: d.period}
		if o, ok := d.overrides[domain]; ok {
			w.max, w.period = o.max, o.period
		}
		d.windows[domain] = w
	}
	return w
}

// reserve takes a slot if one is free, otherwise returns how long to wait.
func (d *DomainLimiter) reserve(domain string) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if until, ok := d.backoffs[domain]; ok {
		if now.Before(until) {
			return until.Sub(now)
		}
		delete(d.backoffs, domain)
	}

	w := d.windowLocked(domain)
	w.prune(now)
	if len(w.stamps) < w.max {
		w.stamps = append(w.stamps, now)
		return 0
	}
	return w.stamps[0].Add(w.period).Sub(now) + 10*time.Millisecond
}

func (d *DomainLimiter) Wait(ctx context.Context, rawURL string) error {
	domain := extractDomain(rawURL)
	if domain == "" {
		return nil
	}
	for {
		wait := d.reserve(domain)
		if wait <= 0 {
			return nil
		}
		logger.Debug("ratelimit: waiting", map[string]interface{}{"domain": domain, "wait": wait.String()})
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (d *DomainLimiter) Allow(rawURL string) bool {
	domain := extractDomain(rawURL)
	if domain == "" {
		return true
	}
	return d.reserve(domain) == 0
}

// Backoff blocks the domain for dur, typically after a 429.
func (d *DomainLimiter) Backoff(rawURL string, dur time.Duration) {
	domain := extractDomain(rawURL)
	if domain == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.backoffs[domain] = time.Now().Add(dur)
	logger.Warn("ratelimit: domain backoff", map[string]interface{}{"domain": domain, "duration": dur.String()})
}
