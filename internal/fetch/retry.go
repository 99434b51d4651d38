package fetch

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"diariodigest/internal/metrics"
)

// Retrying retries retryable FetchErrors with capped exponential backoff
// and jitter. Anything else, including snapshots with the no-content
// marker, is returned straight away.
type Retrying struct {
	Next      Fetcher
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Observer  metrics.Observer
}

func NewRetrying(next Fetcher, attempts int, base time.Duration, obs metrics.Observer) *Retrying {
	if attempts <= 0 {
		attempts = 3
	}
	if obs == nil {
		obs = metrics.Nop{}
	}
	return &Retrying{Next: next, Attempts: attempts, BaseDelay: base, MaxDelay: 30 * time.Second, Observer: obs}
}

// delay is base * 2^(attempt-1) capped at MaxDelay, plus up to 25% jitter.
func (r *Retrying) delay(attempt int) time.Duration {
	d := r.BaseDelay << uint(attempt-1)
	if r.MaxDelay > 0 && (d > r.MaxDelay || d <= 0) {
		d = r.MaxDelay
	}
	if d <= 0 {
		return 0
	}
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}

func (r *Retrying) Fetch(ctx context.Context, url string) (*Snapshot, error) {
	var lastErr error
	for attempt := 1; attempt <= r.Attempts; attempt++ {
		snap, err := r.Next.Fetch(ctx, url)
		if err == nil {
			return snap, nil
		}
		lastErr = err

		var fe *FetchError
		if !errors.As(err, &fe) || !fe.Retryable() || attempt == r.Attempts {
			break
		}
		wait := r.delay(attempt)
		r.Observer.Emit(metrics.Event{Name: metrics.FetchRetried, Fields: map[string]interface{}{
			"url": url, "attempt": attempt, "kind": string(fe.Kind), "wait": wait.String(),
		}})
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return nil, lastErr
}
