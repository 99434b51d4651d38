package handlers

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimiter is a per-client token bucket guarding the admin endpoints.
type RateLimiter struct {
	// TrustProxy takes the client from X-Forwarded-For when set.
	TrustProxy bool

	mu       sync.Mutex
	clients  map[string]*bucket
	rate     int // tokens per interval
	burst    int // max tokens
	interval time.Duration
	done     chan struct{}
	once     sync.Once
}

type bucket struct {
	tokens   int
	lastTime time.Time
}

// NewRateLimiter allows rate requests per interval per client, with burst
// capacity. Stale clients are swept every five minutes until Stop.
func NewRateLimiter(rate, burst int, interval time.Duration) *RateLimiter {
	if burst < rate {
		burst = rate
	}
	rl := &RateLimiter{
		clients:  make(map[string]*bucket),
		rate:     rate,
		burst:    burst,
		interval: interval,
		done:     make(chan struct{}),
	}
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.sweep(time.Now().Add(-10 * time.Minute))
			case <-rl.done:
				return
			}
		}
	}()
	return rl
}

func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.done) })
}

func (rl *RateLimiter) sweep(cutoff time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for client, b := range rl.clients {
		if b.lastTime.Before(cutoff) {
			delete(rl.clients, client)
		}
	}
}

func (rl *RateLimiter) allow(client string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.clients[client]
	if !ok {
		rl.clients[client] = &bucket{tokens: rl.burst - 1, lastTime: now}
		return true
	}

	if refill := int(now.Sub(b.lastTime)/rl.interval) * rl.rate; refill > 0 {
		b.tokens += refill
		if b.tokens > rl.burst {
			b.tokens = rl.burst
		}
		b.lastTime = now
	}
	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

func (rl *RateLimiter) clientOf(r *http.Request) string {
	if rl.TrustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			return strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Middleware wraps next with rate limiting.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(rl.clientOf(r), time.Now()) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
