package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"diariodigest/internal/ratelimit"

	"golang.org/x/net/html/charset"
)

const maxBody = 4 * 1024 * 1024

type backoffer interface {
	Backoff(rawURL string, d time.Duration)
}

// HTTPStrategy fetches pages with a plain GET.
type HTTPStrategy struct {
	Client          *http.Client
	Limiter         ratelimit.Limiter
	UserAgent       string
	Timeout         time.Duration
	NoContentMarker string
}

// NewHTTPStrategy builds a strategy with a dedicated client.
func NewHTTPStrategy(limiter ratelimit.Limiter, userAgent string, timeout time.Duration, marker string) *HTTPStrategy {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if limiter == nil {
		limiter = ratelimit.Noop{}
	}
	return &HTTPStrategy{
		Client:          &http.Client{Timeout: timeout},
		Limiter:         limiter,
		UserAgent:       userAgent,
		Timeout:         timeout,
		NoContentMarker: marker,
	}
}

func (s *HTTPStrategy) Fetch(ctx context.Context, rawURL string) (*Snapshot, error) {
	if err := s.Limiter.Wait(ctx, rawURL); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", s.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "es-CL,es;q=0.9,en;q=0.8")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, classify(err, rawURL, StrategyHTTP)
	}
	defer resp.Body.Close()

	reader, err := charset.NewReader(io.LimitReader(resp.Body, maxBody), resp.Header.Get("Content-Type"))
	if err != nil {
		reader = io.LimitReader(resp.Body, maxBody)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, classify(err, rawURL, StrategyHTTP)
	}
	html := string(body)

	snap := &Snapshot{
		URL:         rawURL,
		FinalURL:    resp.Request.URL.String(),
		HTML:        html,
		Strategy:    StrategyHTTP,
		StatusCode:  resp.StatusCode,
		RetrievedAt: time.Now(),
		NoContent:   hasMarker(html, s.NoContentMarker),
	}
	if snap.NoContent {
		return snap, nil
	}

	if sig, blocked := detectAntiBot(html, s.NoContentMarker); blocked {
		return nil, &FetchError{Kind: AntiBotBlocked, URL: rawURL, Status: resp.StatusCode, Strategy: StrategyHTTP,
			Err: fmt.Errorf("challenge signature %q", sig)}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		if b, ok := s.Limiter.(backoffer); ok {
			b.Backoff(rawURL, 60*time.Second)
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Kind: HTTPError, URL: rawURL, Status: resp.StatusCode, Strategy: StrategyHTTP}
	}
	return snap, nil
}

const maxDocument = 16 * 1024 * 1024

// Download fetches a binary document such as a gazette PDF. It shares the
// limiter and error kinds of Fetch but does no decoding or challenge checks.
func (s *HTTPStrategy) Download(ctx context.Context, rawURL string) ([]byte, error) {
	if err := s.Limiter.Wait(ctx, rawURL); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", s.UserAgent)
	req.Header.Set("Accept", "application/pdf,*/*;q=0.8")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, classify(err, rawURL, StrategyHTTP)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Kind: HTTPError, URL: rawURL, Status: resp.StatusCode, Strategy: StrategyHTTP}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocument))
	if err != nil {
		return nil, classify(err, rawURL, StrategyHTTP)
	}
	return data, nil
}
