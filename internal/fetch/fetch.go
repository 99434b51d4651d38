// Package fetch retrieves rendered gazette pages through interchangeable
// strategies: plain HTTP and a headless browser.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Fetcher returns a content snapshot for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Snapshot, error)
}

// Strategy names recorded on snapshots.
const (
	StrategyHTTP    = "http"
	StrategyBrowser = "browser"
)

// Snapshot is the in-memory result of one successful fetch.
type Snapshot struct {
	URL         string
	FinalURL    string
	HTML        string
	Strategy    string
	StatusCode  int // zero when the strategy cannot observe it
	RetrievedAt time.Time
	// NoContent is set when the page carries the "no publications" marker.
	NoContent bool
}

// Kind classifies fetch failures for the retry policy.
type Kind string

const (
	Timeout        Kind = "timeout"
	AntiBotBlocked Kind = "anti_bot_blocked"
	HTTPError      Kind = "http_error"
	Network        Kind = "network"
)

// FetchError is the only error type strategies return for remote failures.
type FetchError struct {
	Kind     Kind
	URL      string
	Status   int
	Strategy string
	Err      error
}

func (e *FetchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "fetch %s: %s", e.URL, e.Kind)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could succeed.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case Timeout, AntiBotBlocked, Network:
		return true
	case HTTPError:
		return e.Status == 429 || e.Status >= 500
	}
	return false
}

// KindOf returns the fetch kind of err, or "other".
func KindOf(err error) string {
	var fe *FetchError
	if errors.As(err, &fe) {
		return string(fe.Kind)
	}
	return "other"
}

// IsBlocked reports whether err is an anti-bot block.
func IsBlocked(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == AntiBotBlocked
}

// classify turns a transport error into a FetchError. Cancellation by the
// caller is returned unchanged so retry loops stop.
func classify(err error, url, strategy string) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	kind := Network
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		kind = Timeout
	}
	return &FetchError{Kind: kind, URL: url, Strategy: strategy, Err: err}
}

var antiBotSignatures = []string{
	"cf-browser-verification",
	"challenge-platform",
	"just a moment...",
	"attention required! | cloudflare",
	"request unsuccessful. incapsula",
	"access denied",
	"captcha",
}

// detectAntiBot looks for a challenge page. Pages that already carry PDF
// links or the no-content marker are real content even when a signature
// such as a captcha widget appears somewhere in them.
func detectAntiBot(body, marker string) (string, bool) {
	lower := strings.ToLower(body)
	if strings.Contains(lower, ".pdf") {
		return "", false
	}
	if marker != "" && strings.Contains(lower, strings.ToLower(marker)) {
		return "", false
	}
	for _, sig := range antiBotSignatures {
		if strings.Contains(lower, sig) {
			return sig, true
		}
	}
	return "", false
}

func hasMarker(body, marker string) bool {
	return marker != "" && strings.Contains(strings.ToLower(body), strings.ToLower(marker))
}
