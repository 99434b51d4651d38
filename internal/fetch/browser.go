package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"diariodigest/internal/ratelimit"

	"github.com/chromedp/chromedp"
)

// maxSettle caps the post-navigation wait for client-side rendering.
const maxSettle = 15 * time.Second

// BrowserStrategy renders pages in headless Chrome.
type BrowserStrategy struct {
	Limiter         ratelimit.Limiter
	UserAgent       string
	NavTimeout      time.Duration
	Settle          time.Duration
	NoContentMarker string
	// ExecPath overrides the Chrome binary lookup.
	ExecPath string
}

func NewBrowserStrategy(limiter ratelimit.Limiter, userAgent string, navTimeout, settle time.Duration, marker string) *BrowserStrategy {
	if limiter == nil {
		limiter = ratelimit.Noop{}
	}
	if navTimeout <= 0 {
		navTimeout = 45 * time.Second
	}
	return &BrowserStrategy{
		Limiter:         limiter,
		UserAgent:       userAgent,
		NavTimeout:      navTimeout,
		Settle:          settle,
		NoContentMarker: marker,
	}
}

func (b *BrowserStrategy) settle() time.Duration {
	if b.Settle <= 0 || b.Settle > maxSettle {
		return maxSettle
	}
	return b.Settle
}

func (b *BrowserStrategy) Fetch(ctx context.Context, rawURL string) (*Snapshot, error) {
	if err := b.Limiter.Wait(ctx, rawURL); err != nil {
		return nil, err
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(b.UserAgent),
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.WindowSize(1366, 900),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if b.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.ExecPath))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()
	runCtx, cancel := context.WithTimeout(tabCtx, b.NavTimeout+b.settle())
	defer cancel()

	var html, finalURL string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		b.waitForContent(),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, classify(err, rawURL, StrategyBrowser)
	}

	snap := &Snapshot{
		URL:         rawURL,
		FinalURL:    finalURL,
		HTML:        html,
		Strategy:    StrategyBrowser,
		RetrievedAt: time.Now(),
		NoContent:   hasMarker(html, b.NoContentMarker),
	}
	if snap.NoContent {
		return snap, nil
	}
	if sig, blocked := detectAntiBot(html, b.NoContentMarker); blocked {
		return nil, &FetchError{Kind: AntiBotBlocked, URL: rawURL, Strategy: StrategyBrowser,
			Err: fmt.Errorf("challenge signature %q after render", sig)}
	}
	return snap, nil
}

// waitForContent polls until PDF links or the no-content marker show up, or
// the settle budget runs out. Running out is not an error.
func (b *BrowserStrategy) waitForContent() chromedp.Action {
	marker, _ := json.Marshal(b.NoContentMarker)
	probe := fmt.Sprintf(
		`document.querySelectorAll('a[href$=".pdf"], a[href*=".pdf?"]').length > 0 || (document.body && document.body.innerText.indexOf(%s) >= 0)`,
		marker)
	return chromedp.ActionFunc(func(ctx context.Context) error {
		deadline := time.Now().Add(b.settle())
		for time.Now().Before(deadline) {
			var ready bool
			if err := chromedp.Evaluate(probe, &ready).Do(ctx); err == nil && ready {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
		}
		return nil
	})
}
