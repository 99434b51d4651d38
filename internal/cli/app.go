package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"diariodigest/internal/config"
	"diariodigest/internal/digest"
	"diariodigest/internal/edition"
	"diariodigest/internal/extract"
	"diariodigest/internal/fetch"
	"diariodigest/internal/logger"
	"diariodigest/internal/metrics"
	"diariodigest/internal/models"
	"diariodigest/internal/pipeline"
	"diariodigest/internal/ratelimit"
	"diariodigest/internal/relevance"
)

// llmPDFPages is how many opening pages of each PDF the LLM annotator reads.
const llmPDFPages = 2

// App is the wired service: fetch chain, edition resolution, pipeline and
// digest delivery.
type App struct {
	Cfg config.Config

	Cache     *edition.Cache
	Limiter   *ratelimit.DomainLimiter
	HTTP      *fetch.HTTPStrategy
	Breaker   *fetch.Breaker
	Fetcher   fetch.Fetcher
	Resolver  *edition.Resolver
	Pipeline  *pipeline.Pipeline
	Annotator relevance.Annotator
	Currency  *digest.CurrencyReader
	Ledger    *digest.Ledger
	Sink      digest.Sink

	Prom     *metrics.PromObserver
	Feed     *metrics.Feed
	Observer metrics.Observer
}

// NewApp wires every component from cfg. The sqlite ledger is only opened
// when withDelivery is set, so read-only commands never create it.
func NewApp(cfg config.Config, withDelivery bool) (*App, error) {
	a := &App{
		Cfg:  cfg,
		Prom: metrics.NewPromObserver(),
		Feed: metrics.NewFeed(
			metrics.EditionUnresolved, metrics.EditionCacheSuspect, metrics.LiveLookupFailed,
			metrics.FetchFailed, metrics.StrategyFallback, metrics.PipelineFailed, metrics.PipelineComplete,
			metrics.DigestDelivered,
		),
	}
	a.Observer = metrics.Multi{metrics.LogObserver{}, a.Prom, a.Feed}

	cache, err := edition.Open(cfg.CachePath,
		edition.WithPolicy(edition.ParsePolicy(cfg.CachePolicy)),
		edition.WithAuditLog(cfg.AuditLogPath))
	if err != nil {
		return nil, fmt.Errorf("edition cache: %w", err)
	}
	a.Cache = cache

	g := cfg.Gazette
	a.Limiter = ratelimit.NewDomainLimiter(cfg.RateLimitMax, cfg.RateLimitWindow)
	a.HTTP = fetch.NewHTTPStrategy(a.Limiter, cfg.UserAgent, cfg.FetchTimeout, g.NoContentMarker)

	var chain fetch.Fetcher = a.HTTP
	if cfg.BrowserEnabled {
		browser := fetch.NewBrowserStrategy(a.Limiter, cfg.UserAgent, cfg.BrowserTimeout, cfg.BrowserSettle, g.NoContentMarker)
		a.Breaker = fetch.NewBreaker(1, cfg.BlockedCooldown)
		chain = fetch.NewFallback(a.HTTP, browser, a.Breaker, a.Observer)
	}
	a.Fetcher = fetch.NewRetrying(chain, cfg.RetryAttempts, cfg.RetryBaseDelay, a.Observer)

	live := edition.LandingLookup{Fetcher: a.Fetcher, BaseURL: g.BaseURL, Path: g.LandingPath}
	a.Resolver = edition.NewResolver(cache, live, a.Observer)
	x := extract.New(g.NoContentMarker, g.SummaryMarkers)
	a.Pipeline = pipeline.New(a.Resolver, a.Fetcher, x, g.BaseURL, pipeline.PagesFromConfig(g), cfg.SectionWorkers, a.Observer)

	if cfg.LLMEnabled && cfg.LLMAPIKey != "" {
		llm := relevance.NewLLMAnnotator(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMTimeout)
		llm.Documents = a.HTTP
		llm.Text = func(data []byte) (string, error) { return digest.PDFPages(data, llmPDFPages) }
		a.Annotator = llm
	} else {
		a.Annotator = relevance.KeywordClassifier{}
	}
	if cfg.CurrencyCheck {
		a.Currency = &digest.CurrencyReader{Downloader: a.HTTP}
	}

	if withDelivery {
		ledger, err := digest.OpenLedger(cfg.LedgerPath)
		if err != nil {
			return nil, fmt.Errorf("delivery ledger: %w", err)
		}
		a.Ledger = ledger
		sinks := digest.Multi{digest.JSONSink{Dir: cfg.OutputDir}, digest.MarkdownSink{Dir: cfg.OutputDir}}
		if cfg.PDFEnabled {
			sinks = append(sinks, digest.PDFSink{Dir: cfg.OutputDir})
		}
		a.Sink = &digest.LedgerSink{Next: sinks, Ledger: ledger, Recipients: cfg.Recipients}
	}
	return a, nil
}

func (a *App) Close() {
	if a.Ledger != nil {
		a.Ledger.Close()
	}
}

// Deliver turns one pipeline outcome into a digest and hands it to the sink.
// A date that failed as a whole still produces a digest carrying the note;
// its pipeline error is returned after delivery.
func (a *App) Deliver(ctx context.Context, d edition.Date, res *pipeline.Result, runErr error) error {
	var shown []models.AnnotatedDocument
	var currency *models.CurrencyValues
	if res != nil {
		annotated, err := a.Annotator.Annotate(ctx, res.Documents)
		if err != nil {
			return fmt.Errorf("annotate %s: %w", d, err)
		}
		shown = digest.Relevant(annotated)
		if a.Currency != nil {
			currency, err = a.Currency.Read(ctx, res.Documents)
			if err != nil {
				logger.Warn("digest: currency values unavailable", map[string]interface{}{"date": d.String(), "error": err.Error()})
			}
		}
	}

	dg := digest.Build(d, res, shown, currency)
	if a.Sink != nil {
		if err := a.Sink.Deliver(ctx, dg); err != nil {
			return fmt.Errorf("deliver %s: %w", d, err)
		}
	}
	a.Observer.Emit(metrics.Event{Name: metrics.DigestDelivered, Fields: map[string]interface{}{
		"date": d.String(), "documents": len(dg.Documents), "note": dg.Note,
	}})
	return runErr
}

// RunDates processes dates in order and delivers a digest for each. The
// returned error joins every per-date failure; cancellation stops the batch.
func (a *App) RunDates(ctx context.Context, dates []edition.Date) error {
	start := time.Now()
	outcomes, batchErr := a.Pipeline.RunBatch(ctx, dates)
	var errs []error
	for _, o := range outcomes {
		if err := a.Deliver(ctx, o.Date, o.Result, o.Err); err != nil {
			errs = append(errs, err)
		}
	}
	if batchErr != nil {
		errs = append(errs, batchErr)
	}
	logger.Info("run: batch finished", map[string]interface{}{
		"dates": len(dates), "processed": len(outcomes), "failed": len(errs), "duration": time.Since(start).String(),
	})
	return errors.Join(errs...)
}
