// Package pipeline resolves a date's edition, fetches every sub-page of it
// and merges the extracted documents.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"diariodigest/internal/config"
	"diariodigest/internal/edition"
	"diariodigest/internal/extract"
	"diariodigest/internal/fetch"
	"diariodigest/internal/logger"
	"diariodigest/internal/metrics"
	"diariodigest/internal/models"
	sentryutil "diariodigest/internal/sentry"
)

// Resolver is the part of edition.Resolver the pipeline needs.
type Resolver interface {
	Resolve(ctx context.Context, d edition.Date) (edition.Resolution, error)
}

// Page is one sub-section page of an edition.
type Page struct {
	Name    string
	Path    string
	Default models.Section
}

// PagesFromConfig converts configured pages, keeping their order.
func PagesFromConfig(g config.GazetteConfig) []Page {
	pages := make([]Page, 0, len(g.Pages))
	for _, p := range g.Pages {
		def := models.Unclassified
		if p.DefaultSection != "" {
			def = models.ParseSection(p.DefaultSection)
		}
		pages = append(pages, Page{Name: p.Name, Path: p.Path, Default: def})
	}
	return pages
}

// Result of one date.
type Result struct {
	Date       edition.Date
	EditionID  string
	Resolution edition.Resolution
	Documents  []models.Document
	Failures   []models.SectionFailure
}

// PipelineError is a date-level failure: the edition could not be
// resolved, or every sub-page failed.
type PipelineError struct {
	Date     string
	Stage    string // "resolve" or "fetch"
	Failures []models.SectionFailure
	Err      error
}

func (e *PipelineError) Error() string {
	if e.Stage == "fetch" {
		return fmt.Sprintf("pipeline %s: all %d sections failed", e.Date, len(e.Failures))
	}
	return fmt.Sprintf("pipeline %s: %s: %v", e.Date, e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// ErrAllSectionsFailed is wrapped by a fetch-stage PipelineError.
var ErrAllSectionsFailed = errors.New("all sections failed")

type Pipeline struct {
	Resolver  Resolver
	Fetcher   fetch.Fetcher
	Extractor *extract.Extractor
	BaseURL   string
	Pages     []Page
	Workers   int
	Observer  metrics.Observer
}

func New(resolver Resolver, fetcher fetch.Fetcher, extractor *extract.Extractor, baseURL string, pages []Page, workers int, obs metrics.Observer) *Pipeline {
	if workers <= 0 {
		workers = 3
	}
	if obs == nil {
		obs = metrics.Nop{}
	}
	return &Pipeline{
		Resolver:  resolver,
		Fetcher:   fetcher,
		Extractor: extractor,
		BaseURL:   baseURL,
		Pages:     pages,
		Workers:   workers,
		Observer:  obs,
	}
}

// PageURL is the address of page for one date and edition.
func (p *Pipeline) PageURL(page Page, d edition.Date, editionID string) string {
	q := url.Values{}
	q.Set("date", d.String())
	q.Set("edition", editionID)
	return p.BaseURL + page.Path + "?" + q.Encode()
}

type pageOutcome struct {
	docs    []models.Document
	failure *models.SectionFailure
}

// FetchPublications resolves d once, fetches every page concurrently and
// returns the merged documents, deduplicated by canonical PDF URL with the
// first page's copy kept. Failed pages are listed in Result.Failures.
func (p *Pipeline) FetchPublications(ctx context.Context, d edition.Date) (*Result, error) {
	start := time.Now()
	res, err := p.Resolver.Resolve(ctx, d)
	if err != nil {
		var ce *edition.ConflictError
		if errors.As(err, &ce) {
			sentryutil.CaptureCacheConflict(err, d.String(), ce.EditionID)
		}
		perr := &PipelineError{Date: d.String(), Stage: "resolve", Err: err}
		p.emitFailed(perr)
		return nil, perr
	}

	outcomes := p.fetchPages(ctx, d, res.EditionID)

	result := &Result{Date: d, EditionID: res.EditionID, Resolution: res}
	seen := make(map[string]bool)
	for _, o := range outcomes {
		if o.failure != nil {
			result.Failures = append(result.Failures, *o.failure)
			continue
		}
		for _, doc := range o.docs {
			key := extract.CanonicalURL(doc.PDFURL)
			if seen[key] {
				continue
			}
			seen[key] = true
			doc.PDFURL = key
			doc.PublicationDate = d.String()
			doc.EditionID = res.EditionID
			result.Documents = append(result.Documents, doc)
		}
	}

	if len(p.Pages) > 0 && len(result.Failures) == len(p.Pages) {
		perr := &PipelineError{Date: d.String(), Stage: "fetch", Failures: result.Failures, Err: ErrAllSectionsFailed}
		sentryutil.CaptureDateFailure(perr, d.String())
		p.emitFailed(perr)
		return nil, perr
	}

	p.Observer.Emit(metrics.Event{Name: metrics.PipelineComplete, Fields: map[string]interface{}{
		"date":       d.String(),
		"edition":    res.EditionID,
		"method":     string(res.Method),
		"confidence": string(res.Confidence),
		"documents":  len(result.Documents),
		"failures":   len(result.Failures),
		"duration":   time.Since(start).String(),
	}})
	return result, nil
}

// fetchPages runs one job per page on a bounded worker pool. Outcomes come
// back in page order.
func (p *Pipeline) fetchPages(ctx context.Context, d edition.Date, editionID string) []pageOutcome {
	outcomes := make([]pageOutcome, len(p.Pages))
	jobs := make(chan int)
	var wg sync.WaitGroup

	workers := p.Workers
	if workers > len(p.Pages) {
		workers = len(p.Pages)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcomes[i] = p.fetchPage(ctx, p.Pages[i], d, editionID)
			}
		}()
	}
	for i := range p.Pages {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return outcomes
}

func (p *Pipeline) fetchPage(ctx context.Context, page Page, d edition.Date, editionID string) (out pageOutcome) {
	pageURL := p.PageURL(page, d, editionID)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("pipeline: panic", map[string]interface{}{"page": page.Name, "error": fmt.Sprintf("%v", r)})
			out = pageOutcome{failure: &models.SectionFailure{Page: page.Name, URL: pageURL, Kind: "panic", Error: fmt.Sprintf("%v", r)}}
		}
	}()

	snap, err := p.Fetcher.Fetch(ctx, pageURL)
	if err != nil {
		kind := fetch.KindOf(err)
		p.Observer.Emit(metrics.Event{Name: metrics.FetchFailed, Fields: map[string]interface{}{
			"date": d.String(), "page": page.Name, "url": pageURL, "kind": kind, "error": err.Error(),
		}})
		return pageOutcome{failure: &models.SectionFailure{Page: page.Name, URL: pageURL, Kind: kind, Error: err.Error()}}
	}

	docs, err := p.Extractor.ExtractPage(snap, "", page.Default)
	if err != nil {
		logger.Warn("pipeline: extraction failed", map[string]interface{}{"page": page.Name, "url": pageURL, "error": err.Error()})
		return pageOutcome{failure: &models.SectionFailure{Page: page.Name, URL: pageURL, Kind: "extraction", Error: err.Error()}}
	}
	p.Observer.Emit(metrics.Event{Name: metrics.ExtractionComplete, Fields: map[string]interface{}{
		"date": d.String(), "page": page.Name, "documents": len(docs),
		"strategy": snap.Strategy, "no_content": snap.NoContent,
	}})
	return pageOutcome{docs: docs}
}

func (p *Pipeline) emitFailed(err *PipelineError) {
	p.Observer.Emit(metrics.Event{Name: metrics.PipelineFailed, Fields: map[string]interface{}{
		"date": err.Date, "stage": err.Stage, "error": err.Error(),
	}})
}

// DateOutcome is one date of a batch.
type DateOutcome struct {
	Date   edition.Date
	Result *Result
	Err    error
}

// RunBatch processes dates in order. A failed date is recorded and the
// batch moves on; cancellation is checked between dates and returns the
// outcomes so far with ctx's error.
func (p *Pipeline) RunBatch(ctx context.Context, dates []edition.Date) ([]DateOutcome, error) {
	out := make([]DateOutcome, 0, len(dates))
	for _, d := range dates {
		if err := ctx.Err(); err != nil {
			logger.Warn("pipeline: batch aborted", map[string]interface{}{"next_date": d.String(), "done": len(out)})
			return out, err
		}
		res, err := p.FetchPublications(ctx, d)
		out = append(out, DateOutcome{Date: d, Result: res, Err: err})
	}
	return out, nil
}
