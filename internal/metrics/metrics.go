// Package metrics carries the structured events emitted by the edition
// resolver, the fetch layer and the publication pipeline.
package metrics

import (
	"sync"

	"diariodigest/internal/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Event names.
const (
	EditionResolved     = "edition_resolved"
	EditionUnresolved   = "edition_unresolved"
	EditionCacheSuspect = "edition_cache_suspect"
	LiveLookupFailed    = "live_lookup_failed"
	FetchFailed         = "fetch_failed"
	FetchRetried        = "fetch_retried"
	StrategyFallback    = "strategy_fallback"
	ExtractionComplete  = "extraction_complete"
	PipelineComplete    = "pipeline_complete"
	PipelineFailed      = "pipeline_failed"
	DigestDelivered     = "digest_delivered"
)

// Event is one state transition.
type Event struct {
	Name   string
	Fields map[string]interface{}
}

type Observer interface {
	Emit(Event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Emit(Event) {}

// LogObserver writes events as structured log lines.
type LogObserver struct{}

func (LogObserver) Emit(e Event) {
	fields := make(map[string]interface{}, len(e.Fields)+1)
	for k, v := range e.Fields {
		fields[k] = v
	}
	fields["event"] = e.Name
	switch e.Name {
	case FetchFailed, EditionUnresolved, PipelineFailed, EditionCacheSuspect, LiveLookupFailed:
		logger.Warn(e.Name, fields)
	default:
		logger.Info(e.Name, fields)
	}
}

// Multi fans an event out to every observer in order.
type Multi []Observer

func (m Multi) Emit(e Event) {
	for _, o := range m {
		if o != nil {
			o.Emit(e)
		}
	}
}

// PromObserver counts events and records document volumes.
type PromObserver struct {
	Registry *prometheus.Registry

	events      *prometheus.CounterVec
	resolutions *prometheus.CounterVec
	fetchErrors *prometheus.CounterVec
	documents   *prometheus.HistogramVec
}

// NewPromObserver registers the collectors on a fresh registry.
func NewPromObserver() *PromObserver {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &PromObserver{
		Registry: reg,
		events: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "diariodigest_events_total",
				Help: "Total number of pipeline events by name",
			},
			[]string{"event"},
		),
		resolutions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "diariodigest_edition_resolutions_total",
				Help: "Edition resolutions by method and confidence",
			},
			[]string{"method", "confidence"},
		),
		fetchErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "diariodigest_fetch_errors_total",
				Help: "Fetch failures by error kind",
			},
			[]string{"kind"},
		),
		documents: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "diariodigest_documents_extracted",
				Help:    "Documents extracted per page or per date",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
			},
			[]string{"scope"},
		),
	}
}

func (p *PromObserver) Emit(e Event) {
	p.events.WithLabelValues(e.Name).Inc()
	switch e.Name {
	case EditionResolved:
		p.resolutions.WithLabelValues(str(e.Fields["method"]), str(e.Fields["confidence"])).Inc()
	case FetchFailed:
		p.fetchErrors.WithLabelValues(str(e.Fields["kind"])).Inc()
	case ExtractionComplete:
		if n, ok := e.Fields["documents"].(int); ok {
			p.documents.WithLabelValues("page").Observe(float64(n))
		}
	case PipelineComplete:
		if n, ok := e.Fields["documents"].(int); ok {
			p.documents.WithLabelValues("date").Observe(float64(n))
		}
	}
}

func str(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return "unknown"
}

// Recorder keeps events in memory. Used by tests and the admin status view.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Named returns recorded events with the given name.
func (r *Recorder) Named(name string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}
