package edition

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"diariodigest/internal/extract"
	"diariodigest/internal/fetch"
	"diariodigest/internal/logger"
	"diariodigest/internal/metrics"
)

// ErrEditionUnresolved means neither the cache, the site nor an estimate
// produced an edition. The date should be skipped or retried later.
var ErrEditionUnresolved = errors.New("edition unresolved")

// ErrSelectorNotFound is returned by a live lookup whose page carried no
// selected edition.
var ErrSelectorNotFound = errors.New("edition selector not found")

type Method string

const (
	MethodCache     Method = "cache"
	MethodLive      Method = "live"
	MethodEstimated Method = "estimated"
)

type Confidence string

const (
	Confirmed Confidence = "confirmed"
	Low       Confidence = "low"
)

// Resolution is the outcome of a successful Resolve.
type Resolution struct {
	EditionID  string     `json:"edition_id"`
	Method     Method     `json:"method"`
	Confidence Confidence `json:"confidence"`
}

// LiveLookup asks the site which edition it serves for d.
type LiveLookup interface {
	Lookup(ctx context.Context, d Date) (string, error)
}

// LandingLookup reads the selected option of the edition selector on the
// date-indexed landing page.
type LandingLookup struct {
	Fetcher fetch.Fetcher
	BaseURL string
	Path    string
}

// LandingURL is the landing page for d without an edition parameter.
func (l LandingLookup) LandingURL(d Date) string {
	q := url.Values{}
	q.Set("date", d.String())
	return l.BaseURL + l.Path + "?" + q.Encode()
}

func (l LandingLookup) Lookup(ctx context.Context, d Date) (string, error) {
	snap, err := l.Fetcher.Fetch(ctx, l.LandingURL(d))
	if err != nil {
		return "", err
	}
	id, ok := extract.SelectedEdition(snap.HTML)
	if !ok {
		return "", fmt.Errorf("%w on %s", ErrSelectorNotFound, snap.FinalURL)
	}
	return id, nil
}

// maxCollisionBumps bounds the upward search for a free edition number.
const maxCollisionBumps = 366

// Resolver walks cache hit, live lookup and business-day estimation in order.
type Resolver struct {
	Cache    *Cache
	Live     LiveLookup
	Observer metrics.Observer
}

func NewResolver(cache *Cache, live LiveLookup, obs metrics.Observer) *Resolver {
	if obs == nil {
		obs = metrics.Nop{}
	}
	return &Resolver{Cache: cache, Live: live, Observer: obs}
}

// Resolve returns the edition for d.
//
// A provisional estimate in the cache is not a hit: the live lookup is
// retried and its answer replaces the estimate. A confirmed hit whose
// edition is also confirmed for another date is not trusted either and
// falls through the same way. Any *ConflictError raised while writing the
// result back is returned as is, with a zero Resolution, and the date keeps
// its existing binding.
func (r *Resolver) Resolve(ctx context.Context, d Date) (Resolution, error) {
	if id, ok := r.Cache.Get(d); ok {
		if r.Cache.Provisional(d) {
			logger.Debug("edition: provisional estimate, retrying live lookup", map[string]interface{}{"date": d.String(), "edition": id})
		} else if other, dup := r.Cache.confirmedBoundDate(id, d); dup {
			r.Observer.Emit(metrics.Event{Name: metrics.EditionCacheSuspect, Fields: map[string]interface{}{
				"date": d.String(), "edition": id, "also_bound_to": other.String(),
			}})
		} else {
			return r.resolved(d, Resolution{EditionID: id, Method: MethodCache, Confidence: Confirmed}), nil
		}
	}

	if r.Live != nil {
		id, err := r.Live.Lookup(ctx, d)
		if err == nil {
			if err := r.Cache.Put(d, id); err != nil {
				return r.failed(d, err)
			}
			return r.resolved(d, Resolution{EditionID: id, Method: MethodLive, Confidence: Confirmed}), nil
		}
		r.Observer.Emit(metrics.Event{Name: metrics.LiveLookupFailed, Fields: map[string]interface{}{
			"date": d.String(), "error": err.Error(), "kind": fetch.KindOf(err),
		}})
	}

	id, err := r.estimate(d)
	if err != nil {
		return r.failed(d, err)
	}
	if err := r.Cache.PutEstimate(d, id); err != nil {
		return r.failed(d, err)
	}
	return r.resolved(d, Resolution{EditionID: id, Method: MethodEstimated, Confidence: Low}), nil
}

// estimate counts business days from the nearest prior confirmed
// reference, or back from the nearest later one, then bumps past editions
// already bound to other dates. Weekend dates are never estimated; only a
// live lookup can learn a special edition.
func (r *Resolver) estimate(d Date) (string, error) {
	if !d.IsBusinessDay() {
		return "", fmt.Errorf("%w: %s is not a business day", ErrEditionUnresolved, d)
	}
	ref, ok := r.Cache.NearestBefore(d)
	if !ok {
		ref, ok = r.Cache.NearestAfter(d)
	}
	if !ok {
		return "", fmt.Errorf("%w: %s: no reference edition in cache", ErrEditionUnresolved, d)
	}
	base, _ := strconv.Atoi(ref.EditionID)
	candidate := base + BusinessDaysBetween(ref.Date, d)

	for i := 0; i < maxCollisionBumps; i++ {
		id := strconv.Itoa(candidate)
		if _, taken := r.Cache.BoundDate(id, d); !taken {
			logger.Debug("edition: estimated", map[string]interface{}{
				"date": d.String(), "reference_date": ref.Date.String(), "reference": ref.EditionID,
				"edition": id, "bumps": i,
			})
			return id, nil
		}
		candidate++
	}
	return "", fmt.Errorf("%w: %s: no free edition after %d bumps", ErrEditionUnresolved, d, maxCollisionBumps)
}

func (r *Resolver) resolved(d Date, res Resolution) Resolution {
	r.Observer.Emit(metrics.Event{Name: metrics.EditionResolved, Fields: map[string]interface{}{
		"date": d.String(), "edition": res.EditionID,
		"method": string(res.Method), "confidence": string(res.Confidence),
	}})
	return res
}

func (r *Resolver) failed(d Date, err error) (Resolution, error) {
	r.Observer.Emit(metrics.Event{Name: metrics.EditionUnresolved, Fields: map[string]interface{}{
		"date": d.String(), "error": err.Error(),
	}})
	return Resolution{}, err
}
