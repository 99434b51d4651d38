package edition

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"diariodigest/internal/fetch"
	"diariodigest/internal/metrics"
)

type fakeLookup struct {
	id    string
	err   error
	calls int
}

func (f *fakeLookup) Lookup(ctx context.Context, d Date) (string, error) {
	f.calls++
	return f.id, f.err
}

var errBlocked = &fetch.FetchError{Kind: fetch.AntiBotBlocked, URL: "https://www.diariooficial.interior.gob.cl/edicionelectronica/index.php"}

func newResolver(t *testing.T, fixture string, live LiveLookup) (*Resolver, *metrics.Recorder) {
	t.Helper()
	var path string
	if fixture == "" {
		path = filepath.Join(t.TempDir(), "edition_cache.json")
	} else {
		path = writeFixture(t, fixture)
	}
	c, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	rec := &metrics.Recorder{}
	return NewResolver(c, live, rec), rec
}

func TestResolve_CacheHitSkipsNetwork(t *testing.T) {
	live := &fakeLookup{id: "99999"}
	r, rec := newResolver(t, `{"07-07-2025": "44192"}`, live)

	res, err := r.Resolve(context.Background(), MustParseDate("07-07-2025"))
	if err != nil {
		t.Fatal(err)
	}
	if res.EditionID != "44192" || res.Method != MethodCache || res.Confidence != Confirmed {
		t.Errorf("res = %+v", res)
	}
	if live.calls != 0 {
		t.Errorf("live lookup called %d times on cache hit", live.calls)
	}
	if len(rec.Named(metrics.EditionResolved)) != 1 {
		t.Error("edition_resolved not emitted")
	}
}

func TestResolve_LiveLookupWritesCache(t *testing.T) {
	live := &fakeLookup{id: "44204"}
	r, _ := newResolver(t, `{"18-07-2025": "44203"}`, live)
	d := MustParseDate("21-07-2025")

	res, err := r.Resolve(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	if res.Method != MethodLive || res.Confidence != Confirmed || res.EditionID != "44204" {
		t.Errorf("res = %+v", res)
	}
	if id, _ := r.Cache.Get(d); id != "44204" {
		t.Errorf("cache not updated: %q", id)
	}
}

func TestResolve_EstimatesAcrossWeekend(t *testing.T) {
	r, rec := newResolver(t, `{"18-07-2025": "44203"}`, &fakeLookup{err: errBlocked})

	res, err := r.Resolve(context.Background(), MustParseDate("21-07-2025"))
	if err != nil {
		t.Fatal(err)
	}
	if res.EditionID != "44204" || res.Method != MethodEstimated || res.Confidence != Low {
		t.Errorf("res = %+v", res)
	}
	if len(rec.Named(metrics.LiveLookupFailed)) != 1 {
		t.Error("live_lookup_failed not emitted")
	}
	if id, _ := r.Cache.Get(MustParseDate("21-07-2025")); id != "44204" {
		t.Errorf("estimate not cached: %q", id)
	}
	if !r.Cache.Provisional(MustParseDate("21-07-2025")) {
		t.Error("estimate cached as confirmed")
	}
}

func TestResolve_LiveReplacesEstimate(t *testing.T) {
	live := &fakeLookup{err: errBlocked}
	r, _ := newResolver(t, `{"18-07-2025": "44203"}`, live)
	d := MustParseDate("21-07-2025")

	res, err := r.Resolve(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	if res.EditionID != "44204" || res.Method != MethodEstimated || res.Confidence != Low {
		t.Fatalf("first res = %+v", res)
	}

	live.id, live.err = "44210", nil
	res, err = r.Resolve(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	if res.EditionID != "44210" || res.Method != MethodLive || res.Confidence != Confirmed {
		t.Errorf("second res = %+v, want 44210 live confirmed", res)
	}
	if live.calls != 2 {
		t.Errorf("live lookup called %d times, want 2", live.calls)
	}
	if r.Cache.Provisional(d) {
		t.Error("live result still marked provisional")
	}

	res, err = r.Resolve(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	if res.Method != MethodCache || live.calls != 2 {
		t.Errorf("confirmed binding not served from cache: %+v, %d calls", res, live.calls)
	}
}

func TestResolve_EstimateDoesNotAnchorEstimate(t *testing.T) {
	r, _ := newResolver(t, `{"18-07-2025": "44203"}`, &fakeLookup{err: errBlocked})
	if err := r.Cache.PutEstimate(MustParseDate("21-07-2025"), "44300"); err != nil {
		t.Fatal(err)
	}
	res, err := r.Resolve(context.Background(), MustParseDate("22-07-2025"))
	if err != nil {
		t.Fatal(err)
	}
	if res.EditionID != "44205" {
		t.Errorf("edition = %s, want 44205 counted from the confirmed 18-07", res.EditionID)
	}
}

func TestResolve_RangeAcrossWeekend(t *testing.T) {
	r, _ := newResolver(t, `{"18-07-2025": "44203"}`, &fakeLookup{err: errBlocked})
	got := map[string]string{}
	for _, d := range Range(MustParseDate("18-07-2025"), MustParseDate("21-07-2025")) {
		res, err := r.Resolve(context.Background(), d)
		if !d.IsBusinessDay() {
			if !errors.Is(err, ErrEditionUnresolved) {
				t.Errorf("%s: err = %v, want ErrEditionUnresolved", d, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", d, err)
		}
		got[d.String()] = res.EditionID
	}
	if got["18-07-2025"] != "44203" || got["21-07-2025"] != "44204" {
		t.Errorf("editions = %v, want 18-07 44203 and 21-07 44204", got)
	}
	if _, ok := r.Cache.Get(MustParseDate("19-07-2025")); ok {
		t.Error("weekend date was bound")
	}
}

func TestResolve_SpecialEditionFromLive(t *testing.T) {
	r, _ := newResolver(t, `{"18-07-2025": "44203"}`, &fakeLookup{id: "44204"})
	res, err := r.Resolve(context.Background(), MustParseDate("19-07-2025"))
	if err != nil {
		t.Fatal(err)
	}
	if res.EditionID != "44204" || res.Method != MethodLive {
		t.Errorf("res = %+v", res)
	}
}

func TestResolve_EstimatesWithinWeek(t *testing.T) {
	r, _ := newResolver(t, `{"07-07-2025": "44192"}`, &fakeLookup{err: errBlocked})
	res, err := r.Resolve(context.Background(), MustParseDate("11-07-2025"))
	if err != nil {
		t.Fatal(err)
	}
	if res.EditionID != "44196" {
		t.Errorf("edition = %s, want 44196", res.EditionID)
	}
}

func TestResolve_EstimatesBackward(t *testing.T) {
	r, _ := newResolver(t, `{"14-07-2025": "44197"}`, nil)
	res, err := r.Resolve(context.Background(), MustParseDate("11-07-2025"))
	if err != nil {
		t.Fatal(err)
	}
	if res.EditionID != "44196" || res.Method != MethodEstimated {
		t.Errorf("res = %+v, want 44196 estimated", res)
	}
}

func TestResolve_BumpsPastCollision(t *testing.T) {
	r, _ := newResolver(t, `{"07-07-2025": "44192", "14-07-2025": "44196"}`, &fakeLookup{err: errBlocked})
	res, err := r.Resolve(context.Background(), MustParseDate("11-07-2025"))
	if err != nil {
		t.Fatal(err)
	}
	if res.EditionID != "44197" || res.Confidence != Low {
		t.Errorf("res = %+v, want 44197 low", res)
	}
}

func TestResolve_NoReference(t *testing.T) {
	r, rec := newResolver(t, "", &fakeLookup{err: errBlocked})
	_, err := r.Resolve(context.Background(), MustParseDate("21-07-2025"))
	if !errors.Is(err, ErrEditionUnresolved) {
		t.Fatalf("err = %v, want ErrEditionUnresolved", err)
	}
	if len(rec.Named(metrics.EditionUnresolved)) != 1 {
		t.Error("edition_unresolved not emitted")
	}
}

func TestResolve_ConflictingBindingSurfaces(t *testing.T) {
	fixture := `{"18-07-2025": "44203", "21-07-2025": "44203"}`
	r, rec := newResolver(t, fixture, &fakeLookup{err: errBlocked})
	d := MustParseDate("21-07-2025")

	res, err := r.Resolve(context.Background(), d)
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *ConflictError", err)
	}
	if ce.Kind != DateRebound || ce.ExistingEdition != "44203" || ce.EditionID != "44204" {
		t.Errorf("conflict = %+v", ce)
	}
	if res.EditionID != "" {
		t.Errorf("resolution should be empty, got %+v", res)
	}
	if id, _ := r.Cache.Get(d); id != "44203" {
		t.Errorf("existing binding overwritten with %q", id)
	}
	if len(rec.Named(metrics.EditionCacheSuspect)) != 1 {
		t.Error("suspect cache hit not reported")
	}
}

type fakeFetcher struct{ html string }

func (f fakeFetcher) Fetch(ctx context.Context, url string) (*fetch.Snapshot, error) {
	return &fetch.Snapshot{URL: url, FinalURL: url, HTML: f.html}, nil
}

func TestLandingLookup(t *testing.T) {
	l := LandingLookup{
		Fetcher: fakeFetcher{html: `<select id="ediciones">
			<option value="index.php?date=18-07-2025&edition=44203">44203</option>
			<option value="index.php?date=21-07-2025&edition=44204" selected>44204</option>
		</select>`},
		BaseURL: "https://www.diariooficial.interior.gob.cl",
		Path:    "/edicionelectronica/index.php",
	}
	d := MustParseDate("21-07-2025")
	if got := l.LandingURL(d); got != "https://www.diariooficial.interior.gob.cl/edicionelectronica/index.php?date=21-07-2025" {
		t.Errorf("LandingURL = %s", got)
	}
	id, err := l.Lookup(context.Background(), d)
	if err != nil || id != "44204" {
		t.Errorf("Lookup = %q, %v", id, err)
	}

	l.Fetcher = fakeFetcher{html: "<html><body>mantenimiento</body></html>"}
	if _, err := l.Lookup(context.Background(), d); !errors.Is(err, ErrSelectorNotFound) {
		t.Errorf("err = %v, want ErrSelectorNotFound", err)
	}
}
