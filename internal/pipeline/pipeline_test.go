package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"diariodigest/internal/config"
	"diariodigest/internal/edition"
	"diariodigest/internal/extract"
	"diariodigest/internal/fetch"
	"diariodigest/internal/metrics"
	"diariodigest/internal/models"
	"diariodigest/internal/ratelimit"
)

const landing = `<html><body><form>
<select id="ediciones">
  <option value="index.php?date=18-07-2025&edition=44203">44203</option>
  <option value="index.php?date=21-07-2025&edition=44204" selected>44204</option>
</select></form></body></html>`

const generalPage = `<table>
<tr><td colspan="2" bgcolor="#E0E0E0">NORMAS GENERALES</td></tr>
<tr class="content"><td>LEY NÚM. 21.700</td><td><a href="/publicaciones/2025/07/21/44204/01/100.pdf">Ver PDF</a></td></tr>
<tr class="content"><td>DECRETO 12   DE 2025</td><td><a href="/publicaciones/2025/07/21/44204/01/101.pdf">Ver PDF</a></td></tr>
</table>`

const particularPage = `<table>
<tr><td colspan="2" bgcolor="#E0E0E0">NORMAS PARTICULARES</td></tr>
<tr class="content"><td>  DECRETO 12
   DE 2025 </td><td><a href="/publicaciones/2025/07/21/44204/01/101.pdf">Ver PDF</a></td></tr>
<tr class="content"><td>Resolución exenta 7</td><td><a href="/publicaciones/2025/07/21/44204/02/200.pdf">Ver PDF</a></td></tr>
</table>`

const featuredPage = `<p>No existen publicaciones en esta edición en la fecha seleccionada</p>`

type site struct {
	landingHits int32
	failing     map[string]int // path -> status
}

func (s *site) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if code, ok := s.failing[r.URL.Path]; ok {
			w.WriteHeader(code)
			return
		}
		switch r.URL.Path {
		case "/edicionelectronica/index.php":
			if r.URL.Query().Get("edition") == "" {
				atomic.AddInt32(&s.landingHits, 1)
				if r.URL.Query().Get("date") != "21-07-2025" {
					w.Write([]byte(`<html><body>Edición no disponible</body></html>`))
					return
				}
				w.Write([]byte(landing))
				return
			}
			w.Write([]byte(generalPage))
		case "/edicionelectronica/normas_particulares.php":
			w.Write([]byte(particularPage))
		case "/edicionelectronica/avisos_destacados.php":
			w.Write([]byte(featuredPage))
		default:
			http.NotFound(w, r)
		}
	})
}

func newPipeline(t *testing.T, srv *httptest.Server, cacheBody string) (*Pipeline, *metrics.Recorder) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "edition_cache.json")
	if cacheBody != "" {
		if err := os.WriteFile(path, []byte(cacheBody), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	cache, err := edition.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	g := config.DefaultGazette()
	rec := &metrics.Recorder{}
	f := fetch.NewRetrying(fetch.NewHTTPStrategy(ratelimit.Noop{}, "test", time.Second, g.NoContentMarker), 1, time.Millisecond, rec)
	live := edition.LandingLookup{Fetcher: f, BaseURL: srv.URL, Path: g.LandingPath}
	resolver := edition.NewResolver(cache, live, rec)
	x := extract.New(g.NoContentMarker, g.SummaryMarkers)
	return New(resolver, f, x, srv.URL, PagesFromConfig(g), 3, rec), rec
}

func urls(docs []models.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.PDFURL)
	}
	sort.Strings(out)
	return out
}

func TestFetchPublications_MergesAndDedupes(t *testing.T) {
	s := &site{}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()
	p, rec := newPipeline(t, srv, `{"18-07-2025": "44203"}`)

	res, err := p.FetchPublications(context.Background(), edition.MustParseDate("21-07-2025"))
	if err != nil {
		t.Fatal(err)
	}
	if res.EditionID != "44204" || res.Resolution.Method != edition.MethodLive {
		t.Errorf("resolution = %+v", res.Resolution)
	}
	if n := atomic.LoadInt32(&s.landingHits); n != 1 {
		t.Errorf("landing page fetched %d times, want 1", n)
	}
	if len(res.Documents) != 3 {
		t.Fatalf("got %d documents: %+v", len(res.Documents), res.Documents)
	}
	dup := res.Documents[1]
	if dup.Section != models.GeneralNorms || dup.Title != "DECRETO 12 DE 2025" {
		t.Errorf("first-seen copy not kept: %+v", dup)
	}
	for _, d := range res.Documents {
		if d.EditionID != "44204" || d.PublicationDate != "21-07-2025" {
			t.Errorf("document not stamped: %+v", d)
		}
	}
	if len(res.Failures) != 0 {
		t.Errorf("failures = %+v", res.Failures)
	}
	if len(rec.Named(metrics.ExtractionComplete)) != 3 || len(rec.Named(metrics.PipelineComplete)) != 1 {
		t.Error("missing extraction/pipeline events")
	}
}

func TestFetchPublications_Idempotent(t *testing.T) {
	srv := httptest.NewServer((&site{}).handler())
	defer srv.Close()
	p, _ := newPipeline(t, srv, `{"18-07-2025": "44203"}`)
	d := edition.MustParseDate("21-07-2025")

	first, err := p.FetchPublications(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.FetchPublications(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	if second.Resolution.Method != edition.MethodCache {
		t.Errorf("second run should hit the cache, got %s", second.Resolution.Method)
	}
	a, b := urls(first.Documents), urls(second.Documents)
	if len(a) != len(b) {
		t.Fatalf("runs differ: %v vs %v", a, b)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("runs differ at %d: %s vs %s", i, a[i], b[i])
		}
	}
}

func TestFetchPublications_PartialFailure(t *testing.T) {
	s := &site{failing: map[string]int{"/edicionelectronica/normas_particulares.php": 503}}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()
	p, rec := newPipeline(t, srv, `{"21-07-2025": "44204"}`)

	res, err := p.FetchPublications(context.Background(), edition.MustParseDate("21-07-2025"))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Documents) != 2 {
		t.Errorf("got %d documents", len(res.Documents))
	}
	if len(res.Failures) != 1 || res.Failures[0].Page != "normas_particulares" || res.Failures[0].Kind != "http_error" {
		t.Errorf("failures = %+v", res.Failures)
	}
	if len(rec.Named(metrics.FetchFailed)) != 1 {
		t.Error("fetch_failed not emitted")
	}
}

func TestFetchPublications_AllSectionsFail(t *testing.T) {
	s := &site{failing: map[string]int{
		"/edicionelectronica/index.php":               503,
		"/edicionelectronica/normas_particulares.php": 503,
		"/edicionelectronica/avisos_destacados.php":   404,
	}}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()
	p, _ := newPipeline(t, srv, `{"21-07-2025": "44204"}`)

	res, err := p.FetchPublications(context.Background(), edition.MustParseDate("21-07-2025"))
	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Stage != "fetch" || len(perr.Failures) != 3 {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(err, ErrAllSectionsFailed) || res != nil {
		t.Errorf("unexpected result %v / %v", res, err)
	}
}

func TestFetchPublications_Unresolved(t *testing.T) {
	s := &site{failing: map[string]int{"/edicionelectronica/index.php": 403}}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()
	p, _ := newPipeline(t, srv, "")

	_, err := p.FetchPublications(context.Background(), edition.MustParseDate("21-07-2025"))
	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Stage != "resolve" {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(err, edition.ErrEditionUnresolved) {
		t.Errorf("err does not wrap ErrEditionUnresolved: %v", err)
	}
}

func TestFetchPublications_ConflictSurfaces(t *testing.T) {
	s := &site{failing: map[string]int{"/edicionelectronica/index.php": 403}}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()
	p, _ := newPipeline(t, srv, `{"18-07-2025": "44203", "21-07-2025": "44203"}`)

	_, err := p.FetchPublications(context.Background(), edition.MustParseDate("21-07-2025"))
	var ce *edition.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want a cache conflict", err)
	}
}

func TestRunBatch(t *testing.T) {
	srv := httptest.NewServer((&site{}).handler())
	defer srv.Close()
	p, _ := newPipeline(t, srv, `{"18-07-2025": "44203"}`)

	dates := []edition.Date{edition.MustParseDate("10-07-2025"), edition.MustParseDate("21-07-2025")}
	out, err := p.RunBatch(context.Background(), dates)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d outcomes", len(out))
	}
	// 10-07 has no selector, so it is estimated back from 18-07.
	if out[0].Err != nil || out[0].Result.EditionID != "44197" || out[0].Result.Resolution.Confidence != edition.Low {
		t.Errorf("first date = %+v, %v", out[0].Result, out[0].Err)
	}
	if out[1].Err != nil || out[1].Result.EditionID != "44204" {
		t.Errorf("second date = %+v, %v", out[1].Result, out[1].Err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err = p.RunBatch(ctx, dates)
	if !errors.Is(err, context.Canceled) || len(out) != 0 {
		t.Errorf("cancelled batch = %d outcomes, %v", len(out), err)
	}
}
