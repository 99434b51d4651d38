package cli

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"diariodigest/internal/config"
	"diariodigest/internal/edition"
	"diariodigest/internal/handlers"
)

func TestDateRange(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		to      string
		want    int
		wantErr bool
	}{
		{"single", "14-07-2025", "", 1, false},
		{"week", "14-07-2025", "20-07-2025", 5, false},
		{"across weekend", "18-07-2025", "21-07-2025", 2, false},
		{"weekend only", "19-07-2025", "20-07-2025", 0, true},
		{"single saturday", "19-07-2025", "", 1, false},
		{"same day", "14-07-2025", "14-07-2025", 1, false},
		{"missing", "", "", 0, true},
		{"bad format", "2025-07-14", "", 0, true},
		{"reversed", "20-07-2025", "14-07-2025", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := dateRange(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Fatalf("dateRange(%q, %q) error = %v", tt.from, tt.to, err)
			}
			if len(got) != tt.want {
				t.Errorf("dateRange(%q, %q) = %d dates, want %d", tt.from, tt.to, len(got), tt.want)
			}
		})
	}
}

func TestDateRange_SkipsWeekends(t *testing.T) {
	got, err := dateRange("18-07-2025", "21-07-2025")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"18-07-2025", "21-07-2025"}
	if len(got) != len(want) {
		t.Fatalf("dateRange = %v, want %v", got, want)
	}
	for i, d := range got {
		if d.String() != want[i] {
			t.Errorf("dates[%d] = %s, want %s", i, d, want[i])
		}
	}
}

func testConfig(t *testing.T) config.Config {
	dir := t.TempDir()
	return config.Config{
		Gazette:         config.DefaultGazette(),
		CachePath:       filepath.Join(dir, "edition_cache.json"),
		CachePolicy:     "reject",
		AuditLogPath:    filepath.Join(dir, "audit.log"),
		FetchTimeout:    time.Second,
		RetryAttempts:   1,
		RateLimitMax:    10,
		RateLimitWindow: time.Second,
		SectionWorkers:  1,
		OutputDir:       filepath.Join(dir, "out"),
		LedgerPath:      filepath.Join(dir, "ledger.db"),
		AdminAPIKey:     "secret",
	}
}

func TestNewApp_ReadOnlySkipsLedger(t *testing.T) {
	app, err := NewApp(testConfig(t), false)
	if err != nil {
		t.Fatal(err)
	}
	defer app.Close()
	if app.Ledger != nil || app.Sink != nil {
		t.Error("read-only app opened the ledger")
	}
	if app.Breaker != nil {
		t.Error("breaker wired without a browser strategy")
	}
}

func TestNewMux(t *testing.T) {
	app, err := NewApp(testConfig(t), false)
	if err != nil {
		t.Fatal(err)
	}
	defer app.Close()
	if err := app.Cache.Put(edition.MustParseDate("14-07-2025"), "44197"); err != nil {
		t.Fatal(err)
	}
	mux := newMux(app, &handlers.Admin{Cache: app.Cache, Feed: app.Feed, Started: time.Now()})

	tests := []struct {
		path string
		want int
	}{
		{"/api/health", http.StatusOK},
		{"/api/admin/status", http.StatusUnauthorized},
		{"/api/admin/status?key=secret", http.StatusOK},
		{"/api/admin/cache?key=secret", http.StatusOK},
		{"/metrics", http.StatusUnauthorized},
		{"/metrics?key=secret", http.StatusOK},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if w.Code != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, w.Code, tt.want)
		}
	}
}
