package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Cfg is the global configuration loaded at startup.
var Cfg Config

// Config holds all application configuration.
type Config struct {
	// Sentry
	SentryDSN         string
	SentryEnvironment string
	SentryRelease     string

	// Logging
	LogLevel  string
	LogPretty bool

	// Gazette source
	Gazette GazetteConfig

	// Edition cache
	CachePath    string
	CachePolicy  string // "reject" or "flag"
	AuditLogPath string

	// Fetching
	UserAgent       string
	FetchTimeout    time.Duration
	BrowserEnabled  bool
	BrowserSettle   time.Duration
	BrowserTimeout  time.Duration
	RetryAttempts   int
	RetryBaseDelay  time.Duration
	RateLimitMax    int
	RateLimitWindow time.Duration
	SectionWorkers  int
	BlockedCooldown time.Duration

	// Relevance / summarization
	LLMEnabled bool
	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string
	LLMTimeout time.Duration

	// Digest output
	OutputDir     string
	PDFEnabled    bool
	LedgerPath    string
	Recipients    []string
	CurrencyCheck bool

	// Scheduler / admin
	ScheduleHour int
	Timezone     string
	AdminAddr    string
	AdminAPIKey  string
}

// GazetteConfig describes the publication portal and its sub-pages.
type GazetteConfig struct {
	BaseURL         string       `yaml:"base_url"`
	LandingPath     string       `yaml:"landing_path"`
	NoContentMarker string       `yaml:"no_content_marker"`
	SummaryMarkers  []string     `yaml:"summary_markers"`
	Pages           []PageConfig `yaml:"pages"`
}

// PageConfig is one sub-section page of an edition.
type PageConfig struct {
	Name           string `yaml:"name"`
	Path           string `yaml:"path"`
	DefaultSection string `yaml:"default_section"`
}

// DefaultGazette returns the Diario Oficial layout observed in production.
func DefaultGazette() GazetteConfig {
	return GazetteConfig{
		BaseURL:         "https://www.diariooficial.interior.gob.cl",
		LandingPath:     "/edicionelectronica/index.php",
		NoContentMarker: "No existen publicaciones",
		SummaryMarkers:  []string{"/sumarios/", "sumario"},
		Pages: []PageConfig{
			{Name: "normas_generales", Path: "/edicionelectronica/index.php"},
			{Name: "normas_particulares", Path: "/edicionelectronica/normas_particulares.php", DefaultSection: "PARTICULAR_NORMS"},
			{Name: "avisos_destacados", Path: "/edicionelectronica/avisos_destacados.php", DefaultSection: "FEATURED_NOTICES"},
		},
	}
}

// Load reads .env (if present) and populates Cfg from environment variables.
func Load() {
	if err := godotenv.Load(); err != nil {
		log.Println("config: no .env file found, using environment variables")
	}

	Cfg = Config{
		SentryDSN:         os.Getenv("SENTRY_DSN"),
		SentryEnvironment: envOr("SENTRY_ENVIRONMENT", "production"),
		SentryRelease:     envOr("SENTRY_RELEASE", "diariodigest@1.0.0"),

		LogLevel:  envOr("LOG_LEVEL", "info"),
		LogPretty: envBool("LOG_PRETTY", false),

		Gazette: DefaultGazette(),

		CachePath:    envOr("EDITION_CACHE_PATH", "edition_cache.json"),
		CachePolicy:  envOr("EDITION_CACHE_POLICY", "reject"),
		AuditLogPath: envOr("EDITION_AUDIT_LOG", "edition_audit.log"),

		UserAgent:       envOr("USER_AGENT", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
		FetchTimeout:    envDuration("FETCH_TIMEOUT", 30*time.Second),
		BrowserEnabled:  envBool("BROWSER_ENABLED", true),
		BrowserSettle:   envDuration("BROWSER_SETTLE", 5*time.Second),
		BrowserTimeout:  envDuration("BROWSER_TIMEOUT", 45*time.Second),
		RetryAttempts:   envInt("RETRY_ATTEMPTS", 3),
		RetryBaseDelay:  envDuration("RETRY_BASE_DELAY", 2*time.Second),
		RateLimitMax:    envInt("RATE_LIMIT_MAX", 10),
		RateLimitWindow: envDuration("RATE_LIMIT_WINDOW", 60*time.Second),
		SectionWorkers:  envInt("SECTION_WORKERS", 3),
		BlockedCooldown: envDuration("BLOCKED_COOLDOWN", 30*time.Minute),

		LLMEnabled: envBool("LLM_ENABLED", false),
		LLMBaseURL: envOr("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMAPIKey:  os.Getenv("LLM_API_KEY"),
		LLMModel:   envOr("LLM_MODEL", "gpt-4o-mini"),
		LLMTimeout: envDuration("LLM_TIMEOUT", 60*time.Second),

		OutputDir:     envOr("OUTPUT_DIR", "digests"),
		PDFEnabled:    envBool("PDF_ENABLED", false),
		LedgerPath:    envOr("LEDGER_PATH", "deliveries.db"),
		Recipients:    envList("DIGEST_RECIPIENTS"),
		CurrencyCheck: envBool("CURRENCY_CHECK", true),

		ScheduleHour: envInt("SCHEDULE_HOUR", 9),
		Timezone:     envOr("TIMEZONE", "America/Santiago"),
		AdminAddr:    envOr("ADMIN_ADDR", ":8080"),
		AdminAPIKey:  os.Getenv("ADMIN_API_KEY"),
	}

	if path := os.Getenv("GAZETTE_SOURCES_FILE"); path != "" {
		g, err := LoadGazetteFile(path)
		if err != nil {
			log.Printf("config: %v, keeping default gazette layout", err)
		} else {
			Cfg.Gazette = g
		}
	}

	log.Printf("config: loaded (cache=%s, policy=%s, browser=%v, llm=%v, pages=%d)",
		Cfg.CachePath, Cfg.CachePolicy, Cfg.BrowserEnabled, Cfg.LLMEnabled, len(Cfg.Gazette.Pages))
}

// LoadGazetteFile reads a YAML gazette layout. Missing fields keep their defaults.
func LoadGazetteFile(path string) (GazetteConfig, error) {
	g := DefaultGazette()
	data, err := os.ReadFile(path)
	if err != nil {
		return g, fmt.Errorf("reading gazette file: %w", err)
	}
	var override GazetteConfig
	if err := yaml.Unmarshal(data, &override); err != nil {
		return g, fmt.Errorf("parsing gazette file %s: %w", path, err)
	}
	if override.BaseURL != "" {
		g.BaseURL = strings.TrimRight(override.BaseURL, "/")
	}
	if override.LandingPath != "" {
		g.LandingPath = override.LandingPath
	}
	if override.NoContentMarker != "" {
		g.NoContentMarker = override.NoContentMarker
	}
	if len(override.SummaryMarkers) > 0 {
		g.SummaryMarkers = override.SummaryMarkers
	}
	if len(override.Pages) > 0 {
		g.Pages = override.Pages
	}
	return g, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
