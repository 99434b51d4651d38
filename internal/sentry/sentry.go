package sentryutil

import (
	"diariodigest/internal/config"
	"log"
	"time"

	"github.com/getsentry/sentry-go"
)

func Init() {
	dsn := config.Cfg.SentryDSN
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      config.Cfg.SentryEnvironment,
		Release:          config.Cfg.SentryRelease,
		TracesSampleRate: 0.2,
		EnableTracing:    dsn != "",
	})
	if err != nil {
		log.Printf("Sentry init (non-blocking): %s", err)
	}
	if dsn == "" {
		log.Println("SENTRY_DSN empty, error tracking disabled")
	} else {
		log.Println("Sentry initialized")
	}
}

func Flush() { sentry.Flush(2 * time.Second) }

func CaptureError(err error, tags map[string]string) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

func CaptureMessage(msg string, level sentry.Level, tags map[string]string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(level)
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureMessage(msg)
	})
}

// LevelWarning returns sentry.LevelWarning so callers don't need to import sentry-go directly.
func LevelWarning() sentry.Level { return sentry.LevelWarning }

// CaptureCacheConflict reports an edition cache conflict. Conflicts are never
// resolved in code, so every one must reach an operator.
func CaptureCacheConflict(err error, date, edition string) {
	CaptureMessage(err.Error(), LevelWarning(), map[string]string{
		"component": "edition_cache",
		"date":      date,
		"edition":   edition,
	})
}

// CaptureDateFailure reports a date whose publications could not be retrieved.
func CaptureDateFailure(err error, date string) {
	CaptureError(err, map[string]string{"component": "pipeline", "date": date})
}
