package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"diariodigest/internal/logger"

	"github.com/getsentry/sentry-go"
	"github.com/gorilla/handlers"
)

func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("http: panic", map[string]interface{}{
					"method": r.Method, "path": r.URL.Path,
					"error": fmt.Sprintf("%v", err), "stack": string(debug.Stack()),
				})
				hub := sentry.GetHubFromContext(r.Context())
				if hub == nil {
					hub = sentry.CurrentHub().Clone()
				}
				hub.WithScope(func(scope *sentry.Scope) {
					scope.SetTag("endpoint", r.URL.Path)
					scope.SetTag("method", r.Method)
					scope.SetLevel(sentry.LevelFatal)
					hub.RecoverWithContext(r.Context(), err)
				})
				hub.Flush(2 * time.Second)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// SecurityHeaders adds security headers to every response. The admin
// surface only serves JSON and metrics, so nothing may be framed or run.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// AdminKey rejects requests that do not carry key, either as the "key"
// query parameter or the X-Admin-Key header. An empty key leaves the
// handler open, which is meant for local runs.
func AdminKey(key string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key != "" && r.URL.Query().Get("key") != key && r.Header.Get("X-Admin-Key") != key {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// RequestLog writes one structured line per request.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("http: request", map[string]interface{}{
			"method": r.Method, "path": r.URL.Path, "status": rec.status,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
}

// Gzip compresses responses for clients that accept it.
func Gzip(next http.Handler) http.Handler {
	return handlers.CompressHandler(next)
}
