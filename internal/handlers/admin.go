package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"diariodigest/internal/edition"
	"diariodigest/internal/fetch"
	"diariodigest/internal/metrics"
	"diariodigest/internal/models"
	"diariodigest/internal/scheduler"
)

// ScheduleStatus is implemented by scheduler.Daily.
type ScheduleStatus interface {
	Status() scheduler.Status
}

// Admin serves the operator endpoints. Nil fields are reported as absent.
type Admin struct {
	Cache    *edition.Cache
	Breaker  *fetch.Breaker
	Feed     *metrics.Feed
	Schedule ScheduleStatus
	Started  time.Time
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(v)
}

func onlyGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// HealthHandler serves GET /api/health.
func (a *Admin) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !onlyGet(w, r) {
		return
	}
	uptime := time.Since(a.Started)
	writeJSON(w, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(uptime.Seconds()),
		"uptime_human":   formatDuration(uptime),
	})
}

// StatusHandler serves GET /api/admin/status: circuits, cache health,
// scheduler state and recent failure events.
func (a *Admin) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !onlyGet(w, r) {
		return
	}
	result := map[string]interface{}{
		"uptime_seconds": int(time.Since(a.Started).Seconds()),
	}
	if a.Breaker != nil {
		result["circuits"] = a.Breaker.States()
	}
	if a.Cache != nil {
		anomalies := a.Cache.Audit()
		if anomalies == nil {
			anomalies = []edition.Anomaly{}
		}
		entries := a.Cache.Entries()
		cache := map[string]interface{}{
			"path":      a.Cache.Path(),
			"entries":   len(entries),
			"anomalies": anomalies,
		}
		if len(entries) > 0 {
			cache["latest"] = entries[len(entries)-1].Model()
		}
		result["cache"] = cache
	}
	if a.Schedule != nil {
		result["scheduler"] = a.Schedule.Status()
	}
	if a.Feed != nil {
		result["recent_events"] = a.Feed.Recent()
	}
	writeJSON(w, result)
}

// CacheHandler serves GET /api/admin/cache with every binding in date order.
func (a *Admin) CacheHandler(w http.ResponseWriter, r *http.Request) {
	if !onlyGet(w, r) {
		return
	}
	if a.Cache == nil {
		http.Error(w, "Cache not configured", http.StatusServiceUnavailable)
		return
	}
	entries := a.Cache.Entries()
	out := make([]models.EditionCacheEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Model())
	}
	writeJSON(w, out)
}

func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
