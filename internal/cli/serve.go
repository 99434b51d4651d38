package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"diariodigest/internal/config"
	"diariodigest/internal/edition"
	"diariodigest/internal/handlers"
	"diariodigest/internal/logger"
	"diariodigest/internal/middleware"
	"diariodigest/internal/scheduler"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daily schedule and the admin endpoints",
	Long: `Serve processes today's edition every business day at SCHEDULE_HOUR in
TIMEZONE, and serves health, status, cache and metrics endpoints on
ADMIN_ADDR until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// newMux routes the admin surface. Everything but health sits behind the
// admin key.
func newMux(app *App, admin *handlers.Admin) *http.ServeMux {
	key := app.Cfg.AdminAPIKey
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", admin.HealthHandler)
	mux.Handle("/api/admin/status", middleware.AdminKey(key, http.HandlerFunc(admin.StatusHandler)))
	mux.Handle("/api/admin/cache", middleware.AdminKey(key, http.HandlerFunc(admin.CacheHandler)))
	mux.Handle("/metrics", middleware.AdminKey(key, promhttp.HandlerFor(app.Prom.Registry, promhttp.HandlerOpts{})))
	return mux
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Cfg
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}
	app, err := NewApp(cfg, true)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signalContext()
	defer stop()

	daily := scheduler.NewDaily(func(ctx context.Context, d edition.Date) error {
		return app.RunDates(ctx, []edition.Date{d})
	}, cfg.ScheduleHour, loc)
	daily.Start(ctx)
	defer daily.Stop()

	admin := &handlers.Admin{
		Cache:    app.Cache,
		Breaker:  app.Breaker,
		Feed:     app.Feed,
		Schedule: daily,
		Started:  time.Now(),
	}
	limiter := handlers.NewRateLimiter(5, 20, time.Second)
	defer limiter.Stop()

	// Recovery → SecurityHeaders → RequestLog → Gzip → Rate Limiter
	var handler http.Handler = limiter.Middleware(newMux(app, admin))
	handler = middleware.Gzip(handler)
	handler = middleware.RequestLog(handler)
	handler = middleware.SecurityHeaders(handler)
	handler = middleware.Recovery(handler)

	srv := &http.Server{
		Addr:              cfg.AdminAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", map[string]interface{}{"addr": cfg.AdminAddr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("server shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
