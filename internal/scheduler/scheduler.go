// Package scheduler runs the daily digest job once per day at a fixed hour.
package scheduler

import (
	"context"
	"sync"
	"time"

	"diariodigest/internal/edition"
	"diariodigest/internal/logger"
)

// Job processes one gazette date.
type Job func(ctx context.Context, d edition.Date) error

// Status is the scheduler's view for the admin endpoint.
type Status struct {
	Enabled  bool       `json:"enabled"`
	Hour     int        `json:"hour"`
	RunCount int        `json:"run_count"`
	LastRun  *time.Time `json:"last_run,omitempty"`
	LastDate string     `json:"last_date,omitempty"`
	LastErr  string     `json:"last_error,omitempty"`
	NextRun  time.Time  `json:"next_run"`
}

// Daily runs Job for today's date every day at Hour in Location. Weekends
// are skipped; the gazette does not publish ordinary editions then.
type Daily struct {
	Job      Job
	Hour     int
	Location *time.Location

	mu     sync.RWMutex
	status Status
	stopCh chan struct{}
	once   sync.Once
}

func NewDaily(job Job, hour int, loc *time.Location) *Daily {
	if loc == nil {
		loc = time.Local
	}
	if hour < 0 || hour > 23 {
		hour = 9
	}
	return &Daily{
		Job:      job,
		Hour:     hour,
		Location: loc,
		status:   Status{Enabled: true, Hour: hour},
		stopCh:   make(chan struct{}),
	}
}

// NextRun is the first occurrence of hour strictly after now.
func NextRun(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Start launches the loop. It returns immediately.
func (s *Daily) Start(ctx context.Context) {
	go func() {
		for {
			next := NextRun(time.Now().In(s.Location), s.Hour)
			s.update(func(st *Status) { st.NextRun = next })
			timer := time.NewTimer(time.Until(next))
			select {
			case <-timer.C:
				s.RunOnce(ctx, edition.DateOf(next))
			case <-ctx.Done():
				timer.Stop()
				return
			case <-s.stopCh:
				timer.Stop()
				return
			}
		}
	}()
	logger.Info("scheduler: started", map[string]interface{}{"hour": s.Hour, "location": s.Location.String()})
}

func (s *Daily) Stop() {
	s.once.Do(func() { close(s.stopCh) })
}

// RunOnce runs the job for d unless d is a weekend day.
func (s *Daily) RunOnce(ctx context.Context, d edition.Date) {
	if !d.IsBusinessDay() {
		logger.Info("scheduler: skipping weekend", map[string]interface{}{"date": d.String()})
		return
	}
	err := s.Job(ctx, d)
	now := time.Now()
	s.update(func(st *Status) {
		st.RunCount++
		st.LastRun = &now
		st.LastDate = d.String()
		st.LastErr = ""
		if err != nil {
			st.LastErr = err.Error()
		}
	})
	if err != nil {
		logger.Error("scheduler: run failed", map[string]interface{}{"date": d.String(), "error": err.Error()})
	}
}

func (s *Daily) update(fn func(*Status)) {
	s.mu.Lock()
	fn(&s.status)
	s.mu.Unlock()
}

func (s *Daily) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}
