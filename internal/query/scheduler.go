package query

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/wxproto/wip/internal/config"
)

// Refresher is the opaque collaborator that re-pulls upstream data into the
// document store.
type Refresher interface {
	// RefreshWeather re-pulls the daily forecasts. Areas whose refresh was a
	// no-op are returned for later retry.
	RefreshWeather(ctx context.Context) (skipped []string, err error)
	// RefreshArea retries a single skipped area; ok reports whether data was
	// actually updated this time.
	RefreshArea(ctx context.Context, areaCode string) (ok bool, err error)
	RefreshAlerts(ctx context.Context) error
	RefreshDisasters(ctx context.Context) error
}

// NoopRefresher satisfies Refresher when no ingestion pipeline is wired in.
type NoopRefresher struct{}

func (NoopRefresher) RefreshWeather(ctx context.Context) ([]string, error) { return nil, nil }
func (NoopRefresher) RefreshArea(ctx context.Context, areaCode string) (bool, error) {
	return true, nil
}
func (NoopRefresher) RefreshAlerts(ctx context.Context) error    { return nil }
func (NoopRefresher) RefreshDisasters(ctx context.Context) error { return nil }

// Scheduler runs the two recurring jobs: daily weather refreshes at the
// configured times, and a periodic retry over the skip list of areas whose
// last refresh was a no-op.
type Scheduler struct {
	cfg       config.QueryConfig
	refresher Refresher
	logger    *zap.SugaredLogger
	cron      *cron.Cron

	mu      sync.Mutex
	skipped map[string]struct{}
}

// NewScheduler builds the scheduler; Start arms it.
func NewScheduler(cfg config.QueryConfig, refresher Refresher, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		refresher: refresher,
		logger:    logger,
		cron:      cron.New(),
		skipped:   make(map[string]struct{}),
	}
}

// Start registers the cron entries and begins running them until the
// context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	for _, at := range s.cfg.UpdateTimes() {
		spec, err := cronSpec(at)
		if err != nil {
			return err
		}
		if _, err := s.cron.AddFunc(spec, func() { s.runWeatherRefresh(ctx) }); err != nil {
			return fmt.Errorf("scheduling weather refresh at %s: %w", at, err)
		}
		s.logger.Infof("weather refresh scheduled daily at %s", at)
	}

	interval := time.Duration(s.cfg.SkipAreaCheckIntervalMinutes) * time.Minute
	if interval > 0 {
		spec := fmt.Sprintf("@every %s", interval)
		if _, err := s.cron.AddFunc(spec, func() { s.retrySkipped(ctx) }); err != nil {
			return fmt.Errorf("scheduling skip-list retry: %w", err)
		}
	}

	s.cron.Start()
	go func() {
		<-ctx.Done()
		s.cron.Stop()
	}()
	return nil
}

// cronSpec converts an "HH:MM" clock time into a daily cron expression.
func cronSpec(at string) (string, error) {
	parts := strings.SplitN(strings.TrimSpace(at), ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("bad weather_update_time %q, want HH:MM", at)
	}
	var hour, minute int
	if _, err := fmt.Sscanf(parts[0], "%d", &hour); err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("bad hour in weather_update_time %q", at)
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &minute); err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("bad minute in weather_update_time %q", at)
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}

// runWeatherRefresh executes the daily pull and records no-op areas.
func (s *Scheduler) runWeatherRefresh(ctx context.Context) {
	start := time.Now()
	skipped, err := s.refresher.RefreshWeather(ctx)
	if err != nil {
		s.logger.Errorf("weather refresh failed: %v", err)
		return
	}

	s.mu.Lock()
	for _, area := range skipped {
		s.skipped[area] = struct{}{}
	}
	pending := len(s.skipped)
	s.mu.Unlock()

	s.logger.Infof("weather refresh done in %s, %d areas pending retry", time.Since(start).Round(time.Millisecond), pending)
}

// retrySkipped re-attempts every area on the skip list, dropping the ones
// that finally refreshed.
func (s *Scheduler) retrySkipped(ctx context.Context) {
	s.mu.Lock()
	areas := make([]string, 0, len(s.skipped))
	for area := range s.skipped {
		areas = append(areas, area)
	}
	s.mu.Unlock()

	if len(areas) == 0 {
		return
	}

	var cleared int
	for _, area := range areas {
		ok, err := s.refresher.RefreshArea(ctx, area)
		if err != nil {
			s.logger.Warnf("retrying area %s: %v", area, err)
			continue
		}
		if ok {
			s.mu.Lock()
			delete(s.skipped, area)
			s.mu.Unlock()
			cleared++
		}
	}
	s.logger.Infof("skip-list retry: %d of %d areas refreshed", cleared, len(areas))
}

// SkippedAreas returns a copy of the current skip list.
func (s *Scheduler) SkippedAreas() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.skipped))
	for area := range s.skipped {
		out = append(out, area)
	}
	return out
}
