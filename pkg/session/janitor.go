package session

import (
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const DefaultSweepSchedule = "@every 1m"

// Janitor periodically evicts idle sessions from a Cache
type Janitor struct {
	cache    *Cache
	schedule string
	logger   zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewJanitor creates a janitor for cache. An empty schedule uses DefaultSweepSchedule.
func NewJanitor(cache *Cache, schedule string, logger zerolog.Logger) *Janitor {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	return &Janitor{
		cache:    cache,
		schedule: schedule,
		logger:   logger,
	}
}

// ValidateSchedule reports whether schedule is an accepted sweep schedule
func ValidateSchedule(schedule string) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return nil
}

// Start schedules the sweep
func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return fmt.Errorf("janitor is already running")
	}

	c := cron.New()
	if _, err := c.AddFunc(j.schedule, j.Sweep); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", j.schedule, err)
	}
	c.Start()

	j.cron = c
	j.running = true

	j.logger.Info().Str("schedule", j.schedule).Msg("Session janitor started")
	return nil
}

// Stop cancels the schedule and waits for a running sweep to finish
func (j *Janitor) Stop() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.running {
		return fmt.Errorf("janitor is not running")
	}

	<-j.cron.Stop().Done()
	j.running = false

	j.logger.Info().Msg("Session janitor stopped")
	return nil
}

// IsRunning returns whether the janitor is scheduled
func (j *Janitor) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

// Sweep evicts expired sessions once
func (j *Janitor) Sweep() {
	evicted := j.cache.EvictExpired()
	if evicted > 0 {
		j.logger.Debug().
			Int("evicted", evicted).
			Int("remaining", j.cache.Len()).
			Msg("Evicted idle sessions")
	}
}
