package scheduler

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/upb/inference-router/services/registry"
)

// DefaultSchedule runs the quota reset check at the top of every hour
const DefaultSchedule = "@hourly"

// Scheduler periodically resets time-windowed quotas. It carries no state
// beyond the last tick time; its only responsibility is invariant
// maintenance: quotas eventually return to zero and availability
// eventually returns to true.
type Scheduler struct {
	registry *registry.Registry
	schedule string
	logger   *zap.Logger

	cron    *cron.Cron
	entryID cron.EntryID

	mu       sync.Mutex
	lastTick time.Time
}

// New creates a scheduler with the given cron expression. An empty
// expression uses the hourly default.
func New(reg *registry.Registry, schedule string, logger *zap.Logger) *Scheduler {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Scheduler{
		registry: reg,
		schedule: schedule,
		logger:   logger,
	}
}

// Start begins periodic quota resets. Returns an error when the schedule
// expression is invalid.
func (s *Scheduler) Start() error {
	s.cron = cron.New()

	id, err := s.cron.AddFunc(s.schedule, s.Tick)
	if err != nil {
		return err
	}
	s.entryID = id

	s.cron.Start()
	s.logger.Info("quota reset scheduler started", zap.String("schedule", s.schedule))
	return nil
}

// Stop halts the scheduler, waiting for a running tick to finish
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("quota reset scheduler stopped")
}

// Tick runs one reset pass over the registry. Exposed so tests and
// operators can trigger a pass without waiting for the schedule.
func (s *Scheduler) Tick() {
	now := time.Now()

	s.mu.Lock()
	s.lastTick = now
	s.mu.Unlock()

	reset := s.registry.ResetAll(now)
	if reset > 0 {
		s.logger.Info("quota windows reset", zap.Int("models_reset", reset))
	}
}

// LastTick returns the time of the most recent reset pass
func (s *Scheduler) LastTick() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTick
}
