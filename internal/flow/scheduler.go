package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// MaintenanceTask defines a recurring housekeeping task, e.g. stream-state
// sweeps or session reaping.
type MaintenanceTask struct {
	Name     string
	Schedule string // cron expression "*/5 * * * *" OR duration "60s"
	Run      func(ctx context.Context) error
}

// Scheduler runs maintenance tasks on a recurring schedule.
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		logger: logger,
	}
}

// Add registers a maintenance task. The schedule can be a cron expression
// or a duration string.
func (s *Scheduler) Add(task MaintenanceTask) error {
	if task.Run == nil {
		return fmt.Errorf("scheduler: task %q has no run function", task.Name)
	}
	schedule, err := parseSchedule(task.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for task %q: %w", task.Schedule, task.Name, err)
	}

	name := task.Name
	run := task.Run
	logger := s.logger

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()

		if ctx == nil {
			logger.Debug("scheduler stopped, skipping task", "task", name)
			return
		}

		taskCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()

		start := time.Now()
		if err := run(taskCtx); err != nil {
			logger.Warn("maintenance task failed",
				"task", name,
				"error", err,
				"duration", time.Since(start))
		} else {
			logger.Debug("maintenance task completed",
				"task", name,
				"duration", time.Since(start))
		}
	}))

	logger.Info("maintenance task registered", "name", name, "schedule", task.Schedule)
	return nil
}

// Start begins running the scheduler. Idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
}

// Stop signals the scheduler to stop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.ctx, s.cancel = nil, nil
	// Release the lock before waiting: in-flight jobs take it to read the
	// context, so holding it here would stall the drain.
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}

// constantDelay fires at a fixed interval.
type constantDelay struct {
	delay time.Duration
}

func (c *constantDelay) Next(t time.Time) time.Time {
	return t.Add(c.delay)
}

// parseSchedule tries to parse a schedule string as a cron expression
// first, then falls back to time.ParseDuration.
func parseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return &constantDelay{delay: dur}, nil
}
