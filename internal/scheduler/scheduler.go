// Package scheduler fires scheduled pipelines. It runs as a background
// goroutine inside relayd, sweeping enabled schedules at a configurable
// interval (default 60s).
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/camdencbrown/relay/internal/domain"
)

// DefaultInterval is the sweep cadence.
const DefaultInterval = 60 * time.Second

// PipelineSource lists scheduled pipelines and records dispatches.
// Implemented by postgres.PipelineStore.
type PipelineSource interface {
	ListScheduledPipelines(ctx context.Context) ([]domain.Pipeline, error)
	SetLastScheduledRun(ctx context.Context, id string, at time.Time) error
}

// RunCreator opens a run row before dispatch. Implemented by
// postgres.RunStore.
type RunCreator interface {
	CreateRun(ctx context.Context, run *domain.Run) error
}

// Dispatcher hands a created run to the execution pool.
type Dispatcher interface {
	Submit(pipelineID, runID string)
}

// Scheduler sweeps enabled schedules and dispatches due pipelines.
type Scheduler struct {
	pipelines PipelineSource
	runs      RunCreator
	dispatch  Dispatcher
	interval  time.Duration
	parser    cron.Parser
	logger    *slog.Logger
	now       func() time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a Scheduler. interval <= 0 means DefaultInterval.
func New(pipelines PipelineSource, runs RunCreator, dispatch Dispatcher, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		pipelines: pipelines,
		runs:      runs,
		dispatch:  dispatch,
		interval:  interval,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:    logger.With("component", "scheduler"),
		now:       time.Now,
	}
}

// Start begins the background sweep goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop cancels the background goroutine and waits for it to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// tick dispatches every enabled schedule that is due.
func (s *Scheduler) tick(ctx context.Context) {
	pipelines, err := s.pipelines.ListScheduledPipelines(ctx)
	if err != nil {
		s.logger.Error("list scheduled pipelines failed", "error", err)
		return
	}

	now := s.now().UTC()
	for _, p := range pipelines {
		if !p.Schedule.Enabled {
			continue
		}
		if !s.due(p, now) {
			continue
		}

		run := &domain.Run{
			RunID:      domain.NewID("run"),
			PipelineID: p.ID,
			Status:     domain.RunStatusRunning,
			Progress:   "Starting...",
			StartedAt:  now,
		}
		if err := s.runs.CreateRun(ctx, run); err != nil {
			s.logger.Error("create scheduled run failed", "pipeline_id", p.ID, "error", err)
			continue
		}
		s.dispatch.Submit(p.ID, run.RunID)

		// Recorded only after a successful dispatch so a failed sweep
		// retries on the next tick.
		if err := s.pipelines.SetLastScheduledRun(ctx, p.ID, now); err != nil {
			s.logger.Error("record scheduled run failed", "pipeline_id", p.ID, "error", err)
		}
		s.logger.Info("scheduled run dispatched", "pipeline_id", p.ID, "run_id", run.RunID, "interval", p.Schedule.Interval)
	}
}

// due decides whether the pipeline should fire at now. Pipelines that have
// never fired are due immediately.
func (s *Scheduler) due(p domain.Pipeline, now time.Time) bool {
	last := p.Schedule.LastScheduledRun
	if last == nil {
		return true
	}
	switch p.Schedule.Interval {
	case domain.IntervalHourly:
		return now.Sub(*last) >= time.Hour
	case domain.IntervalDaily:
		return now.Sub(*last) >= 24*time.Hour
	case domain.IntervalWeekly:
		return now.Sub(*last) >= 7*24*time.Hour
	case domain.IntervalCustom:
		return s.cronDue(p, *last, now)
	}
	return false
}

// cronDue parses the custom cron expression; an absent or unparsable
// expression falls back to the daily cadence.
func (s *Scheduler) cronDue(p domain.Pipeline, last, now time.Time) bool {
	if p.Schedule.Cron == "" {
		return now.Sub(last) >= 24*time.Hour
	}
	sched, err := s.parser.Parse(p.Schedule.Cron)
	if err != nil {
		s.logger.Warn("invalid cron expression, using daily cadence", "pipeline_id", p.ID, "cron", p.Schedule.Cron, "error", err)
		return now.Sub(last) >= 24*time.Hour
	}
	return !sched.Next(last).After(now)
}
