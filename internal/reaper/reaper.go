// Package reaper surfaces stale pipeline runs. A run stuck in "running"
// past the age threshold usually means the process died mid-run; the
// reaper logs it and records a platform event so operators can decide.
// It never mutates run state: terminal transitions belong to the engine.
package reaper

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/camdencbrown/relay/internal/domain"
)

const (
	// DefaultInterval is the sweep cadence.
	DefaultInterval = 5 * time.Minute
	// DefaultMaxRunAge is how old a running run must be to count as stale.
	DefaultMaxRunAge = 2 * time.Hour
)

// RunSource lists runs stuck in the running state.
type RunSource interface {
	ListRunningOlderThan(ctx context.Context, cutoff time.Time) ([]domain.Run, error)
}

// EventSink records stale-run events for the analytics surface.
type EventSink interface {
	InsertEvent(ctx context.Context, e *domain.Event) error
}

// Reaper periodically sweeps for stale runs.
type Reaper struct {
	runs     RunSource
	events   EventSink
	interval time.Duration
	maxAge   time.Duration
	logger   *slog.Logger
	now      func() time.Time

	// reported tracks run ids already surfaced so each stale run produces
	// one event, not one per sweep.
	reported map[string]bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Reaper. Non-positive interval or maxAge use the defaults.
func New(runs RunSource, events EventSink, interval, maxAge time.Duration, logger *slog.Logger) *Reaper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxRunAge
	}
	return &Reaper{
		runs:     runs,
		events:   events,
		interval: interval,
		maxAge:   maxAge,
		logger:   logger.With("component", "reaper"),
		now:      time.Now,
		reported: map[string]bool{},
	}
}

// Start begins the background sweep goroutine.
func (r *Reaper) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.tick(ctx)
			}
		}
	}()
}

// Stop cancels the background goroutine and waits for it to finish.
func (r *Reaper) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.done != nil {
		<-r.done
	}
}

// tick logs and records every newly stale run.
func (r *Reaper) tick(ctx context.Context) {
	cutoff := r.now().UTC().Add(-r.maxAge)
	stale, err := r.runs.ListRunningOlderThan(ctx, cutoff)
	if err != nil {
		r.logger.Error("stale run sweep failed", "error", err)
		return
	}

	for _, run := range stale {
		if r.reported[run.RunID] {
			continue
		}
		r.reported[run.RunID] = true

		age := r.now().UTC().Sub(run.StartedAt)
		r.logger.Warn("stale run detected",
			"run_id", run.RunID,
			"pipeline_id", run.PipelineID,
			"started_at", run.StartedAt,
			"age", age.Round(time.Second))

		meta, _ := json.Marshal(map[string]any{
			"run_id":      run.RunID,
			"started_at":  run.StartedAt,
			"age_seconds": int64(age.Seconds()),
		})
		if err := r.events.InsertEvent(ctx, &domain.Event{
			EventType:  "run_stale",
			PipelineID: run.PipelineID,
			Metadata:   meta,
		}); err != nil {
			r.logger.Error("record stale run event failed", "run_id", run.RunID, "error", err)
			delete(r.reported, run.RunID)
		}
	}
}
