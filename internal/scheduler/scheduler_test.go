package scheduler

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camdencbrown/relay/internal/domain"
)

type fakePipelines struct {
	mu        sync.Mutex
	pipelines []domain.Pipeline
	recorded  map[string]time.Time
	listErr   error
}

func (f *fakePipelines) ListScheduledPipelines(context.Context) ([]domain.Pipeline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pipelines, f.listErr
}

func (f *fakePipelines) SetLastScheduledRun(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recorded == nil {
		f.recorded = map[string]time.Time{}
	}
	f.recorded[id] = at
	return nil
}

type fakeRuns struct {
	mu      sync.Mutex
	created []domain.Run
	err     error
}

func (f *fakeRuns) CreateRun(_ context.Context, run *domain.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, *run)
	return nil
}

type fakeDispatch struct {
	mu        sync.Mutex
	submitted []string
}

func (f *fakeDispatch) Submit(pipelineID, runID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, pipelineID)
}

func testScheduler(pipelines *fakePipelines, runs *fakeRuns, dispatch *fakeDispatch) *Scheduler {
	logger := slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
	return New(pipelines, runs, dispatch, time.Minute, logger)
}

func scheduledPipeline(id string, interval domain.ScheduleInterval, last *time.Time) domain.Pipeline {
	return domain.Pipeline{
		ID: id,
		Schedule: domain.ScheduleConfig{
			Enabled:          true,
			Interval:         interval,
			LastScheduledRun: last,
		},
	}
}

func TestTickFiresNeverRunPipelines(t *testing.T) {
	pipelines := &fakePipelines{pipelines: []domain.Pipeline{
		scheduledPipeline("pipe-1", domain.IntervalDaily, nil),
	}}
	runs := &fakeRuns{}
	dispatch := &fakeDispatch{}
	s := testScheduler(pipelines, runs, dispatch)

	s.tick(context.Background())

	require.Len(t, runs.created, 1)
	assert.Equal(t, "pipe-1", runs.created[0].PipelineID)
	assert.Equal(t, domain.RunStatusRunning, runs.created[0].Status)
	assert.Equal(t, []string{"pipe-1"}, dispatch.submitted)
	assert.Contains(t, pipelines.recorded, "pipe-1")
}

func TestTickSkipsDisabledAndNotDue(t *testing.T) {
	recent := time.Now().UTC().Add(-time.Minute)
	disabled := scheduledPipeline("pipe-off", domain.IntervalHourly, nil)
	disabled.Schedule.Enabled = false

	pipelines := &fakePipelines{pipelines: []domain.Pipeline{
		disabled,
		scheduledPipeline("pipe-recent", domain.IntervalHourly, &recent),
	}}
	runs := &fakeRuns{}
	dispatch := &fakeDispatch{}
	s := testScheduler(pipelines, runs, dispatch)

	s.tick(context.Background())

	assert.Empty(t, runs.created)
	assert.Empty(t, dispatch.submitted)
}

func TestDueCadences(t *testing.T) {
	s := testScheduler(&fakePipelines{}, &fakeRuns{}, &fakeDispatch{})
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		interval domain.ScheduleInterval
		last     time.Duration
		due      bool
	}{
		{"hourly overdue", domain.IntervalHourly, 61 * time.Minute, true},
		{"hourly fresh", domain.IntervalHourly, 59 * time.Minute, false},
		{"daily overdue", domain.IntervalDaily, 25 * time.Hour, true},
		{"daily fresh", domain.IntervalDaily, 23 * time.Hour, false},
		{"weekly overdue", domain.IntervalWeekly, 8 * 24 * time.Hour, true},
		{"weekly fresh", domain.IntervalWeekly, 6 * 24 * time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			last := now.Add(-tt.last)
			p := scheduledPipeline("p", tt.interval, &last)
			assert.Equal(t, tt.due, s.due(p, now))
		})
	}
}

func TestDueCustomCron(t *testing.T) {
	s := testScheduler(&fakePipelines{}, &fakeRuns{}, &fakeDispatch{})
	now := time.Date(2026, 8, 26, 12, 0, 30, 0, time.UTC)

	// Every 15 minutes; last fired 20 minutes ago.
	last := now.Add(-20 * time.Minute)
	p := scheduledPipeline("p", domain.IntervalCustom, &last)
	p.Schedule.Cron = "*/15 * * * *"
	assert.True(t, s.due(p, now))

	// Next slot after the last fire is still in the future.
	now = time.Date(2026, 8, 26, 11, 59, 0, 0, time.UTC)
	last = time.Date(2026, 8, 26, 11, 46, 0, 0, time.UTC)
	p.Schedule.LastScheduledRun = &last
	assert.False(t, s.due(p, now))
}

func TestDueCustomCronFallsBackToDaily(t *testing.T) {
	s := testScheduler(&fakePipelines{}, &fakeRuns{}, &fakeDispatch{})
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	last := now.Add(-25 * time.Hour)
	p := scheduledPipeline("p", domain.IntervalCustom, &last)
	p.Schedule.Cron = "not a cron"
	assert.True(t, s.due(p, now))

	fresh := now.Add(-time.Hour)
	p.Schedule.LastScheduledRun = &fresh
	assert.False(t, s.due(p, now))

	// Empty expression behaves the same.
	p.Schedule.Cron = ""
	p.Schedule.LastScheduledRun = &last
	assert.True(t, s.due(p, now))
}

func TestTickCreateRunFailureSkipsDispatch(t *testing.T) {
	pipelines := &fakePipelines{pipelines: []domain.Pipeline{
		scheduledPipeline("pipe-1", domain.IntervalDaily, nil),
	}}
	runs := &fakeRuns{err: assert.AnError}
	dispatch := &fakeDispatch{}
	s := testScheduler(pipelines, runs, dispatch)

	s.tick(context.Background())

	assert.Empty(t, dispatch.submitted)
	assert.Empty(t, pipelines.recorded, "last_scheduled_run stays untouched for retry")
}

func TestStartStop(t *testing.T) {
	pipelines := &fakePipelines{pipelines: []domain.Pipeline{
		scheduledPipeline("pipe-1", domain.IntervalHourly, nil),
	}}
	runs := &fakeRuns{}
	dispatch := &fakeDispatch{}
	logger := slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
	s := New(pipelines, runs, dispatch, 10*time.Millisecond, logger)

	s.Start(context.Background())
	require.Eventually(t, func() bool {
		dispatch.mu.Lock()
		defer dispatch.mu.Unlock()
		return len(dispatch.submitted) >= 1
	}, time.Second, 5*time.Millisecond)
	s.Stop()
}
