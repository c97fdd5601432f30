// Package executor dispatches pipeline runs onto a bounded background
// goroutine pool. Submission returns immediately; the engine records every
// outcome on the run row, so the dispatcher tracks only what is in flight.
package executor

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultConcurrency bounds simultaneously executing runs.
const DefaultConcurrency = 8

// Runner executes one pipeline run to completion. Implemented by
// engine.Engine.
type Runner interface {
	Execute(ctx context.Context, pipelineID, runID string)
}

// Dispatcher fans submitted runs out to worker goroutines.
type Dispatcher struct {
	runner Runner
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]string // run_id -> pipeline_id
	sem    chan struct{}
	wg     sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewDispatcher creates a dispatcher with the given concurrency limit;
// limit <= 0 means DefaultConcurrency.
func NewDispatcher(runner Runner, limit int, logger *slog.Logger) *Dispatcher {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		runner:  runner,
		logger:  logger.With("component", "executor"),
		active:  make(map[string]string),
		sem:     make(chan struct{}, limit),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Submit queues a run for execution and returns immediately. Runs execute
// on the dispatcher's own context, not the caller's: the submitting HTTP
// request ends long before the run does.
func (d *Dispatcher) Submit(pipelineID, runID string) {
	d.mu.Lock()
	d.active[runID] = pipelineID
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		select {
		case d.sem <- struct{}{}:
		case <-d.baseCtx.Done():
			d.finish(runID)
			return
		}
		defer func() { <-d.sem }()
		defer d.finish(runID)

		d.logger.Info("run dispatched", "pipeline_id", pipelineID, "run_id", runID)
		d.runner.Execute(d.baseCtx, pipelineID, runID)
	}()
}

func (d *Dispatcher) finish(runID string) {
	d.mu.Lock()
	delete(d.active, runID)
	d.mu.Unlock()
}

// ActiveCount reports how many runs are queued or executing.
func (d *Dispatcher) ActiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

// Shutdown cancels in-flight run contexts and waits for workers to drain.
func (d *Dispatcher) Shutdown() {
	d.cancel()
	d.wg.Wait()
}
