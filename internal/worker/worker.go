// Package worker executes queued scrape runs and records their lifecycle.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/polmsg-collector/internal/ingest"
)

// statusTimeout bounds run store writes that must outlive a canceled run.
const statusTimeout = 5 * time.Second

// Runner executes one run. *coordinator.Coordinator satisfies it.
type Runner interface {
	Run(ctx context.Context, runID string, req ingest.ScrapeRequest) ingest.RunReport
}

// Worker consumes queue items and executes runs.
type Worker struct {
	id       int
	queue    ingest.Queue
	runner   Runner
	runs     ingest.RunStore
	registry *Registry
	logger   *zap.Logger
}

// New constructs a Worker.
func New(id int, queue ingest.Queue, runner Runner, runs ingest.RunStore, registry *Registry, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Worker{
		id:       id,
		queue:    queue,
		runner:   runner,
		runs:     runs,
		registry: registry,
		logger:   logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming queue items until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, ingest.ErrQueueClosed) {
				w.logger.Info("queue closed; worker exiting")
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued run", zap.String("run_id", item.RunID))
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item ingest.QueueItem) {
	logger := w.logger.With(zap.String("run_id", item.RunID), zap.String("target", item.Request.Target))

	run, err := w.runs.GetRun(ctx, item.RunID)
	if err != nil {
		logger.Error("load run failed", zap.Error(err))
		return
	}
	if run.Status.Terminal() {
		logger.Info("skipping finished run", zap.String("status", string(run.Status)))
		return
	}
	if err := w.runs.UpdateRunStatus(ctx, item.RunID, ingest.RunRunning, nil); err != nil {
		logger.Warn("mark run running failed; skipping", zap.Error(err))
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.registry.Register(item.RunID, cancel)
	defer func() {
		w.registry.Remove(item.RunID)
		cancel()
	}()

	report := w.runner.Run(runCtx, item.RunID, item.Request)

	storeCtx, storeCancel := context.WithTimeout(context.WithoutCancel(ctx), statusTimeout)
	defer storeCancel()
	if err := w.runs.UpdateRunStatus(storeCtx, item.RunID, report.Status, &report); err != nil {
		logger.Error("final run status update failed", zap.Error(err))
		return
	}
	logger.Info("run recorded", zap.String("status", string(report.Status)), zap.Duration("elapsed", report.Duration()))
}
