// Package jobs defines background tasks such as stack reconciliations.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sevigo/stack-warden/internal/core"
)

// dispatcher implements core.JobDispatcher and manages a pool of worker
// goroutines for processing reconciliation requests.
type dispatcher struct {
	reconcileJob core.Job                  // Job implementation executed by each worker.
	jobQueue     chan *core.ReconcileEvent // Queue of incoming reconciliation requests.
	maxWorkers   int                       // Number of concurrent workers.
	wg           sync.WaitGroup            // Tracks active workers for graceful shutdown.
	logger       *slog.Logger              // Logger instance for the dispatcher.
}

// NewDispatcher initializes a dispatcher with a worker pool.
// If maxWorkers is 0 or negative, it defaults to 1.
func NewDispatcher(reconcileJob core.Job, maxWorkers int, logger *slog.Logger) core.JobDispatcher {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	d := &dispatcher{
		reconcileJob: reconcileJob,
		maxWorkers:   maxWorkers,
		jobQueue:     make(chan *core.ReconcileEvent, 100),
		logger:       logger,
	}
	d.startWorkers()
	return d
}

// startWorkers launches maxWorkers goroutines to process jobs from the queue.
func (d *dispatcher) startWorkers() {
	for i := range d.maxWorkers {
		d.wg.Add(1)
		go d.startWorker(i)
	}
}

// startWorker processes events from the queue until it's closed.
func (d *dispatcher) startWorker(workerID int) {
	defer d.wg.Done()
	d.logger.Info("starting reconcile worker", "id", workerID)

	for event := range d.jobQueue {
		d.processEvent(workerID, event)
	}

	d.logger.Info("shutting down reconcile worker", "id", workerID)
}

// processEvent logs and runs a reconciliation job for one event.
func (d *dispatcher) processEvent(workerID int, event *core.ReconcileEvent) {
	d.logger.Info("worker processing job",
		"worker_id", workerID,
		"stack", event.StackID,
		"run_id", event.RunID,
	)

	err := d.reconcileJob.Run(context.Background(), event)
	if err != nil {
		d.logger.Error("reconciliation job failed",
			"stack", event.StackID,
			"run_id", event.RunID,
			"error", err,
		)
	}
}

// Dispatch queues a reconciliation event for processing by a worker.
func (d *dispatcher) Dispatch(_ context.Context, event *core.ReconcileEvent) error {
	d.logger.Info("queuing reconciliation job", "stack", event.StackID, "run_id", event.RunID)

	select {
	case d.jobQueue <- event:
		return nil
	default:
		return fmt.Errorf("job queue is full, cannot accept new reconciliation job")
	}
}

// Stop gracefully shuts down the dispatcher, waiting for all workers to finish.
func (d *dispatcher) Stop() {
	d.logger.Info("stopping dispatcher and waiting for jobs to finish")
	close(d.jobQueue)
	d.wg.Wait()
	d.logger.Info("all reconciliation jobs have finished")
}
