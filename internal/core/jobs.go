package core

import (
	"context"
	"fmt"
)

// JobDispatcher defines the contract for a system that can accept and queue
// reconciliation jobs for asynchronous processing. This interface decouples
// the request source (e.g., the HTTP handler) from the job execution mechanism.
type JobDispatcher interface {
	// Dispatch accepts a ReconcileEvent and queues it for processing.
	// It returns an error if the job cannot be queued, for example, if the
	// queue is full, providing a mechanism for backpressure.
	Dispatch(ctx context.Context, event *ReconcileEvent) error
	// Stop shuts the dispatcher down, waiting for in-flight jobs to finish.
	Stop()
}

// Job represents a single, executable unit of work processed by the
// application's job dispatcher. Each job reconciles one review stack.
type Job interface {
	// Run executes the job's logic. It receives a context for managing its
	// lifecycle and a ReconcileEvent identifying the stack to reconcile.
	Run(ctx context.Context, event *ReconcileEvent) error
}

// ReconcileEvent identifies one requested reconciliation.
type ReconcileEvent struct {
	// RunID is the unique identifier assigned to this run.
	RunID string
	// StackID is the review-service identifier of the diff whose dependency
	// stack should be reconciled.
	StackID string
	// Requester records who asked for the run, for the audit trail.
	Requester string
}

// Validate checks that the event carries everything a run needs.
func (e *ReconcileEvent) Validate() error {
	if e == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if e.StackID == "" {
		return fmt.Errorf("stack id is missing from the event")
	}
	if e.RunID == "" {
		return fmt.Errorf("run id is missing from the event")
	}
	return nil
}
