// Package scheduler admits workflow runs: it validates the definition,
// reserves the full budget up front, and enqueues the run for a worker
// to execute. Cancellation works on both queued and running runs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/paidflow/orchestrator/common/models"
	"github.com/paidflow/orchestrator/common/queue"
)

// ErrAlreadyTerminal is returned when cancelling a run that already
// reached a terminal state.
var ErrAlreadyTerminal = errors.New("run already in a terminal state")

// Validator checks a workflow definition before admission.
type Validator interface {
	Validate(spec *models.WorkflowSpec) error
}

// Budget reserves and releases run budgets.
type Budget interface {
	Reserve(runID uuid.UUID, wallet string, amount models.Atomic, token, chain string) (*models.Reservation, error)
	Release(runID uuid.UUID, spent models.Atomic) error
}

// Store is the persistence surface the scheduler writes to.
type Store interface {
	SaveWorkflow(ctx context.Context, spec *models.WorkflowSpec) error
	GetWorkflow(ctx context.Context, id string) (*models.WorkflowSpec, error)
	CreateRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error)
	UpdateRun(ctx context.Context, run *models.Run) error
	ListRuns(ctx context.Context) ([]*models.Run, error)
}

// Logger is the narrow logging interface the scheduler uses.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

// Scheduler admits, tracks, and cancels workflow runs.
type Scheduler struct {
	validator Validator
	budget    Budget
	store     Store
	queue     queue.Queue
	logger    Logger
}

// New creates a scheduler.
func New(validator Validator, budget Budget, store Store, q queue.Queue, logger Logger) *Scheduler {
	return &Scheduler{
		validator: validator,
		budget:    budget,
		store:     store,
		queue:     q,
		logger:    logger,
	}
}

// Schedule validates the workflow, reserves its full budget against the
// wallet, persists a queued run, and enqueues it. Nothing is reserved
// when validation or persistence fails.
func (s *Scheduler) Schedule(ctx context.Context, spec *models.WorkflowSpec, wallet string, inputs map[string]interface{}) (*models.Run, error) {
	if err := s.validator.Validate(spec); err != nil {
		return nil, err
	}

	run := &models.Run{
		RunID:      uuid.New(),
		WorkflowID: spec.ID,
		OwnerID:    spec.OwnerID,
		Wallet:     wallet,
		Status:     models.RunQueued,
		Inputs:     inputs,
		Chain:      spec.Chain,
		Token:      spec.Token,
		Reserved:   spec.MaxBudget,
		CreatedAt:  time.Now().UTC(),
	}

	if _, err := s.budget.Reserve(run.RunID, wallet, spec.MaxBudget, spec.Token, spec.Chain); err != nil {
		return nil, fmt.Errorf("reserve budget: %w", err)
	}

	if err := s.store.SaveWorkflow(ctx, spec); err != nil {
		s.refund(run.RunID)
		return nil, err
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		s.refund(run.RunID)
		return nil, err
	}
	if err := s.queue.Push(ctx, run.RunID.String()); err != nil {
		s.refund(run.RunID)
		// Queued runs may only move to running or cancelled; a run no
		// worker will ever pick up is cancelled.
		run.Status = models.RunCancelled
		run.Error = "enqueue failed"
		end := time.Now().UTC()
		run.EndedAt = &end
		_ = s.store.UpdateRun(ctx, run)
		return nil, fmt.Errorf("enqueue run: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("run scheduled",
			"run_id", run.RunID, "workflow_id", spec.ID,
			"wallet", wallet, "reserved", spec.MaxBudget)
	}
	return run, nil
}

// Get returns the run with its current status.
func (s *Scheduler) Get(ctx context.Context, runID uuid.UUID) (*models.Run, error) {
	return s.store.GetRun(ctx, runID)
}

// List returns all runs, newest first.
func (s *Scheduler) List(ctx context.Context) ([]*models.Run, error) {
	return s.store.ListRuns(ctx)
}

// Cancel moves a run to cancelled. A queued run is dequeued and its
// reservation refunded in full; a running run is flagged and the engine
// stops at the next node boundary, releasing the reservation itself.
func (s *Scheduler) Cancel(ctx context.Context, runID uuid.UUID) (*models.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return nil, fmt.Errorf("run %s is %s: %w", runID, run.Status, ErrAlreadyTerminal)
	}

	wasQueued := run.Status == models.RunQueued
	run.Status = models.RunCancelled
	if wasQueued {
		end := time.Now().UTC()
		run.EndedAt = &end
	}
	if err := s.store.UpdateRun(ctx, run); err != nil {
		return nil, err
	}

	if wasQueued {
		if _, err := s.queue.Remove(ctx, runID.String()); err != nil && s.logger != nil {
			s.logger.Warn("dequeue cancelled run", "run_id", runID, "error", err)
		}
		s.refund(runID)
	}

	if s.logger != nil {
		s.logger.Info("run cancelled", "run_id", runID, "was_queued", wasQueued)
	}
	return run, nil
}

func (s *Scheduler) refund(runID uuid.UUID) {
	if err := s.budget.Release(runID, 0); err != nil && s.logger != nil {
		s.logger.Warn("release reservation", "run_id", runID, "error", err)
	}
}
