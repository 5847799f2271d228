package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paidflow/orchestrator/common/budget"
	"github.com/paidflow/orchestrator/common/models"
	"github.com/paidflow/orchestrator/common/queue"
	"github.com/paidflow/orchestrator/common/registry"
	"github.com/paidflow/orchestrator/common/store"
	"github.com/paidflow/orchestrator/common/validation"
)

const (
	testWallet = "0xwallet"
	testToken  = "USDC"
	testChain  = "base-sepolia"
)

type fixture struct {
	scheduler *Scheduler
	validator *validation.Validator
	ledger    *budget.Ledger
	store     *store.MemoryStore
	queue     *queue.MemoryQueue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	agents := registry.New(nil)
	_, err := agents.Create(&models.AgentDescriptor{
		Ref:             "agents/echo",
		Name:            "echo",
		Category:        models.CategoryTransformation,
		Endpoint:        "http://agents.example/echo",
		SupportedChains: []string{testChain},
		SupportedTokens: []string{testToken},
	})
	require.NoError(t, err)
	_, err = agents.Publish("agents/echo")
	require.NoError(t, err)

	validator, err := validation.New(agents)
	require.NoError(t, err)

	f := &fixture{
		validator: validator,
		ledger:    budget.NewLedger(nil),
		store:     store.NewMemoryStore(),
		queue:     queue.NewMemoryQueue(),
	}
	f.scheduler = New(validator, f.ledger, f.store, f.queue, nil)
	require.NoError(t, f.ledger.Deposit(testWallet, testToken, 10_000))
	return f
}

func validSpec() *models.WorkflowSpec {
	return &models.WorkflowSpec{
		ID:        "wf-1",
		Name:      "echo once",
		Chain:     testChain,
		Token:     testToken,
		MaxBudget: 500,
		Entry:     "n1",
		Nodes: []models.WorkflowNode{
			{ID: "n1", Type: models.NodeAgent, AgentRef: "agents/echo",
				Inputs: map[string]interface{}{"text": "{{input.text}}"}},
		},
	}
}

func TestSchedule_ReservesAndEnqueues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run, err := f.scheduler.Schedule(ctx, validSpec(), testWallet, map[string]interface{}{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, models.RunQueued, run.Status)
	assert.EqualValues(t, 500, run.Reserved)

	// Budget debited and held by the reservation.
	assert.EqualValues(t, 9_500, f.ledger.Balance(testWallet, testToken))
	res := f.ledger.Reservation(run.RunID)
	require.NotNil(t, res)
	assert.Equal(t, models.ReservationReserved, res.Status)

	// The run id is waiting in the queue.
	id, err := f.queue.TryPop()
	require.NoError(t, err)
	assert.Equal(t, run.RunID.String(), id)

	stored, err := f.store.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunQueued, stored.Status)
}

func TestSchedule_InvalidWorkflowRejectedWithoutReservation(t *testing.T) {
	f := newFixture(t)

	spec := validSpec()
	spec.Nodes[0].AgentRef = "agents/nonexistent"

	_, err := f.scheduler.Schedule(context.Background(), spec, testWallet, nil)
	require.Error(t, err)
	var verr *validation.Error
	assert.ErrorAs(t, err, &verr)

	// Nothing reserved, nothing queued.
	assert.EqualValues(t, 10_000, f.ledger.Balance(testWallet, testToken))
	_, err = f.queue.TryPop()
	assert.ErrorIs(t, err, queue.ErrEmpty)
}

func TestSchedule_InsufficientBudgetRejected(t *testing.T) {
	f := newFixture(t)

	spec := validSpec()
	spec.MaxBudget = 50_000 // wallet holds 10k

	_, err := f.scheduler.Schedule(context.Background(), spec, testWallet, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, budget.ErrInsufficientFunds)

	assert.EqualValues(t, 10_000, f.ledger.Balance(testWallet, testToken))
	_, err = f.queue.TryPop()
	assert.ErrorIs(t, err, queue.ErrEmpty)
}

// brokenQueue rejects every push, standing in for a backend outage.
type brokenQueue struct {
	queue.Queue
}

func (brokenQueue) Push(context.Context, string) error {
	return errors.New("backend unavailable")
}

func TestSchedule_EnqueueFailureRefundsAndTerminatesRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sched := New(f.validator, f.ledger, f.store, brokenQueue{}, nil)

	_, err := sched.Schedule(ctx, validSpec(), testWallet, nil)
	require.Error(t, err)

	// Full refund, and the persisted run is terminal so it can never be
	// picked up or cancelled again.
	assert.EqualValues(t, 10_000, f.ledger.Balance(testWallet, testToken))
	runs, err := f.store.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunCancelled, runs[0].Status)
	assert.True(t, runs[0].Status.Terminal())
	assert.NotNil(t, runs[0].EndedAt)
	assert.Equal(t, "enqueue failed", runs[0].Error)
}

func TestCancel_QueuedRunRefundsAndDequeues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run, err := f.scheduler.Schedule(ctx, validSpec(), testWallet, nil)
	require.NoError(t, err)

	cancelled, err := f.scheduler.Cancel(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.EndedAt)

	// Full refund: the run never executed.
	assert.EqualValues(t, 10_000, f.ledger.Balance(testWallet, testToken))
	assert.Equal(t, models.ReservationReleased, f.ledger.Reservation(run.RunID).Status)

	// A worker never sees the run.
	_, err = f.queue.TryPop()
	assert.ErrorIs(t, err, queue.ErrEmpty)
}

func TestCancel_RunningRunFlagsOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run, err := f.scheduler.Schedule(ctx, validSpec(), testWallet, nil)
	require.NoError(t, err)

	// Simulate a worker picking it up.
	run.Status = models.RunRunning
	require.NoError(t, f.store.UpdateRun(ctx, run))

	cancelled, err := f.scheduler.Cancel(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCancelled, cancelled.Status)

	// The engine owns the release; the reservation is still held.
	assert.Equal(t, models.ReservationReserved, f.ledger.Reservation(run.RunID).Status)
}

func TestCancel_TerminalRunRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run, err := f.scheduler.Schedule(ctx, validSpec(), testWallet, nil)
	require.NoError(t, err)

	_, err = f.scheduler.Cancel(ctx, run.RunID)
	require.NoError(t, err)

	_, err = f.scheduler.Cancel(ctx, run.RunID)
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
}
