// Package engine executes workflow runs. Nodes are visited in
// deterministic topological order; each node's inputs are resolved
// against the dataflow context, validated against the agent's declared
// schema, and dispatched over JSON-RPC, settling payment challenges
// through the coordinator when one is configured.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/paidflow/orchestrator/common/agentcall"
	"github.com/paidflow/orchestrator/common/metrics"
	"github.com/paidflow/orchestrator/common/models"
	"github.com/paidflow/orchestrator/common/payment"
	"github.com/paidflow/orchestrator/common/store"
	"github.com/paidflow/orchestrator/common/template"
)

// InputKey is the reserved dataflow context key holding the run inputs.
const InputKey = "input"

// AgentProvider is the slice of the registry the engine needs.
type AgentProvider interface {
	Get(ref string) (*models.AgentDescriptor, error)
	ValidateInput(ref string, inputs map[string]interface{}) error
}

// Store is the persistence surface the engine reads and writes.
type Store interface {
	GetWorkflow(ctx context.Context, id string) (*models.WorkflowSpec, error)
	GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error)
	UpdateRun(ctx context.Context, run *models.Run) error
	CreateNodeRun(ctx context.Context, nr *models.NodeRun) error
	UpdateNodeRun(ctx context.Context, nr *models.NodeRun) error
}

// Budget releases a run's reservation when it reaches a terminal state.
type Budget interface {
	Release(runID uuid.UUID, spent models.Atomic) error
}

// Invoker invokes agents without payment handling.
type Invoker interface {
	Call(ctx context.Context, endpointBase string, inputs map[string]interface{}, opts agentcall.CallOptions) (*agentcall.Result, error)
}

// PaidInvoker invokes agents, settling 402 challenges transparently.
// limit bounds the challenge amount the invoker may accept.
type PaidInvoker interface {
	CallPaid(ctx context.Context, key payment.Key, endpointBase string, inputs map[string]interface{}, opts agentcall.CallOptions, limit models.Atomic) (*agentcall.Result, *models.PaymentProof, error)
}

// Logger is the narrow logging interface the engine uses.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Deps wires the engine's collaborators. Payments may be nil; paywalled
// agents then fail with a payment error instead of settling.
type Deps struct {
	Store    Store
	Agents   AgentProvider
	Budget   Budget
	Caller   Invoker
	Payments PaidInvoker
	Metrics  *metrics.Metrics
	Logger   Logger
}

// Engine runs workflows to completion.
type Engine struct {
	store    Store
	agents   AgentProvider
	budget   Budget
	caller   Invoker
	payments PaidInvoker
	resolver *template.Resolver
	metrics  *metrics.Metrics
	logger   Logger
}

// New creates an engine.
func New(deps Deps) *Engine {
	m := deps.Metrics
	if m == nil {
		m = metrics.NewNop()
	}
	return &Engine{
		store:    deps.Store,
		agents:   deps.Agents,
		budget:   deps.Budget,
		caller:   deps.Caller,
		payments: deps.Payments,
		resolver: template.NewResolver(),
		metrics:  m,
		logger:   deps.Logger,
	}
}

// Execute drives one run from queued to a terminal state. A node
// failure fails the run and is recorded on it, not returned; the error
// return is for infrastructure problems only.
func (e *Engine) Execute(ctx context.Context, runID uuid.UUID) error {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status == models.RunCancelled {
		// Cancelled between enqueue and pickup.
		return nil
	}
	if run.Status != models.RunQueued {
		return fmt.Errorf("run %s is %s, expected %s", runID, run.Status, models.RunQueued)
	}

	// Leave queued before anything can fail, so every failure path has
	// a legal transition to a terminal state.
	now := time.Now().UTC()
	run.Status = models.RunRunning
	run.StartedAt = &now
	if err := e.store.UpdateRun(ctx, run); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return nil // cancelled underneath us
		}
		return err
	}
	e.metrics.RunsStarted.Inc()

	spec, err := e.store.GetWorkflow(ctx, run.WorkflowID)
	if err != nil {
		return e.failRun(ctx, run, nil, fmt.Sprintf("load workflow: %v", err))
	}
	order, err := visitOrder(spec)
	if err != nil {
		return e.failRun(ctx, run, nil, err.Error())
	}
	if e.logger != nil {
		e.logger.Info("run started", "run_id", run.RunID, "workflow_id", run.WorkflowID, "nodes", len(order))
	}

	dataflow := map[string]interface{}{InputKey: run.Inputs}

	for i, nodeID := range order {
		fresh, err := e.store.GetRun(ctx, run.RunID)
		if err != nil {
			return err
		}
		if fresh.Status == models.RunCancelled {
			return e.stopCancelled(ctx, fresh, order[i:])
		}

		node := spec.NodeByID(nodeID)
		output, nodeErr := e.runNode(ctx, run, node, dataflow)
		if nodeErr != nil {
			return e.failRun(ctx, run, order[i+1:], fmt.Sprintf("node %s: %v", node.ID, nodeErr))
		}
		dataflow[node.ID] = output
	}

	if len(spec.Outputs) > 0 {
		run.Output = e.resolver.ResolveInputs(spec.Outputs, dataflow)
	} else if len(order) > 0 {
		last := order[len(order)-1]
		run.OutputNode = last
		run.Output = dataflow[last]
	}

	end := time.Now().UTC()
	run.Status = models.RunCompleted
	run.EndedAt = &end
	if err := e.store.UpdateRun(ctx, run); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return e.stopCancelled(ctx, run, nil)
		}
		return err
	}
	e.releaseBudget(run)
	e.metrics.RunsCompleted.Inc()
	if e.logger != nil {
		e.logger.Info("run completed", "run_id", run.RunID, "spent", run.Spent)
	}
	return nil
}

// runNode resolves, validates, and dispatches one node with retries.
func (e *Engine) runNode(ctx context.Context, run *models.Run, node *models.WorkflowNode, dataflow map[string]interface{}) (interface{}, error) {
	desc, err := e.agents.Get(node.AgentRef)
	if err != nil {
		return nil, err
	}

	inputs := e.resolver.ResolveInputs(node.Inputs, dataflow)
	if token, unresolved := template.HasUnresolved(inputs); unresolved {
		return nil, fmt.Errorf("unresolved template %s", token)
	}
	if err := e.agents.ValidateInput(node.AgentRef, inputs); err != nil {
		return nil, err
	}

	// Every priced node charges the reservation, paywalled or not; the
	// on-chain transfer is a separate concern.
	if desc.Pricing.Amount > 0 {
		projected, err := run.Spent.Add(desc.Pricing.Amount)
		if err != nil || projected > run.Reserved {
			return nil, fmt.Errorf("budget exceeded: spent %s + price %s > reserved %s",
				run.Spent, desc.Pricing.Amount, run.Reserved)
		}
	}

	started := time.Now().UTC()
	nr := &models.NodeRun{
		ID:        uuid.New(),
		RunID:     run.RunID,
		NodeID:    node.ID,
		AgentRef:  node.AgentRef,
		Status:    models.NodeRunning,
		Inputs:    inputs,
		StartedAt: &started,
	}
	if err := e.store.CreateNodeRun(ctx, nr); err != nil {
		return nil, err
	}

	attempts := 1
	var backoff time.Duration
	if node.Retry != nil {
		if node.Retry.MaxAttempts > 1 {
			attempts = node.Retry.MaxAttempts
		}
		backoff = time.Duration(node.Retry.BackoffMS) * time.Millisecond
	}

	var (
		res     *agentcall.Result
		proof   *models.PaymentProof
		callErr error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			nr.RetryCount++
			e.metrics.NodeRetries.Inc()
			// Linear backoff: sleep backoff × N after the Nth failure.
			select {
			case <-time.After(backoff * time.Duration(attempt-1)):
			case <-ctx.Done():
				callErr = ctx.Err()
				attempt = attempts
			}
			if callErr != nil {
				break
			}
		}
		res, proof, callErr = e.dispatch(ctx, run, node, desc, inputs)
		if callErr == nil || !retriable(callErr) {
			break
		}
		if e.logger != nil {
			e.logger.Warn("node invocation failed, retrying",
				"run_id", run.RunID, "node_id", node.ID, "attempt", attempt, "error", callErr)
		}
	}

	// Money that moved is spent even when the paid retry failed; a
	// completed unpaid node charges its declared pricing amount.
	if proof != nil {
		nr.TxHash = proof.TxHash
		nr.Cost = proof.Requirement.MaxAmountRequired
		e.metrics.PaymentsSettled.Inc()
		e.metrics.PaymentVolume.Add(float64(nr.Cost))
	} else if callErr == nil {
		nr.Cost = desc.Pricing.Amount
	}
	if nr.Cost > 0 {
		if spent, err := run.Spent.Add(nr.Cost); err == nil {
			run.Spent = spent
		}
	}

	ended := time.Now().UTC()
	nr.EndedAt = &ended
	elapsed := ended.Sub(started).Seconds()

	if callErr != nil {
		nr.Status = models.NodeFailedStatus
		nr.Error = callErr.Error()
		if err := e.store.UpdateNodeRun(ctx, nr); err != nil && e.logger != nil {
			e.logger.Error("record node failure", "run_id", run.RunID, "node_id", node.ID, "error", err)
		}
		e.metrics.NodeDuration.WithLabelValues(node.AgentRef, string(models.NodeFailedStatus)).Observe(elapsed)
		return nil, callErr
	}

	output := agentcall.ExtractOutput(res)
	nr.Status = models.NodeCompleted
	nr.Output = output
	if err := e.store.UpdateNodeRun(ctx, nr); err != nil {
		return nil, err
	}
	if err := e.store.UpdateRun(ctx, run); err != nil {
		return nil, err
	}
	e.metrics.NodeDuration.WithLabelValues(node.AgentRef, string(models.NodeCompleted)).Observe(elapsed)
	if e.logger != nil {
		e.logger.Debug("node completed",
			"run_id", run.RunID, "node_id", node.ID, "agent_ref", node.AgentRef,
			"cost", nr.Cost, "retries", nr.RetryCount)
	}
	return output, nil
}

// dispatch sends the call through the payment coordinator when one is
// configured; otherwise a bare call, where a challenge is a hard error.
func (e *Engine) dispatch(ctx context.Context, run *models.Run, node *models.WorkflowNode, desc *models.AgentDescriptor, inputs map[string]interface{}) (*agentcall.Result, *models.PaymentProof, error) {
	opts := agentcall.CallOptions{ContextID: run.RunID.String()}

	if e.payments != nil {
		// The challenge may exceed the declared pricing; whatever it
		// asks, settlement never pushes spent past the reservation.
		remaining := run.Reserved - run.Spent
		return e.payments.CallPaid(ctx, payment.Key{RunID: run.RunID, NodeID: node.ID}, desc.Endpoint, inputs, opts, remaining)
	}

	res, err := e.caller.Call(ctx, desc.Endpoint, inputs, opts)
	if err != nil {
		return nil, nil, err
	}
	if res.Kind == agentcall.ResultPaymentRequired {
		return nil, nil, &payment.Error{Reason: "agent requires payment but no signer is configured"}
	}
	return res, nil, nil
}

// failRun records the failure, skips the remaining nodes, and refunds
// the unspent reservation.
func (e *Engine) failRun(ctx context.Context, run *models.Run, remaining []string, reason string) error {
	e.skipNodes(ctx, run.RunID, remaining)

	end := time.Now().UTC()
	run.Status = models.RunFailed
	run.Error = reason
	run.EndedAt = &end
	if err := e.store.UpdateRun(ctx, run); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return e.stopCancelled(ctx, run, nil)
		}
		return err
	}
	e.releaseBudget(run)
	e.metrics.RunsFailed.Inc()
	if e.logger != nil {
		e.logger.Warn("run failed", "run_id", run.RunID, "error", reason, "spent", run.Spent)
	}
	return nil
}

// stopCancelled finishes a run that was cancelled mid-flight: remaining
// nodes are skipped and the reservation refunded for what was spent.
func (e *Engine) stopCancelled(ctx context.Context, run *models.Run, remaining []string) error {
	e.skipNodes(ctx, run.RunID, remaining)

	fresh, err := e.store.GetRun(ctx, run.RunID)
	if err != nil {
		return err
	}
	fresh.Spent = run.Spent
	if fresh.EndedAt == nil {
		end := time.Now().UTC()
		fresh.EndedAt = &end
	}
	if err := e.store.UpdateRun(ctx, fresh); err != nil {
		return err
	}
	e.releaseBudget(fresh)
	e.metrics.RunsCancelled.Inc()
	if e.logger != nil {
		e.logger.Info("run cancelled mid-flight", "run_id", run.RunID, "spent", run.Spent)
	}
	return nil
}

func (e *Engine) skipNodes(ctx context.Context, runID uuid.UUID, nodeIDs []string) {
	for _, id := range nodeIDs {
		nr := &models.NodeRun{
			ID:     uuid.New(),
			RunID:  runID,
			NodeID: id,
			Status: models.NodeSkipped,
		}
		if err := e.store.CreateNodeRun(ctx, nr); err != nil && e.logger != nil {
			e.logger.Error("record skipped node", "run_id", runID, "node_id", id, "error", err)
		}
	}
}

func (e *Engine) releaseBudget(run *models.Run) {
	if e.budget == nil {
		return
	}
	if err := e.budget.Release(run.RunID, run.Spent); err != nil && e.logger != nil {
		e.logger.Error("release reservation", "run_id", run.RunID, "error", err)
	}
}

// retriable classifies node invocation failures. Transport errors,
// timeouts, and server-side faults are transient; payment failures,
// protocol rejections, and context cancellation are not.
func retriable(err error) bool {
	if payment.IsPaymentError(err) {
		return false
	}
	var rpcErr *agentcall.RPCError
	if errors.As(err, &rpcErr) {
		return rpcRetriable(rpcErr.Code)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// rpcRetriable reports whether a JSON-RPC error code marks a server-side
// fault: the internal-error code, the implementation-defined server
// error range, or an HTTP-style 5xx. Protocol rejections (invalid
// request, method not found, invalid params) and 4xx-style codes stay
// non-retriable.
func rpcRetriable(code int) bool {
	switch {
	case code == -32603:
		return true
	case code >= -32099 && code <= -32000:
		return true
	case code >= 500 && code <= 599:
		return true
	}
	return false
}

// visitOrder is Kahn's algorithm with a lexicographic tie-break, so the
// visit order is stable across runs of the same workflow.
func visitOrder(spec *models.WorkflowSpec) ([]string, error) {
	indegree := make(map[string]int, len(spec.Nodes))
	adjacency := make(map[string][]string)
	for _, n := range spec.Nodes {
		indegree[n.ID] = 0
	}
	for _, edge := range spec.Edges {
		adjacency[edge.From] = append(adjacency[edge.From], edge.To)
		indegree[edge.To]++
	}

	ready := make([]string, 0, len(spec.Nodes))
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]string, 0, len(spec.Nodes))
	for len(ready) > 0 {
		sort.Strings(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, next := range adjacency[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	if len(order) != len(spec.Nodes) {
		return nil, errors.New("workflow graph contains a cycle")
	}
	return order, nil
}
