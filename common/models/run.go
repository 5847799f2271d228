package models

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a workflow run.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

var runTransitions = map[RunStatus][]RunStatus{
	RunQueued:  {RunRunning, RunCancelled},
	RunRunning: {RunCompleted, RunFailed, RunCancelled},
	// Terminal states are sinks.
	RunCompleted: {},
	RunFailed:    {},
	RunCancelled: {},
}

// CanTransition reports whether status may move to next.
func (s RunStatus) CanTransition(next RunStatus) bool {
	for _, allowed := range runTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status is a sink state.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// Run is one scheduled execution of a workflow.
type Run struct {
	RunID      uuid.UUID `json:"run_id"`
	WorkflowID string    `json:"workflow_id"`
	OwnerID    string    `json:"owner_id,omitempty"`
	Wallet     string    `json:"wallet"`

	Status RunStatus `json:"status"`

	// Inputs seed the dataflow context under the reserved "input" key.
	Inputs map[string]interface{} `json:"inputs,omitempty"`

	Chain    string `json:"chain"`
	Token    string `json:"token"`
	Reserved Atomic `json:"reserved_budget"`
	Spent    Atomic `json:"spent_budget"`

	OutputNode string      `json:"output_node,omitempty"`
	Output     interface{} `json:"output,omitempty"`
	Error      string      `json:"error,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// NodeRunStatus is the lifecycle state of a single node execution.
type NodeRunStatus string

const (
	NodePending      NodeRunStatus = "pending"
	NodeRunning      NodeRunStatus = "running"
	NodeCompleted    NodeRunStatus = "completed"
	NodeSkipped      NodeRunStatus = "skipped"
	NodeFailedStatus NodeRunStatus = "failed"
)

// NodeRun records one node's execution within a run.
type NodeRun struct {
	ID       uuid.UUID     `json:"id"`
	RunID    uuid.UUID     `json:"run_id"`
	NodeID   string        `json:"node_id"`
	AgentRef string        `json:"agent_ref"`
	Status   NodeRunStatus `json:"status"`

	Inputs map[string]interface{} `json:"inputs,omitempty"`
	Output interface{}            `json:"output,omitempty"`

	Cost       Atomic `json:"cost"`
	RetryCount int    `json:"retry_count"`
	// TxHash is the on-chain settlement hash when the node was paywalled.
	TxHash string `json:"tx_hash,omitempty"`

	Error string   `json:"error,omitempty"`
	Logs  []string `json:"logs,omitempty"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// ReservationStatus tracks a budget reservation's lifecycle.
type ReservationStatus string

const (
	ReservationReserved ReservationStatus = "reserved"
	ReservationReleased ReservationStatus = "released"
	ReservationSettled  ReservationStatus = "settled"
)

// Reservation is an atomic debit of a wallet tied to a run. It moves
// reserved → released (refund of reserved−spent) or reserved → settled
// (funds consumed), monotonically.
type Reservation struct {
	ID     uuid.UUID         `json:"id"`
	RunID  uuid.UUID         `json:"run_id"`
	Wallet string            `json:"wallet"`
	Amount Atomic            `json:"amount"`
	Token  string            `json:"token"`
	Chain  string            `json:"chain"`
	Status ReservationStatus `json:"status"`

	CreatedAt time.Time `json:"created_at"`
}
