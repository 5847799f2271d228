package models

// NodeType identifies how a workflow node executes. Only agent nodes
// are executable; the other types are declared in the document schema
// but rejected at validation time.
type NodeType string

const (
	NodeAgent     NodeType = "agent"
	NodeCondition NodeType = "condition"
	NodeParallel  NodeType = "parallel"
	NodeLoop      NodeType = "loop"
)

// RetryPolicy controls per-node retries. Backoff is linear:
// attempt N sleeps BackoffMS × N milliseconds before re-invoking.
type RetryPolicy struct {
	MaxAttempts int   `json:"max_attempts" yaml:"max_attempts"`
	BackoffMS   int64 `json:"backoff_ms" yaml:"backoff_ms"`
}

// WorkflowNode is one vertex of the workflow DAG.
type WorkflowNode struct {
	ID       string   `json:"id" yaml:"id"`
	Type     NodeType `json:"type" yaml:"type"`
	AgentRef string   `json:"agent_ref,omitempty" yaml:"agent_ref,omitempty"`
	Name     string   `json:"name,omitempty" yaml:"name,omitempty"`

	// Inputs maps property names to literals or {{...}} template strings
	// resolved against the run's dataflow context.
	Inputs map[string]interface{} `json:"inputs,omitempty" yaml:"inputs,omitempty"`

	Retry *RetryPolicy `json:"retry,omitempty" yaml:"retry,omitempty"`
}

// WorkflowEdge is a directed data dependency between two nodes.
// Condition expressions are declared but unevaluated: every edge is
// unconditional at run time.
type WorkflowEdge struct {
	From      string `json:"from" yaml:"from"`
	To        string `json:"to" yaml:"to"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// WorkflowSpec is the validated in-memory workflow definition the
// scheduler and engine consume. The document parser (YAML or any other
// producer) builds this shape.
type WorkflowSpec struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string `json:"version,omitempty" yaml:"version,omitempty"`
	OwnerID     string `json:"owner_id,omitempty" yaml:"owner_id,omitempty"`

	Chain     string `json:"chain" yaml:"chain"`
	Token     string `json:"token" yaml:"token"`
	MaxBudget Atomic `json:"max_budget" yaml:"max_budget"`

	Nodes []WorkflowNode `json:"nodes" yaml:"nodes"`
	Edges []WorkflowEdge `json:"edges" yaml:"edges"`
	Entry string         `json:"entry" yaml:"entry"`

	// Outputs, when declared, is a template mapping resolved against the
	// final context to produce the run output. When absent the run output
	// is the last node's output in topological order.
	Outputs map[string]interface{} `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// NodeByID returns the node with the given id, or nil.
func (w *WorkflowSpec) NodeByID(id string) *WorkflowNode {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i]
		}
	}
	return nil
}
