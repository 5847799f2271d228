package agentcall

import (
	"encoding/json"
	"strconv"

	"github.com/paidflow/orchestrator/common/models"
)

// Part is one piece of a message or artifact.
type Part struct {
	Kind string                 `json:"kind"`
	Text string                 `json:"text,omitempty"`
	Data map[string]interface{} `json:"data,omitempty"`
}

const (
	PartText = "text"
	PartData = "data"
)

// Message is the standardized request/response envelope payload.
type Message struct {
	Kind      string                 `json:"kind"`
	MessageID string                 `json:"messageId"`
	Role      string                 `json:"role"`
	Parts     []Part                 `json:"parts"`
	ContextID string                 `json:"contextId,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// TaskStatus carries the remote task's state.
type TaskStatus struct {
	State string `json:"state"`
}

// Artifact is a named output attached to a task.
type Artifact struct {
	ArtifactID string `json:"artifactId,omitempty"`
	Name       string `json:"name,omitempty"`
	Parts      []Part `json:"parts"`
}

// Task is the long-running-work variant of an agent response.
type Task struct {
	Kind      string     `json:"kind"`
	ID        string     `json:"id"`
	Status    TaskStatus `json:"status"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// ResultKind tags the variant carried by a Result.
type ResultKind string

const (
	ResultMessage ResultKind = "message"
	ResultTask    ResultKind = "task"
	// ResultPaymentRequired is the first-class 402 outcome: the agent
	// demands payment before executing. Not an error.
	ResultPaymentRequired ResultKind = "payment_required"
)

// Result is the tagged union an agent call produces.
type Result struct {
	Kind      ResultKind
	Message   *Message
	Task      *Task
	Challenge *models.PaymentChallenge
}

// AgentCard is the descriptor document served at
// <endpoint>/.well-known/agent-card.json.
type AgentCard struct {
	Name         string            `json:"name"`
	URL          string            `json:"url,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Endpoints    map[string]string `json:"endpoints,omitempty"`
	Streaming    bool              `json:"streaming,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return "agent rpc error " + strconv.Itoa(e.Code) + ": " + e.Message
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	ID      int64     `json:"id"`
	Params  rpcParams `json:"params"`
}

type rpcParams struct {
	Message       Message   `json:"message"`
	Configuration rpcConfig `json:"configuration"`
}

type rpcConfig struct {
	Blocking bool `json:"blocking"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}
