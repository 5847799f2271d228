package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paidflow/orchestrator/common/models"
)

const sampleDocument = `
id: wf-research
name: research pipeline
chain: base-sepolia
token: USDC
max_budget: 1500
entry: fetch
nodes:
  - id: fetch
    type: agent
    agent_ref: agents/fetcher
    inputs:
      topic: "{{input.topic}}"
  - id: summarize
    type: agent
    agent_ref: agents/summarizer
    retry:
      max_attempts: 3
      backoff_ms: 200
    inputs:
      text: "{{fetch.result}}"
edges:
  - from: fetch
    to: summarize
outputs:
  summary: "{{summarize.result}}"
`

func TestLoad_FullDocument(t *testing.T) {
	spec, err := NewLoader().Load([]byte(sampleDocument))
	require.NoError(t, err)

	assert.Equal(t, "wf-research", spec.ID)
	assert.Equal(t, "base-sepolia", spec.Chain)
	assert.EqualValues(t, 1500, spec.MaxBudget)
	assert.Equal(t, "fetch", spec.Entry)

	require.Len(t, spec.Nodes, 2)
	assert.Equal(t, models.NodeAgent, spec.Nodes[0].Type)
	assert.Equal(t, "{{input.topic}}", spec.Nodes[0].Inputs["topic"])
	require.NotNil(t, spec.Nodes[1].Retry)
	assert.Equal(t, 3, spec.Nodes[1].Retry.MaxAttempts)
	assert.EqualValues(t, 200, spec.Nodes[1].Retry.BackoffMS)

	require.Len(t, spec.Edges, 1)
	assert.Equal(t, "fetch", spec.Edges[0].From)
	assert.Equal(t, "{{summarize.result}}", spec.Outputs["summary"])
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	_, err := NewLoader().Load([]byte(`
name: incomplete
nodes:
  - id: a
    type: agent
`))
	require.Error(t, err)
}

func TestLoad_UnknownNodeType(t *testing.T) {
	_, err := NewLoader().Load([]byte(`
id: wf-x
name: bad type
chain: base
token: USDC
max_budget: 10
entry: a
nodes:
  - id: a
    type: teleport
`))
	require.Error(t, err)
}

func TestLoad_ZeroBudgetRejected(t *testing.T) {
	_, err := NewLoader().Load([]byte(`
id: wf-x
name: no budget
chain: base
token: USDC
max_budget: 0
entry: a
nodes:
  - id: a
    type: agent
    agent_ref: agents/a
`))
	require.Error(t, err)
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := NewLoader().Load([]byte("nodes: [whoops"))
	require.Error(t, err)
}
