// Package workflow parses YAML workflow documents into the in-memory
// definition the scheduler admits. Structural constraints are checked
// here; graph and reference checks belong to the validator.
package workflow

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/paidflow/orchestrator/common/models"
)

// document is the YAML shape of a workflow definition.
type document struct {
	ID          string `yaml:"id" validate:"required"`
	Name        string `yaml:"name" validate:"required"`
	Description string `yaml:"description"`
	Version     string `yaml:"version"`
	OwnerID     string `yaml:"owner_id"`

	Chain     string `yaml:"chain" validate:"required"`
	Token     string `yaml:"token" validate:"required"`
	MaxBudget uint64 `yaml:"max_budget" validate:"required,gt=0"`

	Entry string         `yaml:"entry" validate:"required"`
	Nodes []documentNode `yaml:"nodes" validate:"required,min=1,dive"`
	Edges []documentEdge `yaml:"edges" validate:"dive"`

	Outputs map[string]interface{} `yaml:"outputs"`
}

type documentNode struct {
	ID       string                 `yaml:"id" validate:"required"`
	Type     string                 `yaml:"type" validate:"required,oneof=agent condition parallel loop"`
	AgentRef string                 `yaml:"agent_ref"`
	Name     string                 `yaml:"name"`
	Inputs   map[string]interface{} `yaml:"inputs"`
	Retry    *documentRetry         `yaml:"retry"`
}

type documentRetry struct {
	MaxAttempts int   `yaml:"max_attempts" validate:"gte=1,lte=10"`
	BackoffMS   int64 `yaml:"backoff_ms" validate:"gte=0"`
}

type documentEdge struct {
	From      string `yaml:"from" validate:"required"`
	To        string `yaml:"to" validate:"required"`
	Condition string `yaml:"condition"`
}

// Loader parses and structurally validates workflow documents.
type Loader struct {
	validate *validator.Validate
}

// NewLoader creates a loader.
func NewLoader() *Loader {
	return &Loader{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Load parses a YAML document into a workflow definition.
func (l *Loader) Load(data []byte) (*models.WorkflowSpec, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse workflow document: %w", err)
	}
	if err := l.validate.Struct(&doc); err != nil {
		return nil, fmt.Errorf("workflow document: %w", err)
	}

	spec := &models.WorkflowSpec{
		ID:          doc.ID,
		Name:        doc.Name,
		Description: doc.Description,
		Version:     doc.Version,
		OwnerID:     doc.OwnerID,
		Chain:       doc.Chain,
		Token:       doc.Token,
		MaxBudget:   models.Atomic(doc.MaxBudget),
		Entry:       doc.Entry,
		Outputs:     doc.Outputs,
	}
	for _, n := range doc.Nodes {
		node := models.WorkflowNode{
			ID:       n.ID,
			Type:     models.NodeType(n.Type),
			AgentRef: n.AgentRef,
			Name:     n.Name,
			Inputs:   n.Inputs,
		}
		if n.Retry != nil {
			node.Retry = &models.RetryPolicy{
				MaxAttempts: n.Retry.MaxAttempts,
				BackoffMS:   n.Retry.BackoffMS,
			}
		}
		spec.Nodes = append(spec.Nodes, node)
	}
	for _, e := range doc.Edges {
		spec.Edges = append(spec.Edges, models.WorkflowEdge{
			From:      e.From,
			To:        e.To,
			Condition: e.Condition,
		})
	}
	return spec, nil
}

// LoadFile parses a YAML workflow file.
func (l *Loader) LoadFile(path string) (*models.WorkflowSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	return l.Load(data)
}
