// Package validation rejects malformed workflow specs before a run is
// ever created. Checks run in groups (structural, graph, references,
// budget) and stop at the first failing group.
package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/paidflow/orchestrator/common/models"
)

// Error carries every reason collected by the failing check group.
type Error struct {
	Reasons []string
}

func (e *Error) Error() string {
	return "workflow validation failed: " + strings.Join(e.Reasons, "; ")
}

// AgentLookup is the slice of the registry the validator needs.
type AgentLookup interface {
	Get(ref string) (*models.AgentDescriptor, error)
}

// Validator validates workflow specs against graph invariants and the
// agent registry.
type Validator struct {
	agents AgentLookup
	celEnv *cel.Env
}

// New creates a validator backed by the given agent lookup.
func New(agents AgentLookup) (*Validator, error) {
	// Edge conditions are declared in the document schema but never
	// evaluated at run time. They are still compile-checked here so a
	// typo fails fast instead of silently riding along.
	env, err := cel.NewEnv(
		cel.Variable("output", cel.DynType),
		cel.Variable("ctx", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	return &Validator{agents: agents, celEnv: env}, nil
}

// Validate runs all check groups in order and returns a *Error listing
// every reason from the first group that failed.
func (v *Validator) Validate(spec *models.WorkflowSpec) error {
	groups := []func(*models.WorkflowSpec) []string{
		v.checkStructure,
		v.checkGraph,
		v.checkReferences,
		v.checkBudget,
	}
	for _, group := range groups {
		if reasons := group(spec); len(reasons) > 0 {
			return &Error{Reasons: reasons}
		}
	}
	return nil
}

func (v *Validator) checkStructure(spec *models.WorkflowSpec) []string {
	var reasons []string
	if strings.TrimSpace(spec.Name) == "" {
		reasons = append(reasons, "workflow name must not be empty")
	}
	if len(spec.Nodes) == 0 {
		reasons = append(reasons, "workflow must contain at least one node")
		return reasons
	}

	seen := make(map[string]bool, len(spec.Nodes))
	for _, n := range spec.Nodes {
		if n.ID == "" {
			reasons = append(reasons, "node with empty id")
			continue
		}
		if seen[n.ID] {
			reasons = append(reasons, fmt.Sprintf("duplicate node id %q", n.ID))
		}
		seen[n.ID] = true

		// Only agent nodes are executable. The document schema declares
		// condition/parallel/loop but the engine does not run them.
		if n.Type != models.NodeAgent {
			reasons = append(reasons, fmt.Sprintf("node %q: unsupported node type %q", n.ID, n.Type))
		} else if n.AgentRef == "" {
			reasons = append(reasons, fmt.Sprintf("node %q: agent node without agent_ref", n.ID))
		}
	}
	if !seen[spec.Entry] {
		reasons = append(reasons, fmt.Sprintf("entry node %q does not exist", spec.Entry))
	}
	return reasons
}

func (v *Validator) checkGraph(spec *models.WorkflowSpec) []string {
	var reasons []string

	nodes := make(map[string]bool, len(spec.Nodes))
	for _, n := range spec.Nodes {
		nodes[n.ID] = true
	}

	adj := make(map[string][]string)
	for _, e := range spec.Edges {
		if !nodes[e.From] {
			reasons = append(reasons, fmt.Sprintf("edge references unknown source node %q", e.From))
		}
		if !nodes[e.To] {
			reasons = append(reasons, fmt.Sprintf("edge references unknown destination node %q", e.To))
		}
		if nodes[e.From] && nodes[e.To] {
			adj[e.From] = append(adj[e.From], e.To)
		}
		if e.Condition != "" {
			if _, issues := v.celEnv.Compile(e.Condition); issues != nil && issues.Err() != nil {
				reasons = append(reasons, fmt.Sprintf("edge %s->%s: invalid condition: %v", e.From, e.To, issues.Err()))
			}
		}
	}
	if len(reasons) > 0 {
		return reasons
	}

	if cycle := findCycle(nodes, adj); cycle != "" {
		reasons = append(reasons, fmt.Sprintf("workflow graph contains a cycle through %q", cycle))
		return reasons
	}

	// BFS from the entry node; anything not visited is unreachable.
	visited := map[string]bool{spec.Entry: true}
	frontier := []string{spec.Entry}
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		for _, next := range adj[cur] {
			if !visited[next] {
				visited[next] = true
				frontier = append(frontier, next)
			}
		}
	}
	var unreachable []string
	for id := range nodes {
		if !visited[id] {
			unreachable = append(unreachable, id)
		}
	}
	sort.Strings(unreachable)
	for _, id := range unreachable {
		reasons = append(reasons, fmt.Sprintf("node %q is unreachable from entry", id))
	}
	return reasons
}

func (v *Validator) checkReferences(spec *models.WorkflowSpec) []string {
	var reasons []string
	for _, n := range spec.Nodes {
		agent, err := v.agents.Get(n.AgentRef)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("node %q: agent %q not found", n.ID, n.AgentRef))
			continue
		}
		if agent.Status != models.AgentPublished {
			reasons = append(reasons, fmt.Sprintf("node %q: agent %q is %s, not published", n.ID, n.AgentRef, agent.Status))
		}
		if !agent.SupportsChain(spec.Chain) {
			reasons = append(reasons, fmt.Sprintf("node %q: agent %q does not support chain %q", n.ID, n.AgentRef, spec.Chain))
		}
		if !agent.SupportsToken(spec.Token) {
			reasons = append(reasons, fmt.Sprintf("node %q: agent %q does not support token %q", n.ID, n.AgentRef, spec.Token))
		}
	}
	return reasons
}

func (v *Validator) checkBudget(spec *models.WorkflowSpec) []string {
	if spec.MaxBudget == 0 {
		return []string{"max_budget must be a positive atomic amount"}
	}
	return nil
}

// findCycle runs a DFS with a recursion stack and returns a node id on
// a cycle, or "".
func findCycle(nodes map[string]bool, adj map[string][]string) string {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(nodes))

	var visit func(string) string
	visit = func(id string) string {
		state[id] = inStack
		for _, next := range adj[id] {
			switch state[next] {
			case inStack:
				return next
			case unvisited:
				if hit := visit(next); hit != "" {
					return hit
				}
			}
		}
		state[id] = done
		return ""
	}

	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if state[id] == unvisited {
			if hit := visit(id); hit != "" {
				return hit
			}
		}
	}
	return ""
}
