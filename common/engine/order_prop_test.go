package engine

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/paidflow/orchestrator/common/models"
)

// randomDAG builds an acyclic workflow: edges only run from lower to
// higher node index, with shuffled ids so the tie-break is exercised.
func randomDAG(n int, seed int64) *models.WorkflowSpec {
	rng := rand.New(rand.NewSource(seed))

	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("node-%02d", i)
	}
	rng.Shuffle(n, func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

	spec := &models.WorkflowSpec{}
	for _, id := range ids {
		spec.Nodes = append(spec.Nodes, models.WorkflowNode{ID: id, Type: models.NodeAgent})
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if rng.Intn(3) == 0 {
				spec.Edges = append(spec.Edges, models.WorkflowEdge{From: ids[i], To: ids[j]})
			}
		}
	}
	return spec
}

func TestVisitOrder_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("every node appears exactly once", prop.ForAll(
		func(n int, seed int64) bool {
			spec := randomDAG(n, seed)
			order, err := visitOrder(spec)
			if err != nil {
				return false
			}
			seen := make(map[string]bool, len(order))
			for _, id := range order {
				if seen[id] {
					return false
				}
				seen[id] = true
			}
			return len(order) == len(spec.Nodes)
		},
		gen.IntRange(1, 12), gen.Int64(),
	))

	properties.Property("every edge points forward in the order", prop.ForAll(
		func(n int, seed int64) bool {
			spec := randomDAG(n, seed)
			order, err := visitOrder(spec)
			if err != nil {
				return false
			}
			position := make(map[string]int, len(order))
			for i, id := range order {
				position[id] = i
			}
			for _, edge := range spec.Edges {
				if position[edge.From] >= position[edge.To] {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 12), gen.Int64(),
	))

	properties.Property("order is deterministic for the same graph", prop.ForAll(
		func(n int, seed int64) bool {
			spec := randomDAG(n, seed)
			first, err := visitOrder(spec)
			if err != nil {
				return false
			}
			second, err := visitOrder(spec)
			if err != nil {
				return false
			}
			if len(first) != len(second) {
				return false
			}
			for i := range first {
				if first[i] != second[i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 12), gen.Int64(),
	))

	properties.TestingRun(t)
}
