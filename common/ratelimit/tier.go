package ratelimit

import "github.com/paidflow/orchestrator/common/models"

// Tier buckets workflows by how much agent work they schedule, so a
// wallet submitting single-agent runs is not throttled by the quota of
// wallets fanning out large graphs.
type Tier string

const (
	TierSimple   Tier = "simple"   // 1 agent node
	TierStandard Tier = "standard" // 2-4 agent nodes
	TierHeavy    Tier = "heavy"    // 5+ agent nodes
)

// Limits holds the per-minute schedule quota for each tier.
type Limits struct {
	Global   int64
	Simple   int64
	Standard int64
	Heavy    int64
}

// DefaultLimits are the per-minute quotas used when none are
// configured.
var DefaultLimits = Limits{
	Global:   600,
	Simple:   120,
	Standard: 60,
	Heavy:    20,
}

// ForTier returns the quota for a tier.
func (l Limits) ForTier(tier Tier) int64 {
	switch tier {
	case TierSimple:
		return l.Simple
	case TierStandard:
		return l.Standard
	default:
		return l.Heavy
	}
}

// TierFor classifies a workflow by its agent node count.
func TierFor(spec *models.WorkflowSpec) Tier {
	agents := 0
	for _, node := range spec.Nodes {
		if node.Type == models.NodeAgent {
			agents++
		}
	}
	switch {
	case agents <= 1:
		return TierSimple
	case agents <= 4:
		return TierStandard
	default:
		return TierHeavy
	}
}
