package eviction

import (
	"log/slog"

	"github.com/lucasew/artifactquota/internal/artifact"
)

// Plan is the ordered list of eviction candidates. The executor consumes it
// greedily, so Victims holds the whole inventory in eviction order rather
// than a precomputed prefix.
type Plan struct {
	Quota   Quota
	Deficit int64
	Victims []artifact.Artifact
}

// NewPlan computes the deficit of q and, when eviction is needed, orders the
// inventory with strategy. A quota that already fits yields an empty plan.
func NewPlan(q Quota, inventory []artifact.Artifact, strategy Strategy) *Plan {
	p := &Plan{Quota: q, Deficit: q.Deficit()}
	if p.Deficit <= 0 {
		slog.Info("Quota satisfied, nothing to evict", "limit", q.Limit, "pending", q.Pending, "existing", q.Existing)
		return p
	}

	p.Victims = strategy.Order(inventory)
	slog.Info("Eviction required", "deficit", p.Deficit, "candidates", len(p.Victims))
	return p
}

// Empty reports whether the plan evicts nothing.
func (p *Plan) Empty() bool {
	return p.Deficit <= 0 || len(p.Victims) == 0
}
