// ABOUTME: Skill-weighted operator selection for intent-tagged routing
// ABOUTME: Restricts to matching skills when possible, falls back to the full pool

package routing

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/warren/internal/store"
)

// SkillRouter ranks like the availability policy but prefers operators
// whose declared skills contain the conversation's intent tag. Used for the
// explicit best-fit assignment path.
type SkillRouter struct {
	inner *AvailabilityRouter
}

// NewSkillRouter creates a SkillRouter over the same directory reads as the
// availability policy.
func NewSkillRouter(directory Directory, freshness time.Duration, now Clock, logger *slog.Logger) *SkillRouter {
	return &SkillRouter{
		inner: NewAvailabilityRouter(directory, freshness, now, logger),
	}
}

// SelectOperator returns the best-fit operator for the given intent tag.
// With a non-empty tag, candidates holding that skill are ranked first among
// themselves; if none hold it, the full eligible pool is ranked instead so
// routing still makes a best-effort assignment. An empty tag behaves exactly
// like the availability policy.
// Returns ErrNoOperatorAvailable if the eligible set is empty.
func (r *SkillRouter) SelectOperator(ctx context.Context, intentTag string) (string, error) {
	candidates, workloads, err := r.inner.pool(ctx)
	if err != nil {
		return "", err
	}

	if intentTag != "" {
		var skilled []*store.Operator
		for _, op := range candidates {
			if op.HasSkill(intentTag) {
				skilled = append(skilled, op)
			}
		}
		if len(skilled) > 0 {
			r.inner.logger.Debug("skill filter applied",
				"intent", intentTag,
				"matched", len(skilled),
				"pool", len(candidates),
			)
			candidates = skilled
		}
	}

	return pick(candidates, workloads)
}
