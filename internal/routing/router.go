// ABOUTME: Workload-based operator selection for conversation routing
// ABOUTME: Availability policy ranks eligible operators by load, ties by recency

package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/2389/warren/internal/store"
)

// ErrNoOperatorAvailable indicates no eligible operator exists right now.
// This is an expected outcome, not a system failure: the caller queues the
// conversation and retries later.
var ErrNoOperatorAvailable = errors.New("no operator available")

// Directory provides the operator reads a router needs.
type Directory interface {
	ListEligibleOperators(ctx context.Context, now time.Time, freshness time.Duration) ([]*store.Operator, error)
	ActiveWorkloads(ctx context.Context) (map[string]int, error)
}

// Clock returns the current time. Swapped for a fixed clock in tests.
type Clock func() time.Time

// AvailabilityRouter selects the least-loaded live operator. Used for
// automatic handover assignment where presence matters more than fit.
type AvailabilityRouter struct {
	directory Directory
	freshness time.Duration
	now       Clock
	logger    *slog.Logger
}

// NewAvailabilityRouter creates an AvailabilityRouter. freshness bounds how
// stale an operator's heartbeat may be before they stop being routable.
// Pass nil for logger or now to use defaults.
func NewAvailabilityRouter(directory Directory, freshness time.Duration, now Clock, logger *slog.Logger) *AvailabilityRouter {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &AvailabilityRouter{
		directory: directory,
		freshness: freshness,
		now:       now,
		logger:    logger.With("component", "router"),
	}
}

// SelectOperator returns the ID of the eligible operator with the smallest
// active workload. Ties resolve to the most recently seen operator.
// Returns ErrNoOperatorAvailable if the eligible set is empty.
func (r *AvailabilityRouter) SelectOperator(ctx context.Context) (string, error) {
	candidates, workloads, err := r.pool(ctx)
	if err != nil {
		return "", err
	}
	return pick(candidates, workloads)
}

// pool loads the eligible candidate set and the current workload counts.
func (r *AvailabilityRouter) pool(ctx context.Context) ([]*store.Operator, map[string]int, error) {
	candidates, err := r.directory.ListEligibleOperators(ctx, r.now(), r.freshness)
	if err != nil {
		return nil, nil, fmt.Errorf("listing eligible operators: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil, ErrNoOperatorAvailable
	}

	workloads, err := r.directory.ActiveWorkloads(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("reading workloads: %w", err)
	}

	r.logger.Debug("routing pool assembled", "candidates", len(candidates))
	return candidates, workloads, nil
}

// pick orders candidates by workload ascending, ties broken by most recent
// liveness, and returns the winner's ID.
func pick(candidates []*store.Operator, workloads map[string]int) (string, error) {
	if len(candidates) == 0 {
		return "", ErrNoOperatorAvailable
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		wi, wj := workloads[candidates[i].ID], workloads[candidates[j].ID]
		if wi != wj {
			return wi < wj
		}
		return candidates[i].LastSeen.After(candidates[j].LastSeen)
	})

	return candidates[0].ID, nil
}
