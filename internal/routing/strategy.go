package routing

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/jobrouter/pkg/enums"
)

// Strategy picks one candidate from a pool.
type Strategy interface {
	Name() enums.RoutingStrategy
	Pick(ctx context.Context, cursorKey string, pool Pool) (Candidate, error)
}

type leastLoaded struct{}

func (leastLoaded) Name() enums.RoutingStrategy { return enums.RoutingStrategyLeastLoaded }

// Pick takes the most headroom; ties go to the lowest weight, then a primary
// designer, then lowest id.
func (leastLoaded) Pick(_ context.Context, _ string, pool Pool) (Candidate, error) {
	return best(pool, func(a, b Candidate) bool {
		if a.Headroom != b.Headroom {
			return a.Headroom > b.Headroom
		}
		if a.Weight != b.Weight {
			return a.Weight < b.Weight
		}
		return primaryThenID(a, b)
	})
}

type priorityFirst struct{}

func (priorityFirst) Name() enums.RoutingStrategy { return enums.RoutingStrategyPriorityFirst }

// Pick takes the highest weight; ties go to more headroom, then a primary
// designer, then lowest id.
func (priorityFirst) Pick(_ context.Context, _ string, pool Pool) (Candidate, error) {
	return best(pool, func(a, b Candidate) bool {
		if a.Weight != b.Weight {
			return a.Weight > b.Weight
		}
		if a.Headroom != b.Headroom {
			return a.Headroom > b.Headroom
		}
		return primaryThenID(a, b)
	})
}

func primaryThenID(a, b Candidate) bool {
	if a.IsPrimary != b.IsPrimary {
		return a.IsPrimary
	}
	return lessID(a.ID, b.ID)
}

func best(pool Pool, better func(a, b Candidate) bool) (Candidate, error) {
	var (
		chosen Candidate
		found  bool
	)
	for _, c := range pool {
		if !c.eligible() {
			continue
		}
		if !found || better(c, chosen) {
			chosen = c
			found = true
		}
	}
	if !found {
		return Candidate{}, ErrNoEligibleCandidate
	}
	return chosen, nil
}

type roundRobin struct {
	cursors CursorStore
}

func (roundRobin) Name() enums.RoutingStrategy { return enums.RoutingStrategyRoundRobin }

// Pick chooses the first eligible candidate after the cursor in id order,
// wrapping around, and moves the cursor to it.
func (r roundRobin) Pick(ctx context.Context, cursorKey string, pool Pool) (Candidate, error) {
	ordered := NewPool(pool)
	var chosen Candidate
	_, err := r.cursors.Advance(ctx, cursorKey, func(last uuid.UUID) (uuid.UUID, bool) {
		c, ok := nextAfter(ordered, last)
		if ok {
			chosen = c
		}
		return c.ID, ok
	})
	if err != nil {
		return Candidate{}, err
	}
	return chosen, nil
}

func nextAfter(ordered Pool, last uuid.UUID) (Candidate, bool) {
	start := 0
	for i, c := range ordered {
		if lessID(last, c.ID) {
			start = i
			break
		}
		start = len(ordered)
	}
	n := len(ordered)
	for i := 0; i < n; i++ {
		c := ordered[(start+i)%n]
		if c.eligible() {
			return c, true
		}
	}
	return Candidate{}, false
}
