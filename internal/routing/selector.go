package routing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/jobrouter/pkg/enums"
)

// Selector owns the closed set of routing strategies.
type Selector struct {
	cursors    CursorStore
	strategies map[enums.RoutingStrategy]Strategy
}

func NewSelector(cursors CursorStore) (*Selector, error) {
	if cursors == nil {
		return nil, fmt.Errorf("cursor store required")
	}
	return newSelector(cursors), nil
}

func newSelector(cursors CursorStore) *Selector {
	s := &Selector{cursors: cursors, strategies: map[enums.RoutingStrategy]Strategy{}}
	for _, strategy := range []Strategy{leastLoaded{}, priorityFirst{}, roundRobin{cursors: cursors}} {
		s.strategies[strategy.Name()] = strategy
	}
	return s
}

// WithTx binds round-robin cursor writes to tx.
func (s *Selector) WithTx(tx *gorm.DB) *Selector {
	if tx == nil {
		return s
	}
	return newSelector(s.cursors.WithTx(tx))
}

// Select applies the named strategy to pool. An empty or fully saturated
// pool yields ErrNoEligibleCandidate.
func (s *Selector) Select(ctx context.Context, name enums.RoutingStrategy, cursorKey string, pool Pool) (Candidate, error) {
	strategy, ok := s.strategies[name]
	if !ok {
		return Candidate{}, fmt.Errorf("unknown routing strategy %q", name)
	}
	if len(pool.Eligible()) == 0 {
		return Candidate{}, ErrNoEligibleCandidate
	}
	return strategy.Pick(ctx, cursorKey, pool)
}

// RuleCursorKey scopes vendor-level round robin to a rule and service.
func RuleCursorKey(ruleID, serviceID uuid.UUID) string {
	return fmt.Sprintf("rule:%s:service:%s", ruleID, serviceID)
}

// VendorCursorKey scopes designer-level round robin to a vendor and service.
func VendorCursorKey(vendorID, serviceID uuid.UUID) string {
	return fmt.Sprintf("vendor:%s:service:%s", vendorID, serviceID)
}
