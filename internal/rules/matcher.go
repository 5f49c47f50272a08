package rules

import (
	"bytes"
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/angelmondragon/jobrouter/pkg/enums"
)

// Job is the part of a job the matcher reads.
type Job struct {
	ID                uuid.UUID
	ServiceID         uuid.UUID
	ClientID          uuid.UUID
	RequestType       enums.RequestType
	Priority          enums.JobPriority
	IsRush            bool
	IsVIP             bool
	PreferredVendorID *uuid.UUID
}

// Match returns the winning active rule for job, or nil when none applies.
func (s *Store) Match(ctx context.Context, job Job) (*Rule, error) {
	active, err := s.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	return Select(active, job), nil
}

// Select picks the highest-precedence rule in candidates that applies to job.
// Ties on priority go to the earliest created rule, then the lowest id.
func Select(candidates []Rule, job Job) *Rule {
	applicable := make([]Rule, 0, len(candidates))
	for _, rule := range candidates {
		if rule.Applies(job) {
			applicable = append(applicable, rule)
		}
	}
	if len(applicable) == 0 {
		return nil
	}
	sort.SliceStable(applicable, func(i, j int) bool {
		return precedes(applicable[i], applicable[j])
	})
	winner := applicable[0]
	return &winner
}

func precedes(a, b Rule) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

// Applies reports whether the rule is active and its filters admit job.
func (r Rule) Applies(job Job) bool {
	if !r.Active || !r.CoversService(job.ServiceID) {
		return false
	}
	if scope, ok := r.Scope.(VendorScope); ok {
		if job.PreferredVendorID == nil || *job.PreferredVendorID != scope.OwnerVendorID {
			return false
		}
	}
	return r.Criteria.Matches(job)
}

// Matches applies each non-empty criterion.
func (c MatchCriteria) Matches(job Job) bool {
	if c.Rush != nil && *c.Rush != job.IsRush {
		return false
	}
	if c.VIP != nil && *c.VIP != job.IsVIP {
		return false
	}
	if len(c.ClientIDs) > 0 && !containsID(c.ClientIDs, job.ClientID) {
		return false
	}
	if len(c.RequestTypes) > 0 {
		found := false
		for _, rt := range c.RequestTypes {
			if rt == job.RequestType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(c.Priorities) > 0 {
		found := false
		for _, p := range c.Priorities {
			if p == job.Priority {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
