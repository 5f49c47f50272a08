package routing

import (
	"bytes"
	"errors"
	"sort"

	"github.com/google/uuid"
)

// ErrNoEligibleCandidate means every candidate in the pool has zero headroom.
var ErrNoEligibleCandidate = errors.New("no eligible candidate")

// Candidate is one vendor or designer annotated with ledger state. IsPrimary
// only ever marks designers.
type Candidate struct {
	ID        uuid.UUID `json:"id"`
	Headroom  int       `json:"headroom"`
	Weight    int       `json:"weight"`
	IsPrimary bool      `json:"is_primary,omitempty"`
}

func (c Candidate) eligible() bool { return c.Headroom > 0 }

// Pool is a candidate list ordered by id.
type Pool []Candidate

// NewPool copies candidates into id order.
func NewPool(candidates []Candidate) Pool {
	pool := make(Pool, len(candidates))
	copy(pool, candidates)
	sort.Slice(pool, func(i, j int) bool { return lessID(pool[i].ID, pool[j].ID) })
	return pool
}

// Eligible returns the candidates with positive headroom, in pool order.
func (p Pool) Eligible() Pool {
	out := make(Pool, 0, len(p))
	for _, c := range p {
		if c.eligible() {
			out = append(out, c)
		}
	}
	return out
}

func lessID(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}
