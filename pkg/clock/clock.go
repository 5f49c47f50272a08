package clock

import (
	"sync"
	"time"
)

// DayLayout is the canonical capacity bucket key format.
const DayLayout = "2006-01-02"

// Clock supplies the engine's notion of "now" in one canonical timezone.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

// Today returns the day bucket for the clock's current instant.
func Today(c Clock) string {
	return DayOf(c, c.Now())
}

// DayOf converts an arbitrary instant into the clock's day bucket.
func DayOf(c Clock, t time.Time) string {
	loc := c.Location()
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DayLayout)
}

type systemClock struct {
	loc *time.Location
}

// NewSystem returns a wall clock pinned to loc (UTC when nil).
func NewSystem(loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	return systemClock{loc: loc}
}

func (c systemClock) Now() time.Time           { return time.Now().In(c.loc) }
func (c systemClock) Location() *time.Location { return c.loc }

// Fixed is a manually advanced clock for tests and replay tooling.
type Fixed struct {
	mu  sync.Mutex
	now time.Time
	loc *time.Location
}

func NewFixed(now time.Time, loc *time.Location) *Fixed {
	if loc == nil {
		loc = time.UTC
	}
	return &Fixed{now: now, loc: loc}
}

func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now.In(f.loc)
}

func (f *Fixed) Location() *time.Location { return f.loc }

func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *Fixed) Set(now time.Time) {
	f.mu.Lock()
	f.now = now
	f.mu.Unlock()
}
