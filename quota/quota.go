// Package quota tracks per-run usage budgets for the document store and the
// upstream metadata API.
//
// A Counters value is created per run and injected into every component that
// consumes budget. Each kind has its own lock and ceiling. An increment that
// takes the total past the ceiling is still applied, so the count reflects
// attempted usage rather than successful usage.
package quota

import (
	"errors"
	"fmt"
	"sync"
)

// ErrExceeded is matched by every quota condition: a local ceiling breach or
// an upstream quota rejection.
var ErrExceeded = errors.New("quota: exceeded")

// Kind identifies a budget.
type Kind string

const (
	// Read counts document store reads.
	Read Kind = "read"
	// Write counts document store writes.
	Write Kind = "write"
	// API counts upstream metadata API cost units.
	API Kind = "api"
)

// ExceededError reports which budget was exhausted.
type ExceededError struct {
	Kind  Kind
	Used  int64
	Limit int64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota: %s budget exceeded (%d > %d)", e.Kind, e.Used, e.Limit)
}

// Is makes errors.Is(err, ErrExceeded) true for every ExceededError.
func (e *ExceededError) Is(target error) bool { return target == ErrExceeded }

// IsExceeded reports whether err is, or wraps, a quota condition.
func IsExceeded(err error) bool {
	return errors.Is(err, ErrExceeded)
}

// Limits holds the ceilings per kind. A zero ceiling disables the check.
type Limits struct {
	Reads  int64
	Writes int64
	API    int64
}

// DefaultLimits stays below the free-tier ceilings of the store (50k reads,
// 20k writes per day) and of the Data API (10k units per day).
func DefaultLimits() Limits {
	return Limits{
		Reads:  45000,
		Writes: 18000,
		API:    9000,
	}
}

type counter struct {
	mu    sync.Mutex
	used  int64
	limit int64
}

// Counters is the set of budgets for one run.
type Counters struct {
	counters map[Kind]*counter
}

// New creates counters with the given ceilings.
func New(limits Limits) *Counters {
	return &Counters{
		counters: map[Kind]*counter{
			Read:  {limit: limits.Reads},
			Write: {limit: limits.Writes},
			API:   {limit: limits.API},
		},
	}
}

// Increment adds amount to kind and returns an *ExceededError when the new
// total is over the ceiling. A nil receiver never fails.
func (c *Counters) Increment(kind Kind, amount int64) error {
	if c == nil {
		return nil
	}
	ctr, ok := c.counters[kind]
	if !ok {
		return fmt.Errorf("quota: unknown kind %q", kind)
	}

	ctr.mu.Lock()
	defer ctr.mu.Unlock()

	ctr.used += amount
	if ctr.limit > 0 && ctr.used > ctr.limit {
		return &ExceededError{Kind: kind, Used: ctr.used, Limit: ctr.limit}
	}
	return nil
}

// Used returns the current total for kind.
func (c *Counters) Used(kind Kind) int64 {
	if c == nil {
		return 0
	}
	ctr, ok := c.counters[kind]
	if !ok {
		return 0
	}
	ctr.mu.Lock()
	defer ctr.mu.Unlock()
	return ctr.used
}

// Snapshot is a point-in-time copy of all totals.
type Snapshot struct {
	Reads  int64
	Writes int64
	API    int64
}

// Snapshot returns the current totals.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Reads:  c.Used(Read),
		Writes: c.Used(Write),
		API:    c.Used(API),
	}
}
