// Package sampling holds the process-wide sample filter set: named id lists
// and a date range used to restrict exports to a development-sized subset.
// It is populated once at startup from a caller-supplied callback and is
// read-only thereafter — no component may mutate it once seeded.
package sampling

import (
	"context"
	"sync"
	"time"

	"github.com/arrowarc/parquetsync/internal/ident"
)

// DateRange bounds a sample's date filter; either end may be zero to mean
// unbounded.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Context is the immutable sampling state threaded by reference into every
// model-aware function. The zero value has no id lists and no date range —
// models treat that as "sampling requested but nothing to filter by",
// returning their static filter unchanged.
type Context struct {
	idLists   map[string][]ident.ID
	dateRange DateRange
}

// RefreshFunc queries the database for the id sets a sample run should be
// restricted to. It runs once, at startup.
type RefreshFunc func(ctx context.Context) (map[string][]ident.ID, DateRange, error)

// New builds a Context from pre-resolved id lists and a date range. Callers
// that already have the data (tests, or a caller that queried it another
// way) use this directly instead of Load.
func New(idLists map[string][]ident.ID, dateRange DateRange) Context {
	copied := make(map[string][]ident.ID, len(idLists))
	for k, v := range idLists {
		ids := make([]ident.ID, len(v))
		copy(ids, v)
		copied[k] = ids
	}
	return Context{idLists: copied, dateRange: dateRange}
}

// Load runs refresh once and returns the resulting Context. It is the
// startup-time entry point cmd/parquetsync calls when --sample is set.
func Load(ctx context.Context, refresh RefreshFunc) (Context, error) {
	idLists, dr, err := refresh(ctx)
	if err != nil {
		return Context{}, err
	}
	return New(idLists, dr), nil
}

// IDs returns the named id list, or nil if the name was not populated.
func (c Context) IDs(name string) []ident.ID {
	return c.idLists[name]
}

// DateRange returns the sample's date bound.
func (c Context) DateRange() DateRange {
	return c.dateRange
}

// Empty reports whether the context carries no filters at all, i.e.
// sampling was requested but the callback populated nothing.
func (c Context) Empty() bool {
	return len(c.idLists) == 0 && c.dateRange.Start.IsZero() && c.dateRange.End.IsZero()
}

// process-wide singleton, set exactly once by Init during startup.
var (
	mu      sync.RWMutex
	current Context
	set     bool
)

// Init seeds the process-wide sampling context. It is called once, from
// main, before any model-aware code runs; calling it twice panics, since a
// mid-run mutation would violate the "immutable thereafter" contract.
func Init(c Context) {
	mu.Lock()
	defer mu.Unlock()
	if set {
		panic("sampling: Init called more than once")
	}
	current = c
	set = true
}

// Current returns the process-wide sampling context. Before Init is called
// it returns the zero Context (no filters), which is the correct behavior
// for a run that never requested --sample.
func Current() Context {
	mu.RLock()
	defer mu.RUnlock()
	return current
}
