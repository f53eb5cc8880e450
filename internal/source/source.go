// Package source fetches the flat record set a cascade control runs against.
//
// Every Source returns records in a stable order; that order is the one the
// resolver's first-match tie-break is defined over.
package source

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/matthewbaird/cascade/internal/cascade"
)

// DefaultLimit caps the number of records fetched when no limit is configured.
const DefaultLimit = 1000

// ErrNoRecords is returned when a fetch succeeds but yields nothing.
var ErrNoRecords = errors.New("no records returned")

// Source loads the full record set for a control.
type Source interface {
	Fetch(ctx context.Context) ([]cascade.Record, error)
}

// Query is applied by every source: only records matching Filter are kept,
// at most Limit of them. A zero Filter.Field disables filtering.
type Query struct {
	Filter cascade.Constraint
	Limit  int
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return DefaultLimit
	}
	return q.Limit
}

// apply filters records in memory for sources that cannot push the query down.
func (q Query) apply(records []cascade.Record) []cascade.Record {
	var cs cascade.ConstraintSet
	if q.Filter.Field != "" {
		cs = cascade.ConstraintSet{q.Filter}
	}
	limit := q.limit()
	out := make([]cascade.Record, 0, min(len(records), limit))
	for _, r := range records {
		if len(out) == limit {
			break
		}
		if cs.Matches(r) {
			out = append(out, r)
		}
	}
	return out
}

// Memory serves a fixed record slice.
type Memory struct {
	records []cascade.Record
	query   Query
}

// NewMemory creates a Memory source over records.
func NewMemory(records []cascade.Record, q Query) *Memory {
	return &Memory{records: records, query: q}
}

func (m *Memory) Fetch(_ context.Context) ([]cascade.Record, error) {
	return m.query.apply(m.records), nil
}

// Cached wraps a Source and reuses the first non-empty successful fetch.
// Failed or empty fetches are not cached, so a later call retries.
type Cached struct {
	next Source

	mu      sync.Mutex
	records []cascade.Record
}

// NewCached wraps next.
func NewCached(next Source) *Cached {
	return &Cached{next: next}
}

func (c *Cached) Fetch(ctx context.Context) ([]cascade.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.records) > 0 {
		return c.records, nil
	}
	records, err := c.next.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	c.records = records
	return records, nil
}

// Invalidate drops the cached records.
func (c *Cached) Invalidate() {
	c.mu.Lock()
	c.records = nil
	c.mu.Unlock()
}

func sortedFields(r cascade.Record) []string {
	return slices.Sorted(maps.Keys(r))
}
