// Package cascade implements the dependent-selection core: candidate option
// derivation, the selection-change transition, whole-tuple resolution and the
// reverse lookup used to seed a selection from a known record.
//
// The package is deliberately free of transport and storage concerns. It
// consumes an already-fetched Store and reports resolved identities to a Sink.
package cascade

import (
	"maps"
	"strings"
)

// Record is one flat row of the external dataset: field name -> scalar value.
type Record map[string]string

// Get returns the value of field and whether the record carries it at all.
func (r Record) Get(field string) (string, bool) {
	v, ok := r[field]
	return v, ok
}

// Constraint requires a record's Field to equal Value exactly.
type Constraint struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// ConstraintSet is a conjunction of constraints. An empty set matches every record.
type ConstraintSet []Constraint

// Matches reports whether every constraint holds for r.
func (cs ConstraintSet) Matches(r Record) bool {
	for _, c := range cs {
		v, ok := r.Get(c.Field)
		if !ok || v != c.Value {
			return false
		}
	}
	return true
}

// FieldChain is the ordered list of dependent fields. An empty entry marks an
// unconfigured position; it and every later position are inactive.
type FieldChain []string

// Active returns the number of configured leading positions.
func (c FieldChain) Active() int {
	for i, f := range c {
		if strings.TrimSpace(f) == "" {
			return i
		}
	}
	return len(c)
}

// Field returns the field at position i, or "" when i is not an active position.
func (c FieldChain) Field(i int) string {
	if i < 0 || i >= c.Active() {
		return ""
	}
	return c[i]
}

// Store is an immutable, ordered snapshot of records for one session.
type Store struct {
	records []Record
}

// NewStore copies records so later mutation by the caller cannot leak in.
func NewStore(records []Record) *Store {
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = maps.Clone(r)
		if out[i] == nil {
			out[i] = Record{}
		}
	}
	return &Store{records: out}
}

// Len returns the number of records. A nil store is empty.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.records)
}

// Records returns the records in source order. Callers must not modify them.
func (s *Store) Records() []Record {
	if s == nil {
		return nil
	}
	return s.records
}

// Filter returns, in source order, the records satisfying cs.
func (s *Store) Filter(cs ConstraintSet) []Record {
	var out []Record
	for _, r := range s.Records() {
		if cs.Matches(r) {
			out = append(out, r)
		}
	}
	return out
}

// FindBy returns the first record whose field equals value.
func (s *Store) FindBy(field, value string) (Record, bool) {
	if field == "" {
		return nil, false
	}
	for _, r := range s.Records() {
		if v, ok := r.Get(field); ok && v == value {
			return r, true
		}
	}
	return nil, false
}
