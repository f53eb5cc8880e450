package cascade

import (
	"slices"
	"strings"
)

// ResolveOptions returns the sorted, de-duplicated values of field across the
// records of s that satisfy constraints. It is recomputed from scratch on every
// call, so callers should only invoke it when an upstream selection changes.
//
// Records that do not carry field, or carry it as "", contribute nothing: ""
// is the unset marker, so neither can be told apart from an unset selection.
func ResolveOptions(s *Store, field string, constraints ConstraintSet) []string {
	if field == "" {
		return nil
	}
	var values []string
	for _, r := range s.Filter(constraints) {
		v, ok := r.Get(field)
		if !ok || v == "" {
			continue
		}
		values = append(values, v)
	}
	slices.Sort(values)
	return slices.Compact(values)
}

// SearchOptions narrows options to those containing query, ignoring case.
// An empty query returns options unchanged.
func SearchOptions(options []string, query string) []string {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return options
	}
	var out []string
	for _, o := range options {
		if strings.Contains(strings.ToLower(o), query) {
			out = append(out, o)
		}
	}
	return out
}
