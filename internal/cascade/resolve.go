package cascade

// Dependencies folds the selection prefix ending at pos into the constraint
// set that candidates for position pos+1 must satisfy. It returns nil when
// selection[pos] is unset or pos is the last active position, since no
// downstream candidates are derived in either case.
func Dependencies(chain FieldChain, selection []string, pos int) ConstraintSet {
	active := chain.Active()
	if pos < 0 || pos >= active-1 || pos >= len(selection) || selection[pos] == "" {
		return nil
	}
	cs := make(ConstraintSet, 0, pos+1)
	for j := 0; j <= pos; j++ {
		if selection[j] == "" {
			continue
		}
		cs = append(cs, Constraint{Field: chain[j], Value: selection[j]})
	}
	return cs
}

// deriveDependencies rebuilds every dependency set from scratch. Each set is
// its own slice, so no two positions share backing storage.
func deriveDependencies(chain FieldChain, selection []string) []ConstraintSet {
	n := chain.Active() - 1
	if n < 0 {
		n = 0
	}
	deps := make([]ConstraintSet, n)
	for i := range deps {
		deps[i] = Dependencies(chain, selection, i)
	}
	return deps
}

// ResolveOutput returns the first record, in source order, whose chain fields
// equal the set positions of selection. Unset positions impose no filter. An
// entirely unset selection resolves to nothing, and strict requires every
// active position to be set.
func ResolveOutput(s *Store, chain FieldChain, selection []string, strict bool) (Record, bool) {
	active := chain.Active()
	var cs ConstraintSet
	for i := 0; i < active; i++ {
		v := ""
		if i < len(selection) {
			v = selection[i]
		}
		if v == "" {
			if strict {
				return nil, false
			}
			continue
		}
		cs = append(cs, Constraint{Field: chain[i], Value: v})
	}
	if len(cs) == 0 {
		return nil, false
	}
	for _, r := range s.Records() {
		if cs.Matches(r) {
			return r, true
		}
	}
	return nil, false
}

// LookupIdentity finds the record whose identifierField equals identity and
// projects it onto the active chain. The projection stops at the first chain
// field the record does not carry, so the result is always a valid prefix.
func LookupIdentity(s *Store, chain FieldChain, identifierField, identity string) ([]string, Record, bool) {
	if identifierField == "" || identity == "" {
		return nil, nil, false
	}
	rec, ok := s.FindBy(identifierField, identity)
	if !ok {
		return nil, nil, false
	}
	selection := make([]string, chain.Active())
	for i := range selection {
		v, ok := rec.Get(chain[i])
		if !ok || v == "" {
			break
		}
		selection[i] = v
	}
	return selection, rec, true
}
