package reconcile

// memberPos is the stored position of one target-list member, or absence
// of one (new members, members of a previously unordered state).
type memberPos struct {
	has bool
	pos int64
}

// reposition computes final positions for an ordered member list. The
// algorithm is stable: a member whose stored position already extends the
// increasing sequence keeps it untouched, everything else is shifted to
// the smallest index that restores order. changed marks the members whose
// stored position differs from the result, so an unchanged prefix (or a
// fully unchanged list) costs no writes.
func reposition(members []memberPos) (final []int64, changed []bool) {
	final = make([]int64, len(members))
	changed = make([]bool, len(members))

	last := int64(-1)
	for i, m := range members {
		if m.has && m.pos > last {
			final[i] = m.pos
		} else {
			final[i] = last + 1
			changed[i] = !m.has || m.pos != final[i]
		}
		last = final[i]
	}
	return final, changed
}
