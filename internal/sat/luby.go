package sat

// luby computes the i-th term (1-based) of the standard Luby restart
// sequence: 1 1 2 1 1 2 4 1 1 2 1 1 2 4 8 ... Used to scale the conflict
// budget between restarts by a fixed unit.
func luby(i int) int {
	k := 1
	for (1<<uint(k) - 1) < i {
		k++
	}
	if (1<<uint(k) - 1) == i {
		return 1 << uint(k-1)
	}
	return luby(i - (1<<uint(k-1) - 1))
}

// lubyRestarts hands out successive restart budgets scaled by unit,
// replaying the Luby sequence from its first term.
type lubyRestarts struct {
	unit  int
	index int
}

func newLubyRestarts(unit int) *lubyRestarts {
	if unit <= 0 {
		unit = 100
	}
	return &lubyRestarts{unit: unit}
}

func (r *lubyRestarts) next() int {
	r.index++
	return luby(r.index) * r.unit
}
