package sat

// analyze performs first-UIP conflict analysis starting from the
// conflicting clause, returning the learnt clause (asserting literal in
// position 0) and the decision level to backjump to.
func (s *Solver) analyze(confl *Clause) ([]Lit, int) {
	seen := make([]bool, s.numVars+1)
	learnt := []Lit{0} // placeholder for the asserting literal, filled below
	pathC := 0
	p := Lit(0)
	idx := len(s.trail) - 1

	for {
		for _, q := range confl.Lits {
			if q == p {
				continue
			}
			v := q.Var()
			if seen[v] || s.level[v] == 0 {
				continue
			}
			seen[v] = true
			s.bumpVarActivity(v, s.varInc)
			if s.level[v] >= s.decisionLevel() {
				pathC++
			} else {
				learnt = append(learnt, q)
			}
		}

		for !seen[s.trail[idx].Var()] {
			idx--
		}
		p = s.trail[idx]
		seen[p.Var()] = false
		pathC--
		idx--
		if pathC <= 0 {
			break
		}
		confl = s.reason[p.Var()]
	}
	learnt[0] = p.Neg()

	backLevel := 0
	if len(learnt) > 1 {
		maxAt := 1
		for i := 2; i < len(learnt); i++ {
			if s.level[learnt[i].Var()] > s.level[learnt[maxAt].Var()] {
				maxAt = i
			}
		}
		learnt[1], learnt[maxAt] = learnt[maxAt], learnt[1]
		backLevel = s.level[learnt[1].Var()]
	}
	return learnt, backLevel
}

// coreFromConflict walks the implication graph back from a conflict found
// while assumptions were being enqueued, collecting the assumption literals
// that are ancestors of the conflict. Falls back to the full assumption set
// if the walk can't isolate a smaller cause.
func (s *Solver) coreFromConflict(confl *Clause, assumptions []Lit) []Lit {
	assumptionVar := make(map[int]Lit, len(assumptions))
	for _, a := range assumptions {
		assumptionVar[a.Var()] = a
	}

	visited := make(map[int]bool)
	var core []Lit
	queue := append([]Lit(nil), confl.Lits...)
	for len(queue) > 0 {
		l := queue[0]
		queue = queue[1:]
		v := l.Var()
		if visited[v] {
			continue
		}
		visited[v] = true
		if a, ok := assumptionVar[v]; ok {
			core = append(core, a)
			continue
		}
		if r := s.reason[v]; r != nil {
			queue = append(queue, r.Lits...)
		}
	}
	if len(core) == 0 {
		return append([]Lit(nil), assumptions...)
	}
	return core
}
