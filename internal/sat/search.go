package sat

import "sort"

func (s *Solver) newDecisionLevel() {
	s.trailLim = append(s.trailLim, len(s.trail))
}

// cancelUntil unwinds the trail back to the given decision level, saving
// each unassigned variable's phase and returning it to the VSIDS heap.
func (s *Solver) cancelUntil(level int) {
	if s.decisionLevel() <= level {
		return
	}
	for i := len(s.trail) - 1; i >= s.trailLim[level]; i-- {
		v := s.trail[i].Var()
		s.polarity[v] = s.assign[v] == lTrue
		s.assign[v] = lUndef
		s.reason[v] = nil
		if !s.heap.contains(v) {
			s.heap.insert(v)
		}
	}
	s.trail = s.trail[:s.trailLim[level]]
	s.trailLim = s.trailLim[:level]
	s.qhead = len(s.trail)
}

func (s *Solver) pickBranchVar() int {
	for {
		v := s.heap.popMax()
		if v == 0 {
			return 0
		}
		if s.assign[v] == lUndef {
			return v
		}
	}
}

// isLocked reports whether clause c is currently the reason for its
// asserting literal's assignment, in which case reduceDB must keep it.
func (s *Solver) isLocked(c *Clause) bool {
	v := c.Lits[0].Var()
	return s.assign[v] != lUndef && s.reason[v] == c
}

// reduceDB drops the weaker half of the learnt-clause database, ranked by
// LBD ascending then activity descending, always keeping binary clauses and
// clauses currently locked as a reason.
func (s *Solver) reduceDB() {
	sort.SliceStable(s.learnts, func(i, j int) bool {
		a, b := s.learnts[i], s.learnts[j]
		if a.LBD != b.LBD {
			return a.LBD < b.LBD
		}
		return a.Activity > b.Activity
	})

	limit := len(s.learnts) / 2
	keep := make([]*Clause, 0, len(s.learnts))
	for i, c := range s.learnts {
		if i < limit || len(c.Lits) <= 2 || s.isLocked(c) {
			keep = append(keep, c)
			continue
		}
		s.detachClause(c)
	}
	s.learnts = keep
}

func (s *Solver) learnClause(lits []Lit) {
	if len(lits) == 1 {
		s.uncheckedEnqueue(lits[0], nil)
		return
	}
	c := &Clause{Lits: lits, Learnt: true}
	c.LBD = computeLBD(c.Lits, func(v int) int { return s.level[v] })
	s.bumpClauseActivity(c)
	s.learnts = append(s.learnts, c)
	s.attachClause(c)
	s.uncheckedEnqueue(lits[0], c)
}

// Solve searches for a satisfying assignment under the given assumptions
// (additional unit literals forced true for this call only). Returns a
// satisfying model, or SAT:false with a core of implicated assumptions.
func (s *Solver) Solve(assumptions []Lit) *Result {
	if !s.okay {
		return &Result{SAT: false}
	}
	s.cancelUntil(0) // support re-solving the same instance with new assumptions

	// Propagate pending level-0 units before opening any assumption level,
	// so their implications stay at level 0 across re-solves.
	if confl := s.propagate(); confl != nil {
		s.okay = false
		return &Result{SAT: false}
	}

	enqueued := make([]Lit, 0, len(assumptions))
	for _, a := range assumptions {
		s.newDecisionLevel()
		switch s.valueLit(a) {
		case lFalse:
			core := s.analyzeAssumptionFailure(a, enqueued)
			s.cancelUntil(0)
			return &Result{SAT: false, Core: core}
		case lUndef:
			s.uncheckedEnqueue(a, nil)
		}
		enqueued = append(enqueued, a)
		if confl := s.propagate(); confl != nil {
			core := s.coreFromConflict(confl, assumptions)
			s.cancelUntil(0)
			return &Result{SAT: false, Core: core}
		}
	}
	baseLevel := s.decisionLevel()

	conflictBudget := s.restarts.next()
	conflictCount := 0

	for {
		confl := s.propagate()
		if confl != nil {
			if s.decisionLevel() == baseLevel {
				core := s.coreFromConflict(confl, assumptions)
				s.cancelUntil(0)
				return &Result{SAT: false, Core: core}
			}
			learnt, backLevel := s.analyze(confl)
			if backLevel < baseLevel {
				backLevel = baseLevel
			}
			s.cancelUntil(backLevel)
			s.learnClause(learnt)
			s.decayVarActivity()
			s.decayClauseActivity()
			conflictCount++
			if len(s.learnts) > s.clauseBudget {
				s.reduceDB()
			}
			continue
		}

		if conflictCount >= conflictBudget {
			s.cancelUntil(baseLevel)
			conflictBudget = s.restarts.next()
			conflictCount = 0
			continue
		}

		v := s.pickBranchVar()
		if v == 0 {
			return &Result{SAT: true, Model: s.buildModel()}
		}
		s.newDecisionLevel()
		s.uncheckedEnqueue(NewLit(v, s.polarity[v]), nil)
	}
}

// analyzeAssumptionFailure handles the case where assumption a contradicts
// an assignment already forced before it was enqueued: either a level-0
// unit clause, an earlier assumption decided directly, or an earlier
// assumption's propagation.
func (s *Solver) analyzeAssumptionFailure(a Lit, enqueued []Lit) []Lit {
	v := a.Var()
	for _, e := range enqueued {
		if e.Var() == v {
			return []Lit{e, a}
		}
	}
	if r := s.reason[v]; r != nil {
		core := s.coreFromConflict(r, enqueued)
		return append(core, a)
	}
	return []Lit{a}
}
