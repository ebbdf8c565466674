package sat

import "math"

// Solver is a CDCL solver over a fixed number of variables, built
// incrementally via AddClause and solved via Solve. It is not safe for
// concurrent use.
type Solver struct {
	numVars int

	clauses []*Clause
	learnts []*Clause
	watches [][]*Clause // indexed by litIndex(l)

	assign []lbool  // 1-based per variable
	level  []int    // 1-based per variable
	reason []*Clause // 1-based per variable

	trail    []Lit
	trailLim []int
	qhead    int

	activity  []float64
	lastSeen  []int
	varInc    float64
	varDecay  float64
	activityStep int

	clauseInc   float64
	clauseDecay float64

	polarity   []bool // saved phase, 1-based
	preferInit []int8 // 1=prefer true, -1=prefer false, 0=no bias, 1-based

	heap *varHeap

	clauseBudget int
	restarts     *lubyRestarts

	okay bool // false once an empty/root-level conflict has been derived
}

// NewSolver creates a solver over variables 1..numVars.
func NewSolver(numVars int) *Solver {
	s := &Solver{
		numVars:     numVars,
		watches:     make([][]*Clause, 2*numVars),
		assign:      make([]lbool, numVars+1),
		level:       make([]int, numVars+1),
		reason:      make([]*Clause, numVars+1),
		activity:    make([]float64, numVars+1),
		lastSeen:    make([]int, numVars+1),
		varInc:      1.0,
		varDecay:    0.95,
		clauseInc:   1.0,
		clauseDecay: 0.999,
		polarity:    make([]bool, numVars+1),
		preferInit:  make([]int8, numVars+1),
		clauseBudget: 2000,
		restarts:    newLubyRestarts(100),
		okay:        true,
	}
	s.heap = newVarHeap(numVars, s.activity)
	for v := 1; v <= numVars; v++ {
		s.heap.insert(v)
	}
	return s
}

// SetPreference biases a variable's initial decision polarity
// (prefer_true / prefer_false).
func (s *Solver) SetPreference(v int, preferTrue bool) {
	if preferTrue {
		s.preferInit[v] = 1
		s.polarity[v] = true
	} else {
		s.preferInit[v] = -1
		s.polarity[v] = false
	}
}

// Bump applies a one-time activity bump to a variable, used by the encoder
// to express per-repo bias/decay ahead of solving.
func (s *Solver) Bump(v int, amount float64) {
	s.bumpVarActivity(v, amount)
}

func (s *Solver) decisionLevel() int {
	return len(s.trailLim)
}

func (s *Solver) valueVar(v int) lbool {
	return s.assign[v]
}

func (s *Solver) valueLit(l Lit) lbool {
	v := s.valueVar(l.Var())
	if v == lUndef {
		return lUndef
	}
	if l.Sign() {
		return v
	}
	return v.flip()
}

// AddClause registers a problem clause. An empty clause makes the instance
// immediately unsat. A unit clause is queued for propagation at level 0.
func (s *Solver) AddClause(lits []Lit) error {
	if !s.okay {
		return nil
	}
	uniq := dedupeLits(lits)
	if hasComplementaryPair(uniq) {
		return nil // tautology, always satisfied
	}
	if len(uniq) == 0 {
		s.okay = false
		return &UnsatError{Core: nil}
	}
	if len(uniq) == 1 {
		if s.valueLit(uniq[0]) == lFalse {
			s.okay = false
			return &UnsatError{Core: uniq}
		}
		if s.valueLit(uniq[0]) == lUndef {
			s.uncheckedEnqueue(uniq[0], nil)
		}
		return nil
	}
	c := &Clause{Lits: uniq}
	s.clauses = append(s.clauses, c)
	s.attachClause(c)
	return nil
}

func dedupeLits(lits []Lit) []Lit {
	seen := make(map[Lit]bool, len(lits))
	out := make([]Lit, 0, len(lits))
	for _, l := range lits {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	return out
}

func hasComplementaryPair(lits []Lit) bool {
	seen := make(map[Lit]bool, len(lits))
	for _, l := range lits {
		if seen[l.Neg()] {
			return true
		}
		seen[l] = true
	}
	return false
}

func (s *Solver) attachClause(c *Clause) {
	s.watches[litIndex(c.Lits[0].Neg())] = append(s.watches[litIndex(c.Lits[0].Neg())], c)
	s.watches[litIndex(c.Lits[1].Neg())] = append(s.watches[litIndex(c.Lits[1].Neg())], c)
}

func (s *Solver) detachClause(c *Clause) {
	s.removeWatch(c.Lits[0].Neg(), c)
	s.removeWatch(c.Lits[1].Neg(), c)
}

func (s *Solver) removeWatch(l Lit, c *Clause) {
	idx := litIndex(l)
	ws := s.watches[idx]
	for i, w := range ws {
		if w == c {
			s.watches[idx] = append(ws[:i], ws[i+1:]...)
			return
		}
	}
}

func (s *Solver) uncheckedEnqueue(l Lit, reason *Clause) {
	v := l.Var()
	if l.Sign() {
		s.assign[v] = lTrue
	} else {
		s.assign[v] = lFalse
	}
	s.level[v] = s.decisionLevel()
	s.reason[v] = reason
	s.trail = append(s.trail, l)
}

// propagate performs unit propagation via watched literals until fixpoint
// or conflict, returning the conflicting clause (nil if none).
func (s *Solver) propagate() *Clause {
	for s.qhead < len(s.trail) {
		p := s.trail[s.qhead]
		s.qhead++
		idx := litIndex(p) // clauses watching p.Neg() are filed under litIndex(p) by attachClause
		ws := s.watches[idx]
		s.watches[idx] = ws[:0]

		for i := 0; i < len(ws); i++ {
			c := ws[i]
			// Ensure Lits[1] is the watch that just became false.
			if c.Lits[0] == p.Neg() {
				c.Lits[0], c.Lits[1] = c.Lits[1], c.Lits[0]
			}
			other := c.Lits[0]
			if s.valueLit(other) == lTrue {
				s.watches[idx] = append(s.watches[idx], c)
				continue
			}

			foundNew := false
			for k := 2; k < len(c.Lits); k++ {
				if s.valueLit(c.Lits[k]) != lFalse {
					c.Lits[1], c.Lits[k] = c.Lits[k], c.Lits[1]
					s.watches[litIndex(c.Lits[1].Neg())] = append(s.watches[litIndex(c.Lits[1].Neg())], c)
					foundNew = true
					break
				}
			}
			if foundNew {
				continue
			}

			// No replacement watch: clause is unit or conflicting on `other`.
			s.watches[idx] = append(s.watches[idx], c)
			if s.valueLit(other) == lFalse {
				// Conflict. Restore remaining watch entries untouched.
				for j := i + 1; j < len(ws); j++ {
					s.watches[idx] = append(s.watches[idx], ws[j])
				}
				s.qhead = len(s.trail)
				return c
			}
			s.uncheckedEnqueue(other, c)
		}
	}
	return nil
}

// bumpVarActivity applies the lazy-decay activity update: fold in
// decay for every step elapsed since the variable was last touched, then
// add the bump increment, rescaling the whole activity table on overflow.
func (s *Solver) bumpVarActivity(v int, inc float64) {
	s.activityStep++
	elapsed := s.activityStep - s.lastSeen[v]
	if elapsed > 0 {
		s.activity[v] *= math.Pow(s.varDecay, float64(elapsed))
		s.lastSeen[v] = s.activityStep
	}
	s.activity[v] += inc
	if s.activity[v] > 1e100 {
		for i := range s.activity {
			s.activity[i] *= 1e-100
		}
		s.varInc *= 1e-100
	}
	if s.heap.contains(v) {
		s.heap.update(v)
	}
}

func (s *Solver) bumpClauseActivity(c *Clause) {
	c.Activity += s.clauseInc
	if c.Activity > 1e100 {
		for _, l := range s.learnts {
			l.Activity *= 1e-100
		}
		s.clauseInc *= 1e-100
	}
}

func (s *Solver) decayVarActivity() {
	s.varInc /= s.varDecay
}

func (s *Solver) decayClauseActivity() {
	s.clauseInc /= s.clauseDecay
}
