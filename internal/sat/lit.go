// Package sat implements the conflict-driven clause-learning (CDCL) boolean
// satisfiability kernel that backs the dependency resolver: watched-literal
// unit propagation, VSIDS branching, phase-saved decisions, 1-UIP conflict
// analysis with non-chronological backtracking, LBD-scored clause
// forgetting, and Luby-sequence restarts. It solves exactly the CNF the
// resolver encoder hands it; it is not meant to be a general-purpose SAT
// library (spec Non-goals).
package sat

// Lit is a signed literal over a 1-based variable: positive for the
// variable's positive polarity, negative for its negation. Var 0 is never
// used so the sign of a Lit is unambiguous.
type Lit int32

// Var returns the 1-based variable underlying a literal.
func (l Lit) Var() int {
	if l < 0 {
		return int(-l)
	}
	return int(l)
}

// Sign reports whether the literal is in positive polarity.
func (l Lit) Sign() bool {
	return l > 0
}

// Neg returns the negation of the literal.
func (l Lit) Neg() Lit {
	return -l
}

// NewLit builds a literal for variable v (1-based) with the given polarity.
func NewLit(v int, positive bool) Lit {
	if positive {
		return Lit(v)
	}
	return Lit(-v)
}

// litIndex maps a literal to a dense 0-based slot for array-indexed watch
// lists: var v's two literals occupy slots 2*(v-1) and 2*(v-1)+1.
func litIndex(l Lit) int {
	v := l.Var() - 1
	if l.Sign() {
		return 2 * v
	}
	return 2*v + 1
}

// lbool is a three-valued truth value for a variable during search.
type lbool int8

const (
	lUndef lbool = 0
	lTrue  lbool = 1
	lFalse lbool = 2
)

func (b lbool) flip() lbool {
	switch b {
	case lTrue:
		return lFalse
	case lFalse:
		return lTrue
	default:
		return lUndef
	}
}
