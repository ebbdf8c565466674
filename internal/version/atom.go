package version

import "strings"

// Atom is a single dependency requirement: a package or capability name,
// optionally constrained to a version. An empty Op means "any version".
type Atom struct {
	Name string
	Op   Op
	Ver  Version
}

// String renders the atom in "name (op ver)" form, or bare "name" when Op
// is empty.
func (a Atom) String() string {
	if a.Op == OpAny {
		return a.Name
	}
	return a.Name + " (" + string(a.Op) + " " + a.Ver.String() + ")"
}

// Token renders the stable identity used to key solver variables and
// provider indexes for a versioned capability: "name==version".
func (a Atom) Token() string {
	if a.Op == OpAny {
		return a.Name
	}
	return a.Name + "==" + a.Ver.String()
}

// ParseAtom parses "name" or "name (op ver)" or "name op ver" (the
// unparenthesized form used by provides/conflicts/obsoletes tokens like
// "cap==ver").
func ParseAtom(s string) (Atom, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Atom{}, &InvalidAtomError{Input: s, Reason: "empty atom"}
	}

	// Parenthesized clause: name (op ver)
	if i := strings.IndexByte(s, '('); i >= 0 {
		name := strings.TrimSpace(s[:i])
		if name == "" {
			return Atom{}, &InvalidAtomError{Input: s, Reason: "missing name before clause"}
		}
		if !strings.HasSuffix(s, ")") {
			return Atom{}, &InvalidAtomError{Input: s, Reason: "unterminated version clause"}
		}
		clause := strings.TrimSpace(s[i+1 : len(s)-1])
		op, verStr, err := splitOpVersion(clause)
		if err != nil {
			return Atom{}, err
		}
		if op == OpAny {
			return Atom{}, &InvalidAtomError{Input: s, Reason: "empty version clause"}
		}
		ver, err := ParseVersion(verStr)
		if err != nil {
			return Atom{}, err
		}
		return Atom{Name: name, Op: op, Ver: ver}, nil
	}

	// Bare "cap==ver" or "cap>=ver" style token, no space/parens.
	for _, op := range []Op{OpEQEQ, OpGE, OpLE, OpGT, OpLT, OpApprox, OpEQ} {
		if idx := strings.Index(s, string(op)); idx > 0 {
			name := s[:idx]
			verStr := s[idx+len(op):]
			if verStr == "" {
				continue
			}
			ver, err := ParseVersion(verStr)
			if err != nil {
				continue
			}
			return Atom{Name: name, Op: op, Ver: ver}, nil
		}
	}

	return Atom{Name: s, Op: OpAny}, nil
}

// Satisfies reports whether candidateVersion (as carried by a repo
// candidate's metadata) meets this atom's version constraint. Name matching
// is the caller's responsibility (the encoder has already indexed
// candidates by name/provide token before calling this).
func (a Atom) Satisfies(candidateVersion string) bool {
	if a.Op == OpAny {
		return true
	}
	v, err := ParseVersion(candidateVersion)
	if err != nil {
		return false
	}
	return satisfiesOne(v, a.Op, a.Ver)
}

// ExpandProvide expands a provide token "cap==ver" into its two capability
// tokens: the unversioned "cap" and the versioned "cap==ver".
// A bare capability with no version expands to just itself.
func ExpandProvide(raw string) []string {
	a, err := ParseAtom(raw)
	if err != nil || a.Op == OpAny {
		return []string{raw}
	}
	return []string{a.Name, a.Name + "==" + a.Ver.String()}
}
