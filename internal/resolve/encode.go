// Package resolve encodes a dependency-resolution problem as
// CNF and hands it to the internal/sat CDCL kernel, then decodes the
// resulting model (or unsat core) back into package terms.
package resolve

import (
	"fmt"
	"sort"

	"github.com/lpm-project/lpm/internal/model"
	"github.com/lpm-project/lpm/internal/sat"
	"github.com/lpm-project/lpm/internal/version"
)

// Request is everything the resolver needs beyond the universe itself:
// what the user asked to change, the standing pins/holds it must respect,
// and the per-repo bias knobs.
type Request struct {
	Install []string // atom strings the user asked to install/upgrade
	Remove  []string // package names the user asked to remove
	Pins    model.Pins
	// Repos supplies per-repo bias/decay applied to candidate activity;
	// keyed by RepoConfig.Name. May be nil.
	Repos map[string]model.RepoConfig
}

// candidate pairs a package with the sat variable assigned to "this exact
// name==version is selected".
type candidate struct {
	pkg model.PkgMeta
	v   int
}

// Encoder builds the CNF for one resolve call. It is single-use: build a
// fresh Encoder per Resolve.
type Encoder struct {
	solver *sat.Solver

	nextVar   int
	byKey     map[string]*candidate // "name==version" -> candidate
	byName    map[string][]*candidate
	byProvide map[string][]*candidate
	installed map[string]string // currently installed name -> "version[-release]"
}

// NewEncoder allocates one sat variable per candidate in universe and
// returns an Encoder ready for clause construction. installed maps each
// currently installed name to its full "version[-release]" identity.
func NewEncoder(universe []model.PkgMeta, installed map[string]string) *Encoder {
	e := &Encoder{
		byKey:     make(map[string]*candidate, len(universe)),
		byName:    make(map[string][]*candidate),
		byProvide: make(map[string][]*candidate),
		installed: installed,
	}
	for _, pkg := range universe {
		if _, dup := e.byKey[pkg.Key()]; dup {
			continue
		}
		e.nextVar++
		c := &candidate{pkg: pkg, v: e.nextVar}
		e.byKey[pkg.Key()] = c
		e.byName[pkg.Name] = append(e.byName[pkg.Name], c)
		for _, prov := range pkg.Provides {
			for _, token := range version.ExpandProvide(prov) {
				e.byProvide[token] = append(e.byProvide[token], c)
			}
		}
	}
	e.solver = sat.NewSolver(e.nextVar)
	return e
}

// matching returns every candidate satisfying atom, by name or by provide
// token.
func (e *Encoder) matching(atom version.Atom) []*candidate {
	var out []*candidate
	seen := make(map[int]bool)
	for _, c := range e.byName[atom.Name] {
		if atom.Satisfies(c.pkg.Version) {
			out = append(out, c)
			seen[c.v] = true
		}
	}
	// An unversioned atom matches any provider of the bare token; a
	// versioned atom matches providers of the exact "name==ver" token.
	providerToken := atom.Name
	if atom.Op != version.OpAny {
		providerToken = atom.Token()
	}
	for _, c := range e.byProvide[providerToken] {
		if !seen[c.v] {
			out = append(out, c)
			seen[c.v] = true
		}
	}
	return out
}

// EncodeUniverseConstraints adds the at-most-one-per-name, requires,
// conflicts and obsoletes clauses for every known candidate.
func (e *Encoder) EncodeUniverseConstraints() error {
	for name, cands := range e.byName {
		for i := 0; i < len(cands); i++ {
			for j := i + 1; j < len(cands); j++ {
				if err := e.solver.AddClause([]sat.Lit{
					sat.NewLit(cands[i].v, false),
					sat.NewLit(cands[j].v, false),
				}); err != nil {
					return fmt.Errorf("at-most-one clause for %s: %w", name, err)
				}
			}
		}
	}

	for _, c := range e.byKey {
		for _, req := range c.pkg.Requires {
			expr, err := version.ParseDepExpr(req)
			if err != nil {
				return fmt.Errorf("parsing requires %q on %s: %w", req, c.pkg.Key(), err)
			}
			if err := e.encodeImpliesSatisfied(c, expr); err != nil {
				return err
			}
		}
		for _, conf := range c.pkg.Conflicts {
			if err := e.encodeMutualExclusion(c, conf, "conflicts"); err != nil {
				return err
			}
		}
		for _, obs := range c.pkg.Obsoletes {
			if err := e.encodeMutualExclusion(c, obs, "obsoletes"); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Encoder) encodeMutualExclusion(c *candidate, atomStr, kind string) error {
	atom, err := version.ParseAtom(atomStr)
	if err != nil {
		return fmt.Errorf("parsing %s %q on %s: %w", kind, atomStr, c.pkg.Key(), err)
	}
	for _, other := range e.matching(atom) {
		if other.pkg.Key() == c.pkg.Key() {
			continue
		}
		if err := e.solver.AddClause([]sat.Lit{
			sat.NewLit(c.v, false),
			sat.NewLit(other.v, false),
		}); err != nil {
			return fmt.Errorf("%s clause %s vs %s: %w", kind, c.pkg.Key(), other.pkg.Key(), err)
		}
	}
	return nil
}

// encodeImpliesSatisfied adds (-c.v v match1 v match2 v ...) for every
// AND-group of a dependency expression (each OR-group within the AND must
// be independently satisfiable whenever c is selected).
func (e *Encoder) encodeImpliesSatisfied(c *candidate, expr version.DepExpr) error {
	for _, group := range expr.ORGroups() {
		lits := []sat.Lit{sat.NewLit(c.v, false)}
		for _, atom := range group {
			for _, m := range e.matching(atom) {
				lits = append(lits, sat.NewLit(m.v, true))
			}
		}
		if len(lits) == 1 {
			// No candidate anywhere satisfies this OR-group: c can never be
			// selected. AddClause((-c.v)) forces it false at level 0.
			if err := e.solver.AddClause(lits); err != nil {
				return fmt.Errorf("unsatisfiable dependency group for %s: %w", c.pkg.Key(), err)
			}
			continue
		}
		if err := e.solver.AddClause(lits); err != nil {
			return fmt.Errorf("requires clause for %s: %w", c.pkg.Key(), err)
		}
	}
	return nil
}

// EncodeGoals adds one clause per requested install atom (OR over every
// matching candidate) and returns the assumption literals for requested
// removals, pins, and holds (forced false), used directly as Solve's
// assumption list so a failing constraint reports a precise unsat core.
func (e *Encoder) EncodeGoals(req Request) ([]sat.Lit, error) {
	var assumptions []sat.Lit

	for _, atomStr := range req.Install {
		atom, err := version.ParseAtom(atomStr)
		if err != nil {
			return nil, fmt.Errorf("parsing install request %q: %w", atomStr, err)
		}
		matches := e.matching(atom)
		if len(matches) == 0 {
			return nil, &NoProviderError{Atom: atomStr, Context: "requested on the command line"}
		}
		lits := make([]sat.Lit, 0, len(matches))
		for _, m := range matches {
			lits = append(lits, sat.NewLit(m.v, true))
		}
		if err := e.solver.AddClause(lits); err != nil {
			return nil, fmt.Errorf("encoding goal %q: %w", atomStr, err)
		}
	}

	for _, name := range req.Remove {
		for _, c := range e.byName[name] {
			assumptions = append(assumptions, sat.NewLit(c.v, false))
		}
	}

	// A pin restricts name's candidate set to versions satisfying the
	// constraint; surviving candidates become prefer_true.
	for name, constraint := range req.Pins.Pinned {
		for _, c := range e.byName[name] {
			v, err := version.ParseVersion(c.pkg.Version)
			if err != nil {
				continue
			}
			ok, err := version.Satisfies(v, constraint)
			if err != nil {
				return nil, fmt.Errorf("pin constraint for %s: %w", name, err)
			}
			if !ok {
				assumptions = append(assumptions, sat.NewLit(c.v, false))
			} else {
				e.solver.SetPreference(c.v, true)
			}
		}
	}

	// A hold freezes an installed package at exactly its installed
	// (version, release): every other candidate of that name is forced
	// false.
	for _, name := range req.Pins.Holds {
		held, ok := e.installed[name]
		if !ok {
			continue
		}
		for _, c := range e.byName[name] {
			if c.pkg.FullVersion() != held {
				assumptions = append(assumptions, sat.NewLit(c.v, false))
			} else {
				e.solver.SetPreference(c.v, true)
			}
		}
	}

	return assumptions, nil
}

// ApplyBias seeds VSIDS activity and initial phase:
// currently-installed packages are biased
// to stay installed (fewer surprising removals), the newest candidate per
// name is preferred over older ones, and per-repo bias/decay from the repo
// configuration is folded into each candidate's starting activity.
func (e *Encoder) ApplyBias(repos map[string]model.RepoConfig) {
	names := make([]string, 0, len(e.byName))
	for n := range e.byName {
		names = append(names, n)
	}
	sort.Strings(names) // deterministic bump order

	for _, name := range names {
		cands := e.byName[name]

		newest := cands[0]
		for _, c := range cands[1:] {
			vc, errc := version.ParseVersion(c.pkg.Version)
			vn, errn := version.ParseVersion(newest.pkg.Version)
			if errc == nil && errn == nil && version.Compare(vc, vn) > 0 {
				newest = c
			}
		}
		e.solver.SetPreference(newest.v, true)
		e.solver.Bump(newest.v, 1.0)

		for _, c := range cands {
			if e.installed[c.pkg.Name] == c.pkg.FullVersion() {
				e.solver.SetPreference(c.v, true)
				e.solver.Bump(c.v, 2.0)
			}
			if repo, ok := repos[c.pkg.RepoName]; ok && repo.Bias != 0 {
				bias := repo.Bias
				if repo.Decay > 0 && repo.Decay < 1 {
					bias *= repo.Decay
				}
				e.solver.Bump(c.v, bias)
			}
		}
	}
}

// Solver exposes the underlying sat.Solver for Resolve to call Solve on.
func (e *Encoder) Solver() *sat.Solver { return e.solver }

// PackageForVar resolves a sat variable back to the candidate it names,
// used to render models and unsat cores in package terms.
func (e *Encoder) PackageForVar(v int) (model.PkgMeta, bool) {
	for _, c := range e.byKey {
		if c.v == v {
			return c.pkg, true
		}
	}
	return model.PkgMeta{}, false
}
