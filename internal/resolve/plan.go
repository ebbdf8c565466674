package resolve

import (
	"sort"

	"github.com/lpm-project/lpm/internal/model"
	"github.com/lpm-project/lpm/internal/version"
)

// Plan is the resolver's output: the package set to install and the names
// to remove to reach it, ordered for the transaction engine to apply.
type Plan struct {
	Install []model.PkgMeta // newly selected packages, dependency-depth order
	Remove  []string        // names no longer selected that are currently installed
}

// buildPlan decodes a satisfying model into a Plan, ordering installs by
// dependency depth (a package's requires are installed before it) so the
// transaction engine never extracts a package before something it needs.
func buildPlan(e *Encoder, model_ []bool, installedNames map[string]string) Plan {
	var selected []candidateRef
	for key, c := range e.byKey {
		if model_[c.v] {
			selected = append(selected, candidateRef{key: key, c: c})
		}
	}

	depth := make(map[string]int, len(selected))
	var depthOf func(key string, seen map[string]bool) int
	depthOf = func(key string, seen map[string]bool) int {
		if d, ok := depth[key]; ok {
			return d
		}
		if seen[key] {
			return 0 // dependency cycle guard; the encoder allows cycles, so a package already on this walk counts as depth 0
		}
		seen[key] = true
		c, ok := e.byKey[key]
		if !ok {
			return 0
		}
		max := 0
		for _, req := range c.pkg.Requires {
			for _, other := range selected {
				if dependsOn(req, other.c) {
					if d := depthOf(other.key, seen); d+1 > max {
						max = d + 1
					}
				}
			}
		}
		depth[key] = max
		return max
	}
	for _, s := range selected {
		depthOf(s.key, map[string]bool{})
	}

	sort.SliceStable(selected, func(i, j int) bool {
		if depth[selected[i].key] != depth[selected[j].key] {
			return depth[selected[i].key] < depth[selected[j].key]
		}
		return selected[i].key < selected[j].key
	})

	plan := Plan{}
	selectedNames := make(map[string]bool, len(selected))
	for _, s := range selected {
		selectedNames[s.c.pkg.Name] = true
		// A selected candidate already installed at the same
		// (version, release) is a no-op; keeping it out of the plan avoids
		// refetching its container.
		if installedNames[s.c.pkg.Name] == s.c.pkg.FullVersion() {
			continue
		}
		plan.Install = append(plan.Install, s.c.pkg)
	}
	for name := range installedNames {
		if !selectedNames[name] {
			plan.Remove = append(plan.Remove, name)
		}
	}
	sort.Strings(plan.Remove)
	return plan
}

type candidateRef struct {
	key string
	c   *candidate
}

func dependsOn(reqExprStr string, other *candidate) bool {
	expr, err := version.ParseDepExpr(reqExprStr)
	if err != nil {
		return false
	}
	for _, atom := range expr.Atoms() {
		if atom.Name == other.pkg.Name && atom.Satisfies(other.pkg.Version) {
			return true
		}
		for _, prov := range other.pkg.Provides {
			for _, token := range version.ExpandProvide(prov) {
				if atom.Name == token {
					return true
				}
			}
		}
	}
	return false
}
