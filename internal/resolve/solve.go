package resolve

import (
	"fmt"
	"log/slog"

	"github.com/lpm-project/lpm/internal/model"
	"github.com/lpm-project/lpm/internal/sat"
)

// Resolve encodes req against universe and solves it, returning an
// ordered install/remove Plan or an error (NoProviderError,
// UnsatisfiableError). installed maps each currently
// installed name to its full "version[-release]" identity.
func Resolve(logger *slog.Logger, universe []model.PkgMeta, installed map[string]string, req Request) (Plan, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("resolving dependencies", "candidates", len(universe), "install", len(req.Install), "remove", len(req.Remove))

	e := NewEncoder(universe, installed)
	if err := e.EncodeUniverseConstraints(); err != nil {
		return Plan{}, fmt.Errorf("encoding universe: %w", err)
	}
	assumptions, err := e.EncodeGoals(req)
	if err != nil {
		return Plan{}, err
	}
	e.ApplyBias(req.Repos)

	res := e.Solver().Solve(assumptions)
	if !res.SAT {
		explanation := explainCore(e, res.Core)
		logger.Warn("resolution unsatisfiable", "core_size", len(res.Core))
		return Plan{}, &UnsatisfiableError{Explanation: explanation}
	}

	plan := buildPlan(e, res.Model, installed)
	logger.Info("resolution complete", "install", len(plan.Install), "remove", len(plan.Remove))
	return plan, nil
}

// explainCore maps a sat unsat core back to package identities so the CLI
// can render something a user recognizes instead of raw variable numbers.
func explainCore(e *Encoder, core []sat.Lit) []string {
	lines := make([]string, 0, len(core))
	for _, l := range core {
		pkg, ok := e.PackageForVar(l.Var())
		if !ok {
			continue
		}
		if l.Sign() {
			lines = append(lines, fmt.Sprintf("%s must be installed", pkg.Key()))
		} else {
			lines = append(lines, fmt.Sprintf("%s must not be installed", pkg.Key()))
		}
	}
	return lines
}
