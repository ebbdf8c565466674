package build

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

func cpuCount() int { return runtime.NumCPU() }

// DependencyCycleError reports a build-requires cycle, naming the cycle
// path.
type DependencyCycleError struct {
	Names []string
}

func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("build dependency cycle: %s", strings.Join(e.Names, " -> "))
}

// RecipeLoader resolves a build-requires name to its recipe, or ok=false
// when the dependency is satisfied some other way (already installed, or
// fetched as a binary artifact) and needs no local build.
type RecipeLoader interface {
	Load(name string) (Recipe, bool, error)
}

// Planner computes the order local recipes must be built in so every
// recipe's build-requires are built first, failing on cycles. The installed
// lookup is resolved once per Plan call — not once per dependency scan — so
// a large dependency tree doesn't hammer the state store.
type Planner struct {
	logger    *slog.Logger
	loader    RecipeLoader
	installed map[string]bool
}

// NewPlanner builds a Planner. installed names dependencies that need no
// build at all; a nil logger falls back to slog.Default.
func NewPlanner(logger *slog.Logger, loader RecipeLoader, installed map[string]bool) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{logger: logger, loader: loader, installed: installed}
}

// Plan returns the recipes to build, dependencies first. The returned
// slice always ends with root itself.
func (p *Planner) Plan(root Recipe) ([]Recipe, error) {
	var (
		order   []Recipe
		visited = map[string]bool{}
		onStack = map[string]bool{}
		stack   []string
	)

	var visit func(r Recipe) error
	visit = func(r Recipe) error {
		if onStack[r.Name] {
			cycle := append(cycleFrom(stack, r.Name), r.Name)
			return &DependencyCycleError{Names: cycle}
		}
		if visited[r.Name] {
			return nil
		}
		onStack[r.Name] = true
		stack = append(stack, r.Name)

		deps := append([]string(nil), r.BuildRequires...)
		sort.Strings(deps)
		for _, dep := range deps {
			name := bareAtomName(dep)
			if p.installed[name] {
				continue
			}
			depRecipe, ok, err := p.loader.Load(name)
			if err != nil {
				return fmt.Errorf("loading build dependency %s of %s: %w", name, r.Name, err)
			}
			if !ok {
				p.logger.Debug("build dependency has no local recipe, assuming binary", "dependency", name)
				continue
			}
			if err := visit(depRecipe); err != nil {
				return err
			}
		}

		onStack[r.Name] = false
		stack = stack[:len(stack)-1]
		visited[r.Name] = true
		order = append(order, r)
		return nil
	}

	if err := visit(root); err != nil {
		return nil, err
	}
	return order, nil
}

func cycleFrom(stack []string, name string) []string {
	for i, n := range stack {
		if n == name {
			return append([]string(nil), stack[i:]...)
		}
	}
	return append([]string(nil), stack...)
}

func bareAtomName(dep string) string {
	for i, c := range dep {
		switch c {
		case ' ', '(', '=', '>', '<', '~':
			return dep[:i]
		}
	}
	return dep
}

// BuildAll runs each planned recipe through its own Pipeline,
// parallelising recipes whose dependencies have already finished across a
// bounded worker pool. makePipeline gives each recipe its own isolated
// workdir.
func BuildAll(ctx context.Context, logger *slog.Logger, plan []Recipe, workers int, makePipeline func(Recipe) (*Pipeline, error)) (map[string]*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = DefaultWorkers()
	}

	indexOf := make(map[string]int, len(plan))
	for i, r := range plan {
		indexOf[r.Name] = i
	}
	// done[i] closes when plan[i] finishes, gating its dependents.
	done := make([]chan struct{}, len(plan))
	for i := range done {
		done[i] = make(chan struct{})
	}

	var (
		mu      sync.Mutex
		results = make(map[string]*Result, len(plan))
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, r := range plan {
		i, r := i, r
		g.Go(func() error {
			defer close(done[i])
			for _, dep := range r.BuildRequires {
				j, ok := indexOf[bareAtomName(dep)]
				if !ok || j >= i {
					continue
				}
				select {
				case <-done[j]:
				case <-ctx.Done():
					return ctx.Err()
				}
			}

			pipeline, err := makePipeline(r)
			if err != nil {
				return fmt.Errorf("preparing pipeline for %s: %w", r.Name, err)
			}
			res, err := pipeline.Run(ctx, r)
			if err != nil {
				return fmt.Errorf("building %s: %w", r.Name, err)
			}
			mu.Lock()
			results[r.Name] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
