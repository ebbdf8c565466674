package build

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Pipeline runs one recipe's lifecycle phases in an isolated build root.
type Pipeline struct {
	logger  *slog.Logger
	workdir string
	jobs    int
	tuning  Tuning
	fetcher *SourceFetcher

	// Interpreter runs each phase body; defaults to ["sh", "-c"]
	// (spec design note "Shell recipes → process invocations").
	Interpreter []string
	// SandboxCmd, when non-empty, is prepended to every phase invocation
	// (e.g. ["bwrap", "--bind", workdir, workdir, ...]); empty means the
	// phase runs directly in workdir.
	SandboxCmd []string
}

// NewPipeline creates a Pipeline rooted at workdir. jobs of 0 applies the
// default clamp(2, cpu_count, 8). fetcher may be nil when the
// recipe declares no sources.
func NewPipeline(logger *slog.Logger, workdir string, jobs int, tuning Tuning, fetcher *SourceFetcher) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if jobs <= 0 {
		jobs = DefaultWorkers()
	}
	return &Pipeline{
		logger:      logger,
		workdir:     workdir,
		jobs:        jobs,
		tuning:      tuning,
		fetcher:     fetcher,
		Interpreter: []string{"sh", "-c"},
	}
}

// Result reports what one recipe build produced.
type Result struct {
	StageDir   string
	Duration   time.Duration
	PhaseCount int
	Sources    []string
}

// PhaseError reports which lifecycle phase failed and why; the driver
// discards the partially staged tree when it sees one.
type PhaseError struct {
	Phase string
	Err   error
}

func (e *PhaseError) Error() string { return fmt.Sprintf("phase %s failed: %v", e.Phase, e.Err) }

func (e *PhaseError) Unwrap() error { return e.Err }

// Run fetches r's sources and executes its phases in lifecycle order,
// staging the install tree under <workdir>/stage. Phase boundaries are
// logged; the returned Result carries the phase count and wall-clock
// duration.
func (p *Pipeline) Run(ctx context.Context, r Recipe) (*Result, error) {
	start := time.Now()
	phases := r.Phases.ordered()
	p.logger.Info("starting build", "package", r.Name, "version", r.Version, "phases", len(phases), "jobs", p.jobs)

	stageDir := filepath.Join(p.workdir, "stage")
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating stage directory: %w", err)
	}

	var sources []string
	if len(r.Sources) > 0 {
		if p.fetcher == nil {
			return nil, fmt.Errorf("recipe %s declares sources but the pipeline has no fetcher", r.Name)
		}
		fetched, err := p.fetcher.FetchAll(ctx, r, p.workdir)
		if err != nil {
			return nil, err
		}
		sources = fetched
	}

	env := p.phaseEnv(r, stageDir)
	for _, phase := range phases {
		phaseStart := time.Now()
		p.logger.Info("phase start", "package", r.Name, "phase", phase.name)
		if err := p.runPhase(ctx, phase, env); err != nil {
			os.RemoveAll(stageDir) // discard the partially staged tree
			return nil, &PhaseError{Phase: phase.name, Err: err}
		}
		p.logger.Info("phase done", "package", r.Name, "phase", phase.name, "duration", time.Since(phaseStart))
	}

	return &Result{
		StageDir:   stageDir,
		Duration:   time.Since(start),
		PhaseCount: len(phases),
		Sources:    sources,
	}, nil
}

// phaseEnv assembles the audited environment every phase runs with: the
// staging destination, the tuned job count, and the CPU-derived compiler
// flags after the recipe's @-option overrides.
func (p *Pipeline) phaseEnv(r Recipe, stageDir string) []string {
	env := os.Environ()
	env = append(env,
		"DESTDIR="+stageDir,
		"JOBS="+strconv.Itoa(p.jobs),
		"LPM_PKG="+r.Name,
		"LPM_VERSION="+r.Version,
	)
	for k, v := range buildFlags(p.tuning, r.Options) {
		env = append(env, k+"="+v)
	}
	for k, v := range r.Env {
		env = append(env, k+"="+v)
	}
	return env
}

func (p *Pipeline) runPhase(ctx context.Context, phase namedPhase, env []string) error {
	body := strings.ReplaceAll(phase.body, "$JOBS", strconv.Itoa(p.jobs))
	argv := append(append([]string{}, p.SandboxCmd...), p.Interpreter...)
	argv = append(argv, body)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = p.workdir
	cmd.Env = env
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w\n%s", err, out)
	}
	return nil
}

// DefaultWorkers is the build worker-pool size: clamp(2, cpu_count, 8).
func DefaultWorkers() int {
	n := cpuCount()
	if n < 2 {
		return 2
	}
	if n > 8 {
		return 8
	}
	return n
}

// SplitInstallRoot partitions stageDir's files across r.Splits plus an
// implicit "main" split for everything not claimed by a named split,
// fanning the (independent) per-split directory walks out across a bounded
// worker pool via golang.org/x/sync/errgroup.
func SplitInstallRoot(ctx context.Context, stageDir string, r Recipe) (map[string][]string, error) {
	result := make(map[string][]string, len(r.Splits)+1)
	claimed := make(map[string]bool)

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(DefaultWorkers())
	type splitResult struct {
		name  string
		files []string
	}
	results := make(chan splitResult, len(r.Splits))

	for name, split := range r.Splits {
		name, split := name, split
		g.Go(func() error {
			var matched []string
			for _, pattern := range split.Paths {
				files, err := filepath.Glob(filepath.Join(stageDir, pattern))
				if err != nil {
					return fmt.Errorf("globbing split %s pattern %q: %w", name, pattern, err)
				}
				matched = append(matched, files...)
			}
			results <- splitResult{name: name, files: matched}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(results)
	for r := range results {
		result[r.name] = r.files
		for _, f := range r.files {
			claimed[f] = true
		}
	}

	var main []string
	err := filepath.Walk(stageDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && !claimed[path] {
			main = append(main, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking stage directory: %w", err)
	}
	result["main"] = main
	return result, nil
}
