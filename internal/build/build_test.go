package build

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseRecipe(t *testing.T) {
	doc := []byte(`
name = "hello"
version = "1.0.0"
arch = "x86_64"
requires = ["libc"]
build_requires = ["make"]
sources = ["https://example.invalid/hello-1.0.0.tar.gz"]
options = ["@lto!=on"]

[phases]
prepare = "tar xf hello-1.0.0.tar.gz"
build = "make -j$JOBS"
staging = "make DESTDIR=$DESTDIR install"
`)
	r, err := ParseRecipe(doc)
	if err != nil {
		t.Fatalf("ParseRecipe: %v", err)
	}
	if r.Name != "hello" || r.Version != "1.0.0" {
		t.Fatalf("unexpected recipe: %+v", r)
	}
	phases := r.Phases.ordered()
	if len(phases) != 3 || phases[0].name != "prepare" || phases[2].name != "staging" {
		t.Fatalf("unexpected phases: %+v", phases)
	}
}

func TestParseRecipeRejectsMissingName(t *testing.T) {
	_, err := ParseRecipe([]byte(`version = "1.0.0"`))
	if err == nil {
		t.Fatalf("expected error for missing name")
	}
}

func TestPipelineRunExecutesPhasesInOrder(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "order.txt")

	r := Recipe{
		Name:    "demo",
		Version: "1.0.0",
		Phases: Phases{
			Prepare: "echo prepare >> " + marker,
			Build:   "echo build >> " + marker,
			Staging: "echo staging >> " + marker,
		},
	}
	p := NewPipeline(discardLogger(), dir, 2, DefaultTuning(), nil)
	res, err := p.Run(context.Background(), r)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.PhaseCount != 3 {
		t.Fatalf("PhaseCount = %d, want 3", res.PhaseCount)
	}

	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("reading marker: %v", err)
	}
	if string(data) != "prepare\nbuild\nstaging\n" {
		t.Fatalf("phases ran out of order: %q", data)
	}
}

func TestPipelineRunReportsFailingPhase(t *testing.T) {
	dir := t.TempDir()
	r := Recipe{
		Name:    "demo",
		Version: "1.0.0",
		Phases:  Phases{Build: "exit 7"},
	}
	p := NewPipeline(discardLogger(), dir, 1, DefaultTuning(), nil)
	_, err := p.Run(context.Background(), r)
	if err == nil {
		t.Fatalf("expected failing phase to abort the build")
	}
	var phaseErr *PhaseError
	if !errors.As(err, &phaseErr) || phaseErr.Phase != "build" {
		t.Fatalf("expected *PhaseError for phase build, got %v", err)
	}
}

func TestPipelineExportsJobsAndFlags(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "env.txt")
	r := Recipe{
		Name:    "demo",
		Version: "1.0.0",
		Options: []string{"@lto!=on"},
		Phases:  Phases{Build: `printf '%s|%s' "$JOBS" "$CFLAGS" > ` + marker},
	}
	p := NewPipeline(discardLogger(), dir, 3, DefaultTuning(), nil)
	if _, err := p.Run(context.Background(), r); err != nil {
		t.Fatalf("Run: %v", err)
	}
	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("reading marker: %v", err)
	}
	got := string(data)
	if got[:2] != "3|" {
		t.Fatalf("expected JOBS=3 in %q", got)
	}
	if !strings.Contains(got, "-flto") {
		t.Fatalf("expected @lto!=on to add -flto, got %q", got)
	}
}

func TestBuildFlagsOverrides(t *testing.T) {
	flags := buildFlags(DefaultTuning(), []string{"@Override=arch=znver4"})
	if !strings.Contains(flags["CFLAGS"], "-march=znver4") {
		t.Fatalf("expected arch override in CFLAGS, got %q", flags["CFLAGS"])
	}
	none := buildFlags(DefaultTuning(), []string{"@none!"})
	if none["CFLAGS"] != "" {
		t.Fatalf("expected @none! to empty CFLAGS, got %q", none["CFLAGS"])
	}
}

type stubLoader struct {
	recipes map[string]Recipe
}

func (s *stubLoader) Load(name string) (Recipe, bool, error) {
	r, ok := s.recipes[name]
	return r, ok, nil
}

func TestPlannerOrdersDependenciesFirst(t *testing.T) {
	loader := &stubLoader{recipes: map[string]Recipe{
		"libfoo": {Name: "libfoo", Version: "1.0.0"},
	}}
	root := Recipe{Name: "app", Version: "1.0.0", BuildRequires: []string{"libfoo"}}
	p := NewPlanner(discardLogger(), loader, nil)
	plan, err := p.Plan(root)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan) != 2 || plan[0].Name != "libfoo" || plan[1].Name != "app" {
		t.Fatalf("unexpected plan order: %+v", plan)
	}
}

func TestPlannerDetectsCycle(t *testing.T) {
	loader := &stubLoader{recipes: map[string]Recipe{
		"a": {Name: "a", BuildRequires: []string{"b"}},
		"b": {Name: "b", BuildRequires: []string{"a"}},
	}}
	p := NewPlanner(discardLogger(), loader, nil)
	_, err := p.Plan(Recipe{Name: "a", BuildRequires: []string{"b"}})
	if err == nil {
		t.Fatalf("expected cycle error")
	}
	var cycleErr *DependencyCycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected *DependencyCycleError, got %T: %v", err, err)
	}
	if len(cycleErr.Names) < 2 {
		t.Fatalf("expected the cycle path to be named, got %v", cycleErr.Names)
	}
}

func TestPlannerSkipsInstalledDependencies(t *testing.T) {
	loader := &stubLoader{recipes: map[string]Recipe{}}
	root := Recipe{Name: "app", Version: "1.0.0", BuildRequires: []string{"make"}}
	p := NewPlanner(discardLogger(), loader, map[string]bool{"make": true})
	plan, err := p.Plan(root)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan) != 1 || plan[0].Name != "app" {
		t.Fatalf("expected only app in the plan, got %+v", plan)
	}
}

func TestSplitInstallRootSeparatesDevFiles(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "usr", "bin", "hello"), "binary")
	mustWriteFile(t, filepath.Join(dir, "usr", "include", "hello.h"), "header")

	r := Recipe{
		Splits: map[string]Split{
			"dev": {Paths: []string{"usr/include/*"}},
		},
	}
	result, err := SplitInstallRoot(context.Background(), dir, r)
	if err != nil {
		t.Fatalf("SplitInstallRoot: %v", err)
	}
	if len(result["dev"]) != 1 {
		t.Fatalf("expected 1 dev file, got %v", result["dev"])
	}
	if len(result["main"]) != 1 {
		t.Fatalf("expected 1 main file, got %v", result["main"])
	}
}

func TestGenerateInstallScriptOnlyWhenNeeded(t *testing.T) {
	plain := t.TempDir()
	mustWriteFile(t, filepath.Join(plain, "usr", "bin", "hello"), "binary")
	if _, needed, err := GenerateInstallScript(plain); err != nil || needed {
		t.Fatalf("expected no script for a plain tree, needed=%v err=%v", needed, err)
	}

	desktop := t.TempDir()
	mustWriteFile(t, filepath.Join(desktop, "usr", "share", "applications", "hello.desktop"), "[Desktop Entry]")
	rel, needed, err := GenerateInstallScript(desktop)
	if err != nil || !needed {
		t.Fatalf("expected a script for a .desktop tree, needed=%v err=%v", needed, err)
	}
	if _, err := os.Stat(filepath.Join(desktop, rel)); err != nil {
		t.Fatalf("expected generated script on disk: %v", err)
	}
}

func TestFetcherParseSourceForms(t *testing.T) {
	f := NewSourceFetcher(discardLogger(), nil, t.TempDir(), "https://sources.example/repo")

	spec, err := f.parseSource("https://example.com/dl/hello-1.0.tar.gz", "hello")
	if err != nil || spec.filename != "hello-1.0.tar.gz" {
		t.Fatalf("bare URL: %+v err=%v", spec, err)
	}

	spec, err = f.parseSource("renamed.tar.gz::https://example.com/dl?id=42", "hello")
	if err != nil || spec.filename != "renamed.tar.gz" || spec.url != "https://example.com/dl?id=42" {
		t.Fatalf("alias form: %+v err=%v", spec, err)
	}

	spec, err = f.parseSource("hello.patch", "hello")
	if err != nil || spec.url != "https://sources.example/repo/hello/hello.patch" {
		t.Fatalf("bare name form: %+v err=%v", spec, err)
	}
}

func TestFetcherCopiesFileSourceIntoWorkdir(t *testing.T) {
	cache := t.TempDir()
	src := filepath.Join(t.TempDir(), "hello.txt")
	mustWriteFile(t, src, "payload")

	f := NewSourceFetcher(discardLogger(), nil, cache, "")
	r := Recipe{Name: "hello", Version: "1.0.0", Sources: []string{"file://" + src}}

	dest := t.TempDir()
	if _, err := f.FetchAll(context.Background(), r, dest); err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dest, "hello.txt"))
	if err != nil || string(data) != "payload" {
		t.Fatalf("expected fetched source in workdir, got %q err=%v", data, err)
	}
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
