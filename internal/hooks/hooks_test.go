package hooks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeHookFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestParseDirParsesTriggerAndAction(t *testing.T) {
	dir := t.TempDir()
	writeHookFile(t, dir, "ldconfig.hcl", `
hook "ldconfig" {
  trigger {
    type      = "Package"
    operation = ["Install", "Upgrade"]
    target    = ["glibc", "lib*"]
  }
  action {
    when = "PostTransaction"
    exec = ["ldconfig"]
  }
}
`)
	writeHookFile(t, dir, "mandb.hcl", `
hook "mandb" {
  trigger {
    type      = "Package"
    operation = ["Install"]
    target    = ["*"]
  }
  action {
    when    = "PostTransaction"
    exec    = ["mandb", "-q"]
    depends = ["ldconfig"]
  }
}
`)

	got, err := ParseDir(dir)
	if err != nil {
		t.Fatalf("ParseDir: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 hooks, got %d", len(got))
	}
}

func TestParseDirRejectsInvalidTriggerType(t *testing.T) {
	dir := t.TempDir()
	writeHookFile(t, dir, "bad.hcl", `
hook "bad" {
  trigger {
    type      = "Bogus"
    operation = ["Install"]
    target    = ["*"]
  }
  action {
    when = "PostTransaction"
    exec = ["true"]
  }
}
`)
	if _, err := ParseDir(dir); err == nil {
		t.Fatalf("expected error for invalid Trigger Type")
	}
}

func TestParseDirRejectsDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	hook := `
hook "dup" {
  trigger {
    type      = "Package"
    operation = ["Install"]
    target    = ["*"]
  }
  action {
    when = "PostTransaction"
    exec = ["true"]
  }
}
`
	writeHookFile(t, dir, "a.hcl", hook)
	writeHookFile(t, dir, "b.hcl", hook)
	if _, err := ParseDir(dir); err == nil {
		t.Fatalf("expected error for duplicate hook name")
	}
}

func TestParseDirRejectsMissingExec(t *testing.T) {
	dir := t.TempDir()
	writeHookFile(t, dir, "bad.hcl", `
hook "bad" {
  trigger {
    type      = "Package"
    operation = ["Install"]
    target    = ["*"]
  }
  action {
    when = "PostTransaction"
    exec = []
  }
}
`)
	if _, err := ParseDir(dir); err == nil {
		t.Fatalf("expected error for empty Action Exec")
	}
}

func hookWithExec(name, when string, exec []string, needsTargets, abortOnFail bool, depends []string) Hook {
	return Hook{
		Name: name,
		Path: name + ".hcl",
		Triggers: []Trigger{
			{Type: "Package", Operations: []string{"Install"}, Targets: []string{"*"}},
		},
		Action: Action{
			When:         when,
			Exec:         exec,
			NeedsTargets: needsTargets,
			AbortOnFail:  abortOnFail,
			Depends:      depends,
		},
	}
}

func TestRunnerDispatchMatchesPackageTrigger(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "seen.txt")
	hook := hookWithExec("record", "PreTransaction",
		[]string{"sh", "-c", "printf %s \"$1\" >> " + marker, "--"}, false, false, nil)

	r := NewRunner([]Hook{hook}, dir, nil, nil)
	ev := Event{Name: "glibc", Operation: "Install", Version: "2.39"}
	if err := r.Dispatch(context.Background(), "PreTransaction", ev); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("expected triggered hook to run, stat err: %v", err)
	}
}

func TestRunnerDispatchIgnoresNonMatchingOperation(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "seen.txt")
	hook := Hook{
		Name: "remove-only",
		Path: "remove-only.hcl",
		Triggers: []Trigger{
			{Type: "Package", Operations: []string{"Remove"}, Targets: []string{"*"}},
		},
		Action: Action{When: "PreTransaction", Exec: []string{"sh", "-c", "touch " + marker}},
	}
	r := NewRunner([]Hook{hook}, dir, nil, nil)
	ev := Event{Name: "glibc", Operation: "Install"}
	if err := r.Dispatch(context.Background(), "PreTransaction", ev); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Fatalf("expected non-matching operation to skip the hook")
	}
}

func TestRunnerDispatchMatchesPathTriggerGlob(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "seen.txt")
	hook := Hook{
		Name: "ld-so-conf",
		Path: "ld-so-conf.hcl",
		Triggers: []Trigger{
			{Type: "Path", Operations: []string{"Install"}, Targets: []string{"/etc/ld.so.conf.d/*"}},
		},
		Action: Action{When: "PostTransaction", Exec: []string{"sh", "-c", "touch " + marker}},
	}
	r := NewRunner([]Hook{hook}, dir, nil, nil)
	ev := Event{Name: "glibc", Operation: "Install", Paths: []string{"/etc/ld.so.conf.d/glibc.conf"}}
	if err := r.Dispatch(context.Background(), "PostTransaction", ev); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("expected Path trigger to match and run, stat err: %v", err)
	}
}

func TestRunnerDispatchOrdersByDepends(t *testing.T) {
	dir := t.TempDir()
	order := filepath.Join(dir, "order.txt")
	first := hookWithExec("ldconfig", "PostTransaction", []string{"sh", "-c", "printf 'ldconfig\\n' >> " + order}, false, false, nil)
	second := hookWithExec("mandb", "PostTransaction", []string{"sh", "-c", "printf 'mandb\\n' >> " + order}, false, false, []string{"ldconfig"})

	r := NewRunner([]Hook{second, first}, dir, nil, nil)
	ev := Event{Name: "glibc", Operation: "Install"}
	if err := r.Dispatch(context.Background(), "PostTransaction", ev); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	data, err := os.ReadFile(order)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got := string(data); got != "ldconfig\nmandb\n" {
		t.Fatalf("expected ldconfig before mandb, got %q", got)
	}
}

func TestRunnerDispatchBatchRunsHookOncePerPhase(t *testing.T) {
	dir := t.TempDir()
	counter := filepath.Join(dir, "count.txt")
	hook := hookWithExec("once", "PostTransaction",
		[]string{"sh", "-c", "echo run >> " + counter}, false, false, nil)

	r := NewRunner([]Hook{hook}, dir, nil, nil)
	events := []Event{
		{Name: "glibc", Operation: "Install", Version: "2.39"},
		{Name: "bash", Operation: "Install", Version: "5.2"},
		{Name: "curl", Operation: "Install", Version: "8.5"},
	}
	if err := r.DispatchBatch(context.Background(), "PostTransaction", events); err != nil {
		t.Fatalf("DispatchBatch: %v", err)
	}
	data, err := os.ReadFile(counter)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "run\n" {
		t.Fatalf("expected exactly one invocation for the whole batch, got %q", data)
	}
}

func TestRunnerDispatchBatchUnionsTargets(t *testing.T) {
	dir := t.TempDir()
	seen := filepath.Join(dir, "targets.txt")
	hook := hookWithExec("targets", "PostTransaction",
		[]string{"sh", "-c", `printf '%s' "$LPM_TARGETS" > ` + seen}, true, false, nil)

	r := NewRunner([]Hook{hook}, dir, nil, nil)
	events := []Event{
		{Name: "glibc", Operation: "Install", Version: "2.39"},
		{Name: "bash", Operation: "Install", Version: "5.2"},
	}
	if err := r.DispatchBatch(context.Background(), "PostTransaction", events); err != nil {
		t.Fatalf("DispatchBatch: %v", err)
	}
	data, err := os.ReadFile(seen)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got := string(data); got != "glibc-2.39\nbash-5.2" {
		t.Fatalf("expected targets from both events in event order, got %q", got)
	}
}

func TestRunnerDispatchContinuesPastFailureWithoutAbortOnFail(t *testing.T) {
	hook := hookWithExec("flaky", "PreTransaction", []string{"sh", "-c", "exit 1"}, false, false, nil)
	r := NewRunner([]Hook{hook}, "/", nil, nil)
	ev := Event{Name: "glibc", Operation: "Install"}
	if err := r.Dispatch(context.Background(), "PreTransaction", ev); err != nil {
		t.Fatalf("expected failure without AbortOnFail to be swallowed, got %v", err)
	}
}

func TestRunnerDispatchAbortsOnFailWhenSet(t *testing.T) {
	hook := hookWithExec("fatal", "PreTransaction", []string{"sh", "-c", "exit 1"}, false, true, nil)
	r := NewRunner([]Hook{hook}, "/", nil, nil)
	ev := Event{Name: "glibc", Operation: "Install"}
	err := r.Dispatch(context.Background(), "PreTransaction", ev)
	if err == nil {
		t.Fatalf("expected AbortOnFail to surface the failure")
	}
	var hookErr *HookError
	if !errors.As(err, &hookErr) {
		t.Fatalf("expected *HookError, got %T: %v", err, err)
	}
	if hookErr.Hook != "fatal" {
		t.Fatalf("unexpected hook name: %s", hookErr.Hook)
	}
}

func TestDispatcherRunSetsTargetsEnv(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "env.txt")
	hook := hookWithExec("needs-targets", "PreTransaction",
		[]string{"sh", "-c", `printf '%s|%s' "$LPM_TARGET_COUNT" "$LPM_TARGETS" > ` + marker}, true, false, nil)

	d := NewDispatcher(nil)
	if err := d.Run(context.Background(), hook, []string{"pkg-a", "pkg-b"}, map[string]string{"LPM_ROOT": "/"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "2|pkg-a\npkg-b") {
		t.Fatalf("expected LPM_TARGET_COUNT/LPM_TARGETS to be set, got %q", data)
	}
}

func TestDispatcherRunFallsBackToTargetsFileOverArgMax(t *testing.T) {
	old := argMax
	argMax = 64
	defer func() { argMax = old }()

	dir := t.TempDir()
	marker := filepath.Join(dir, "file.txt")
	hook := hookWithExec("spilled", "PreTransaction",
		[]string{"sh", "-c", `cp "$LPM_TARGETS_FILE" ` + marker}, true, false, nil)

	d := NewDispatcher(nil)
	targets := []string{"package-one", "package-two", "package-three"}
	if err := d.Run(context.Background(), hook, targets, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("expected targets file to be copied by the hook, ReadFile: %v", err)
	}
	for _, target := range targets {
		if !strings.Contains(string(data), target) {
			t.Fatalf("expected spilled targets file to contain %q, got %q", target, data)
		}
	}
}

func TestDispatcherRunReportsHookError(t *testing.T) {
	hook := hookWithExec("fails", "PreTransaction", []string{"sh", "-c", "exit 1"}, false, true, nil)
	d := NewDispatcher(nil)
	err := d.Run(context.Background(), hook, nil, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	var hookErr *HookError
	if !errors.As(err, &hookErr) {
		t.Fatalf("expected *HookError, got %T: %v", err, err)
	}
	if hookErr.Hook != "fails" {
		t.Fatalf("unexpected hook name: %s", hookErr.Hook)
	}
}
