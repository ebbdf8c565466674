package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// Event describes one package an install/remove/upgrade transaction is
// acting on, for matching against hook Triggers.
type Event struct {
	Name      string
	Operation string // "Install", "Upgrade", or "Remove"
	Version   string
	Release   string
	Paths     []string
}

func (e Event) packageTarget() string {
	if e.Version == "" {
		return e.Name
	}
	target := e.Name + "-" + e.Version
	if e.Release != "" {
		target += "-" + e.Release
	}
	return target
}

// Runner matches transaction events against loaded hooks and dispatches
// whichever are triggered, in dependency order, through a Dispatcher.
type Runner struct {
	hooks      []Hook // load order, kept for deterministic tie-breaking
	root       string
	baseEnv    map[string]string
	dispatcher *Dispatcher
}

// NewRunner builds a Runner over hookList. root and baseEnv seed every
// dispatched hook's environment (LPM_ROOT plus any caller-supplied
// variables); a nil logger falls back to slog.Default.
func NewRunner(hookList []Hook, root string, baseEnv map[string]string, logger *slog.Logger) *Runner {
	return &Runner{
		hooks:      append([]Hook(nil), hookList...),
		root:       root,
		baseEnv:    baseEnv,
		dispatcher: NewDispatcher(logger),
	}
}

// Dispatch runs every hook whose Action.When matches when and whose
// Triggers match ev, most-depended-on first. A hook failure is fatal only
// when its Action.AbortOnFail is set; Dispatch then returns a *HookError
// and stops, leaving any later-ordered hooks unrun.
func (r *Runner) Dispatch(ctx context.Context, when string, ev Event) error {
	return r.DispatchBatch(ctx, when, []Event{ev})
}

// DispatchBatch matches every hook against the whole transaction's event
// sequence and runs each triggered hook exactly once per phase, its targets
// the union of every matching event's contributions in event order.
func (r *Runner) DispatchBatch(ctx context.Context, when string, events []Event) error {
	for i := range events {
		events[i].Paths = normalizePaths(events[i].Paths)
	}

	triggered := r.match(when, events)
	if len(triggered) == 0 {
		return nil
	}
	ordered, err := orderTriggered(triggered)
	if err != nil {
		return err
	}
	for _, t := range ordered {
		if err := r.dispatcher.Run(ctx, t.hook, t.targets, r.envFor(t.hook)); err != nil {
			return err
		}
	}
	return nil
}

type triggeredHook struct {
	hook    Hook
	targets []string
}

func (r *Runner) match(when string, events []Event) []triggeredHook {
	var out []triggeredHook
	for _, h := range r.hooks {
		if h.Action.When != when {
			continue
		}
		var targets []string
		for _, ev := range events {
			for _, t := range h.Triggers {
				targets = append(targets, matchTrigger(t, ev)...)
			}
		}
		targets = dedupe(targets)
		if len(targets) > 0 {
			out = append(out, triggeredHook{hook: h, targets: targets})
		}
	}
	return out
}

func matchTrigger(t Trigger, ev Event) []string {
	matchesOp := false
	for _, op := range t.Operations {
		if op == ev.Operation {
			matchesOp = true
			break
		}
	}
	if !matchesOp {
		return nil
	}

	var matches []string
	switch t.Type {
	case "Package":
		for _, pattern := range t.Targets {
			if globMatch(pattern, ev.Name) {
				matches = append(matches, ev.packageTarget())
				break
			}
		}
	case "Path":
		for _, p := range ev.Paths {
			for _, pattern := range t.Targets {
				if globMatch(pattern, p) || globMatch(pattern, strings.TrimPrefix(p, "/")) {
					matches = append(matches, p)
					break
				}
			}
		}
	}
	return matches
}

func globMatch(pattern, name string) bool {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return false
	}
	return g.Match(name)
}

func (r *Runner) envFor(h Hook) map[string]string {
	env := make(map[string]string, len(r.baseEnv)+4)
	for k, v := range r.baseEnv {
		env[k] = v
	}
	env["LPM_ROOT"] = r.root
	env["LPM_HOOK_NAME"] = h.Name
	env["LPM_HOOK_PATH"] = h.Path
	env["LPM_HOOK_WHEN"] = h.Action.When
	return env
}

// orderTriggered topologically sorts triggered by Action.Depends,
// restricted to the hooks actually triggered this round (a dependency on a
// hook that didn't fire is satisfied trivially, exactly as if it had
// already run), breaking ties by match order for determinism.
func orderTriggered(triggered []triggeredHook) ([]triggeredHook, error) {
	byName := make(map[string]triggeredHook, len(triggered))
	index := make(map[string]int, len(triggered))
	for i, t := range triggered {
		byName[t.hook.Name] = t
		index[t.hook.Name] = i
	}

	remaining := make(map[string]map[string]bool, len(triggered))
	for _, t := range triggered {
		want := make(map[string]bool)
		for _, dep := range t.hook.Action.Depends {
			if _, ok := byName[dep]; ok {
				want[dep] = true
			}
		}
		remaining[t.hook.Name] = want
	}

	var ready []string
	for name, want := range remaining {
		if len(want) == 0 {
			ready = append(ready, name)
		}
	}
	sortByIndex(ready, index)

	done := make(map[string]bool, len(triggered))
	var ordered []triggeredHook
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byName[name])
		done[name] = true

		var newlyReady []string
		for other, want := range remaining {
			if done[other] || !want[name] {
				continue
			}
			delete(want, name)
			if len(want) == 0 {
				newlyReady = append(newlyReady, other)
			}
		}
		sortByIndex(newlyReady, index)
		ready = append(ready, newlyReady...)
		sortByIndex(ready, index)
	}

	if len(ordered) != len(triggered) {
		var missing []string
		for name := range remaining {
			if !done[name] {
				missing = append(missing, name)
			}
		}
		sort.Strings(missing)
		return nil, fmt.Errorf("cyclic or unresolved hook dependencies: %s", strings.Join(missing, ", "))
	}
	return ordered, nil
}

func sortByIndex(names []string, index map[string]int) {
	sort.Slice(names, func(i, j int) bool { return index[names[i]] < index[names[j]] })
}

func normalizePaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, normalizePath(p))
	}
	return dedupe(out)
}

func normalizePath(p string) string {
	if p == "" {
		return p
	}
	p = strings.ReplaceAll(p, `\`, "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return p
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if !seen[it] {
			seen[it] = true
			out = append(out, it)
		}
	}
	return out
}
