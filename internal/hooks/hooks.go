// Package hooks implements the declarative hook engine:
// each *.hcl file declares one or more named hooks, every hook carrying one
// or more [Trigger] blocks (a Type, the Operations it fires on, and glob
// Targets matched against either a package name or an installed/removed
// path) and a single [Action] block (When the action's Exec command runs,
// relative to the surrounding transaction, plus NeedsTargets, Depends and
// AbortOnFail). Matching, ordering and dispatch live in transaction.go and
// dispatch.go; this file is parsing and validation only.
package hooks

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// Trigger fires a hook's Action when a transaction event's Operation
// matches and Target glob-matches either the event's package name (Type
// "Package") or one of its touched paths (Type "Path").
type Trigger struct {
	Type       string   `hcl:"type"`
	Operations []string `hcl:"operation"`
	Targets    []string `hcl:"target"`
}

// Action is what a triggered hook runs, and how.
type Action struct {
	When         string   `hcl:"when"`
	Exec         []string `hcl:"exec"`
	NeedsTargets bool     `hcl:"needs_targets,optional"`
	Depends      []string `hcl:"depends,optional"`
	AbortOnFail  bool     `hcl:"abort_on_fail,optional"`
}

// Hook is one parsed, validated hook descriptor.
type Hook struct {
	Name     string
	Path     string
	Triggers []Trigger
	Action   Action
}

type hookSpec struct {
	Name     string    `hcl:"name,label"`
	Triggers []Trigger `hcl:"trigger,block"`
	Action   Action    `hcl:"action,block"`
}

type hookFile struct {
	Hooks []hookSpec `hcl:"hook,block"`
}

var (
	validTriggerTypes = map[string]bool{"Path": true, "Package": true}
	validOperations   = map[string]bool{"Install": true, "Upgrade": true, "Remove": true}
	validWhen         = map[string]bool{"PreTransaction": true, "PostTransaction": true}
)

// HookError wraps a hook's subprocess failure, carrying enough context for
// the transaction engine to decide whether to abort.
type HookError struct {
	Hook string
	Err  error
}

func (e *HookError) Error() string { return fmt.Sprintf("hook %s failed: %v", e.Hook, e.Err) }

func (e *HookError) Unwrap() error { return e.Err }

// ParseDir loads every *.hcl file in dir into a flat, validated hook list,
// ordered by filename for deterministic iteration.
func ParseDir(dir string) ([]Hook, error) {
	parser := hclparse.NewParser()
	matches, err := filepath.Glob(filepath.Join(dir, "*.hcl"))
	if err != nil {
		return nil, fmt.Errorf("listing hook files in %s: %w", dir, err)
	}
	sort.Strings(matches)

	var all []Hook
	for _, path := range matches {
		f, diags := parser.ParseHCLFile(path)
		if diags.HasErrors() {
			return nil, fmt.Errorf("parsing %s: %s", path, diags.Error())
		}
		var hf hookFile
		if diags := gohcl.DecodeBody(f.Body, nil, &hf); diags.HasErrors() {
			return nil, fmt.Errorf("decoding %s: %s", path, diags.Error())
		}
		for _, spec := range hf.Hooks {
			all = append(all, Hook{
				Name:     spec.Name,
				Path:     path,
				Triggers: spec.Triggers,
				Action:   spec.Action,
			})
		}
	}
	if err := validate(all); err != nil {
		return nil, err
	}
	return all, nil
}

func validate(hooks []Hook) error {
	names := make(map[string]bool, len(hooks))
	for _, h := range hooks {
		if h.Name == "" {
			return fmt.Errorf("%s: hook with empty name", h.Path)
		}
		if names[h.Name] {
			return fmt.Errorf("%s: duplicate hook name %q", h.Path, h.Name)
		}
		names[h.Name] = true

		if len(h.Triggers) == 0 {
			return fmt.Errorf("%s: hook %q must define at least one [Trigger]", h.Path, h.Name)
		}
		for _, t := range h.Triggers {
			if !validTriggerTypes[t.Type] {
				return fmt.Errorf("%s: hook %q: invalid Trigger Type %q", h.Path, h.Name, t.Type)
			}
			if len(t.Operations) == 0 {
				return fmt.Errorf("%s: hook %q: Trigger missing Operation", h.Path, h.Name)
			}
			for _, op := range t.Operations {
				if !validOperations[op] {
					return fmt.Errorf("%s: hook %q: invalid Operation %q", h.Path, h.Name, op)
				}
			}
			if len(t.Targets) == 0 {
				return fmt.Errorf("%s: hook %q: Trigger missing Target", h.Path, h.Name)
			}
		}

		if !validWhen[h.Action.When] {
			return fmt.Errorf("%s: hook %q: invalid Action When %q", h.Path, h.Name, h.Action.When)
		}
		if len(h.Action.Exec) == 0 {
			return fmt.Errorf("%s: hook %q: Action Exec is empty", h.Path, h.Name)
		}
	}
	return nil
}
