// Package build implements the package build pipeline:
// parsing a recipe's TOML metadata, fetching and caching its sources,
// running its lifecycle phases as subprocesses with CPU-tuned compiler
// flags, and splitting the staged result into one or more installable
// sub-packages.
package build

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

// Recipe is the parsed build description for one source package. TOML (not
// YAML) here: a recipe is hand-authored, short, and table-shaped, which is
// exactly go-toml/v2's sweet spot, and the pack wires go-toml for metadata
// documents of this shape.
type Recipe struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Release string `toml:"release"`
	Arch    string `toml:"arch"`
	Summary string `toml:"summary"`
	URL     string `toml:"url"`
	License string `toml:"license"`

	Requires      []string `toml:"requires"`
	BuildRequires []string `toml:"build_requires"`
	Provides      []string `toml:"provides"`
	Conflicts     []string `toml:"conflicts"`
	Obsoletes     []string `toml:"obsoletes"`
	Recommends    []string `toml:"recommends"`
	Suggests      []string `toml:"suggests"`

	// Sources lists what to fetch before the prepare phase runs: an
	// absolute URL, "alias::URL" to control the saved filename, or a bare
	// name resolved against LPMBUILD_REPO.
	Sources []string `toml:"sources"`

	// Options tunes the compiler-flag environment: "@none!" drops the
	// generated CFLAGS entirely, "@lto!=on" appends -flto,
	// "@Override=arch=<march>" replaces the tuning target.
	Options []string `toml:"options"`

	// Phases holds the four lifecycle hooks, each an opaque shell text run
	// via the configured interpreter; empty phases are skipped.
	Phases Phases `toml:"phases"`

	Splits map[string]Split  `toml:"split"`
	Env    map[string]string `toml:"env"`
}

// Phases are the recipe lifecycle hooks, run in declaration order:
// prepare, build, check, staging.
type Phases struct {
	Prepare string `toml:"prepare"`
	Build   string `toml:"build"`
	Check   string `toml:"check"`
	Staging string `toml:"staging"`
}

// ordered returns the non-empty phases in lifecycle order.
func (p Phases) ordered() []namedPhase {
	all := []namedPhase{
		{"prepare", p.Prepare},
		{"build", p.Build},
		{"check", p.Check},
		{"staging", p.Staging},
	}
	out := all[:0]
	for _, ph := range all {
		if ph.body != "" {
			out = append(out, ph)
		}
	}
	return out
}

type namedPhase struct {
	name string
	body string
}

// Split describes one sub-package carved out of the recipe's staging
// root, e.g. a "-dev" package for headers.
type Split struct {
	Paths    []string `toml:"paths"`
	Requires []string `toml:"requires"`
	Provides []string `toml:"provides"`
}

// ParseRecipe parses a recipe TOML document.
func ParseRecipe(data []byte) (Recipe, error) {
	var r Recipe
	if err := toml.Unmarshal(data, &r); err != nil {
		return Recipe{}, fmt.Errorf("parsing recipe: %w", err)
	}
	if r.Name == "" {
		return Recipe{}, fmt.Errorf("parsing recipe: missing required field \"name\"")
	}
	if r.Version == "" {
		return Recipe{}, fmt.Errorf("parsing recipe: missing required field \"version\"")
	}
	return r, nil
}
