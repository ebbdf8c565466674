package build

import (
	"fmt"
	"strings"
)

// Tuning is the CPU tuning triple compiler flags are derived from.
type Tuning struct {
	March string
	Mtune string
	Level string // -O level, without the "-O" prefix
}

// DefaultTuning targets the build host conservatively.
func DefaultTuning() Tuning {
	return Tuning{March: "x86-64", Mtune: "generic", Level: "2"}
}

// buildFlags renders CFLAGS/CXXFLAGS/LDFLAGS from the tuning triple after
// applying the recipe's Options overrides:
//
//	@none!               suppress the generated flags entirely
//	@lto!=on             append -flto to compiler and linker flags
//	@Override=arch=...   replace -march (and -mtune, unless separately set)
func buildFlags(t Tuning, options []string) map[string]string {
	lto := false
	for _, opt := range options {
		switch {
		case opt == "@none!":
			return map[string]string{"CFLAGS": "", "CXXFLAGS": "", "LDFLAGS": ""}
		case opt == "@lto!=on":
			lto = true
		case strings.HasPrefix(opt, "@Override=arch="):
			t.March = strings.TrimPrefix(opt, "@Override=arch=")
			t.Mtune = t.March
		case strings.HasPrefix(opt, "@Override=tune="):
			t.Mtune = strings.TrimPrefix(opt, "@Override=tune=")
		case strings.HasPrefix(opt, "@Override=level="):
			t.Level = strings.TrimPrefix(opt, "@Override=level=")
		}
	}

	cflags := fmt.Sprintf("-O%s -march=%s -mtune=%s", t.Level, t.March, t.Mtune)
	ldflags := ""
	if lto {
		cflags += " -flto"
		ldflags = "-flto"
	}
	return map[string]string{
		"CFLAGS":   cflags,
		"CXXFLAGS": cflags,
		"LDFLAGS":  ldflags,
	}
}
