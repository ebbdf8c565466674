package txn

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Decision is what a ConflictPolicy chooses to do about one colliding path.
type Decision int

const (
	DecisionAbort Decision = iota
	DecisionSkip
	DecisionOverwrite
)

// ConflictPolicy decides what happens when an incoming file would overwrite
// content already on disk.
// Config files (ManifestEntry.IsConfig) are the common case: the installed
// admin may have edited them, so the default policy never clobbers one
// silently.
type ConflictPolicy interface {
	Resolve(path string, isConfig bool, existing, incoming []byte) Decision
}

// AbortPolicy is the conservative default: any path whose on-disk content
// differs from the incoming content aborts the transaction.
type AbortPolicy struct{}

func (AbortPolicy) Resolve(path string, isConfig bool, existing, incoming []byte) Decision {
	if bytes.Equal(existing, incoming) {
		return DecisionOverwrite // identical content, nothing to decide
	}
	return DecisionAbort
}

// KeepExistingConfigPolicy overwrites ordinary files but skips config files
// whose on-disk content has diverged from the package's shipped version,
// the common "don't clobber /etc edits" package-manager behaviour.
type KeepExistingConfigPolicy struct{}

func (KeepExistingConfigPolicy) Resolve(path string, isConfig bool, existing, incoming []byte) Decision {
	if bytes.Equal(existing, incoming) {
		return DecisionOverwrite
	}
	if isConfig {
		return DecisionSkip
	}
	return DecisionOverwrite
}

// ForcePolicy always overwrites, the effect of the CLI's --force flag.
type ForcePolicy struct{}

func (ForcePolicy) Resolve(path string, isConfig bool, existing, incoming []byte) Decision {
	return DecisionOverwrite
}

// PromptPolicy asks the user per conflicting path: [R]eplace, [RA]
// Replace-All (sticky for the rest of the transaction), [S]kip, or
// [A]bort. When In is nil — stdin is not a TTY — every conflict resolves
// to Default without prompting.
type PromptPolicy struct {
	In      io.Reader
	Out     io.Writer
	Default Decision

	reader     *bufio.Reader
	replaceAll bool
}

func (p *PromptPolicy) Resolve(path string, isConfig bool, existing, incoming []byte) Decision {
	if bytes.Equal(existing, incoming) {
		return DecisionOverwrite
	}
	if p.replaceAll {
		return DecisionOverwrite
	}
	if p.In == nil {
		return p.Default
	}
	if p.reader == nil {
		p.reader = bufio.NewReader(p.In)
	}

	if diff, err := UnifiedDiff(path, existing, incoming); err == nil && p.Out != nil {
		fmt.Fprint(p.Out, diff)
	}
	for {
		if p.Out != nil {
			fmt.Fprintf(p.Out, "%s exists with different content. [R]eplace / [RA] Replace-All / [S]kip / [A]bort? ", path)
		}
		line, err := p.reader.ReadString('\n')
		if err != nil {
			return p.Default
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "r", "replace":
			return DecisionOverwrite
		case "ra", "replace-all":
			p.replaceAll = true
			return DecisionOverwrite
		case "s", "skip":
			return DecisionSkip
		case "a", "abort":
			return DecisionAbort
		}
	}
}

// UnifiedDiff renders a human-readable diff between a config file's
// on-disk content and the version a package wants to install; PromptPolicy
// prints it before asking how to resolve a conflict.
func UnifiedDiff(path string, existing, incoming []byte) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(existing)),
		B:        difflib.SplitLines(string(incoming)),
		FromFile: path + " (installed)",
		ToFile:   path + " (package)",
		Context:  3,
	}
	return difflib.GetUnifiedDiffString(diff)
}
