package txn

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/lpm-project/lpm/internal/atomicio"
	"github.com/lpm-project/lpm/internal/container"
	"github.com/lpm-project/lpm/internal/hooks"
	"github.com/lpm-project/lpm/internal/model"
	"github.com/lpm-project/lpm/internal/store"
)

// installScriptPath is the manifest path a build recipe may emit a
// lifecycle script under; the transaction engine runs it once per package
// immediately after merging files and before recording the install.
const installScriptPath = "/.lpm-install.sh"

// preparedInstall is one package staged for installation: fetched, signature
// and hash verified, fully extracted, and classified against the current
// installed state — everything done before the filesystem is touched.
type preparedInstall struct {
	pkg         model.PkgMeta
	extracted   *container.Extracted
	operation   string // "Install" or "Upgrade"
	prevVersion string
	prevRelease string
	prevFiles   []model.ManifestEntry // previous version's manifest, on upgrade
	metaOnly    bool                  // manifest covers only .lpm-* control files
}

func (pi preparedInstall) event() hooks.Event {
	return hooks.Event{
		Name:      pi.pkg.Name,
		Operation: pi.operation,
		Version:   pi.pkg.Version,
		Release:   pi.pkg.Release,
		Paths:     manifestPaths(pi.extracted.Manifest),
	}
}

// prepareInstall fetches and verifies a single package without mutating
// anything: signature check (unless --no-verify), container decode with
// manifest-hash validation, host/arch compatibility, and upgrade-vs-install
// classification against the store.
func (e *Engine) prepareInstall(ctx context.Context, pkg model.PkgMeta) (preparedInstall, error) {
	rc, sig, err := e.source.Open(ctx, pkg)
	if err != nil {
		return preparedInstall{}, fmt.Errorf("fetching container: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return preparedInstall{}, fmt.Errorf("reading container: %w", err)
	}

	if !e.cfg.NoVerify && len(sig) > 0 {
		if e.verifyKey == nil {
			return preparedInstall{}, &container.SignatureInvalidError{Reason: "signature present but no trusted key configured"}
		}
		if err := container.Verify(e.verifyKey, data, sig); err != nil {
			return preparedInstall{}, err
		}
	}

	extracted, err := container.Read(bytes.NewReader(data))
	if err != nil {
		return preparedInstall{}, fmt.Errorf("reading container payload: %w", err)
	}

	if arch := extracted.Meta.Arch; arch != "" && arch != "noarch" && e.cfg.Arch != "" && arch != e.cfg.Arch {
		return preparedInstall{}, &ArchMismatchError{Package: pkg.Name, Want: e.cfg.Arch, Got: arch}
	}

	pi := preparedInstall{
		pkg:       pkg,
		extracted: extracted,
		operation: "Install",
		metaOnly:  container.IsMetaPackage(extracted.Manifest),
	}
	if existing, ok, err := e.store.Get(ctx, pkg.Name); err != nil {
		return preparedInstall{}, fmt.Errorf("checking existing install of %s: %w", pkg.Name, err)
	} else if ok {
		pi.operation = "Upgrade"
		pi.prevVersion = existing.Version
		pi.prevRelease = existing.Release
		pi.prevFiles = existing.Files
	}
	return pi, nil
}

// installFiles merges a prepared package into the root and registers it.
// Order within the package: merge-into-root -> embedded install script ->
// store upsert. A meta-package skips the merge
// entirely; it exists only for its requires edges.
func (e *Engine) installFiles(ctx context.Context, tx store.Tx, pi preparedInstall, explicit bool, snap *snapshot) error {
	if !pi.metaOnly {
		owned := make(map[string]bool, len(pi.prevFiles))
		for _, prev := range pi.prevFiles {
			owned[prev.Path] = true
		}
		if err := e.mergeFiles(pi.pkg, pi.extracted, owned, snap); err != nil {
			return err
		}
		if err := e.removeStaleFiles(pi, snap); err != nil {
			return err
		}
		e.runInstallScript(ctx, pi)
	}

	manifest := append([]model.ManifestEntry{}, pi.extracted.Manifest...)
	return tx.Upsert(model.InstalledRecord{
		Name:        pi.pkg.Name,
		Version:     pi.pkg.Version,
		Release:     pi.pkg.Release,
		Arch:        pi.pkg.Arch,
		RepoName:    pi.pkg.RepoName,
		InstalledAt: time.Now(),
		Explicit:    explicit,
		Files:       manifest,
		Requires:    pi.pkg.Requires,
		Provides:    pi.pkg.Provides,
	})
}

// runInstallScript runs the package's embedded /.lpm-install.sh, if the
// merge wrote an executable file there, with LPM_ROOT/LPM_PKG/LPM_VERSION/
// LPM_RELEASE/LPM_INSTALL_ACTION (plus LPM_PREVIOUS_VERSION and
// LPM_PREVIOUS_RELEASE on upgrades) set, argv (script, action,
// new-version-release, [old-version-release]). Failure is logged, not
// fatal: a misbehaving install script must not abort an otherwise-complete
// install. The script is removed afterward unless its manifest entry sets
// Keep.
func (e *Engine) runInstallScript(ctx context.Context, pi preparedInstall) {
	entry, ok := findManifestEntry(pi.extracted.Manifest, installScriptPath)
	if !ok {
		return
	}
	target := filepath.Join(e.cfg.Root, installScriptPath)
	info, err := os.Stat(target)
	if err != nil || info.Mode()&0o111 == 0 {
		return
	}

	action := "install"
	if pi.operation == "Upgrade" {
		action = "upgrade"
	}
	argv := []string{target, action, pi.pkg.FullVersion()}
	if pi.prevVersion != "" {
		argv = append(argv, model.FullVersion(pi.prevVersion, pi.prevRelease))
	}

	env := append(os.Environ(),
		"LPM_ROOT="+e.cfg.Root,
		"LPM_PKG="+pi.pkg.Name,
		"LPM_VERSION="+pi.pkg.Version,
		"LPM_RELEASE="+pi.pkg.Release,
		"LPM_INSTALL_ACTION="+action,
	)
	if pi.prevVersion != "" {
		env = append(env,
			"LPM_PREVIOUS_VERSION="+pi.prevVersion,
			"LPM_PREVIOUS_RELEASE="+pi.prevRelease,
		)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = e.cfg.Root
	cmd.Env = env
	if out, err := cmd.CombinedOutput(); err != nil {
		e.logger.Error("embedded install script failed", "package", pi.pkg.Name, "error", err, "output", string(out))
	}

	if !entry.Keep {
		_ = os.Remove(target)
	}
}

func findManifestEntry(manifest []model.ManifestEntry, path string) (model.ManifestEntry, bool) {
	for _, e := range manifest {
		if e.Path == path {
			return e, true
		}
	}
	return model.ManifestEntry{}, false
}

// mergeFiles writes every regular file and symlink in extracted under
// cfg.Root, consulting the conflict policy for any path that already
// exists with different content, and tracking every touched path in snap
// for crash-safe rollback. Paths in owned belong to this package's previous
// version and are replaced without a conflict check. Manifest order is
// already path-sorted, so parent directories land before their children.
func (e *Engine) mergeFiles(pkg model.PkgMeta, extracted *container.Extracted, owned map[string]bool, snap *snapshot) error {
	for _, entry := range extracted.Manifest {
		target := filepath.Join(e.cfg.Root, entry.Path)
		if err := snap.track(target); err != nil {
			return err
		}

		if entry.Symlink != "" {
			if err := writeSymlink(target, entry.Symlink); err != nil {
				return fmt.Errorf("writing symlink %s: %w", target, err)
			}
			continue
		}

		incoming, ok := extracted.Files[entry.Path]
		if !ok {
			return fmt.Errorf("manifest references %s but payload has no content", entry.Path)
		}

		existing, err := os.ReadFile(target)
		switch {
		case os.IsNotExist(err):
			// new path, nothing to reconcile
		case err != nil:
			return fmt.Errorf("reading existing %s: %w", target, err)
		case owned[entry.Path] && !entry.IsConfig:
			// our own previous version's file; config files still go
			// through the policy so local edits aren't clobbered silently
		default:
			switch e.policy.Resolve(entry.Path, entry.IsConfig, existing, incoming) {
			case DecisionAbort:
				return &ConflictAbortError{Path: entry.Path, Package: pkg.Name}
			case DecisionSkip:
				continue
			case DecisionOverwrite:
				// fall through to write
			}
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("creating parent directory for %s: %w", target, err)
		}
		mode := os.FileMode(entry.Mode)
		if mode == 0 {
			mode = 0o644
		}
		if err := atomicio.WriteFile(target, incoming, mode); err != nil {
			return fmt.Errorf("writing %s: %w", target, err)
		}
	}
	return nil
}

// removeStaleFiles unlinks files the previous version shipped that the new
// manifest no longer lists, so an upgrade leaves no orphans behind.
func (e *Engine) removeStaleFiles(pi preparedInstall, snap *snapshot) error {
	if len(pi.prevFiles) == 0 {
		return nil
	}
	current := make(map[string]bool, len(pi.extracted.Manifest))
	for _, entry := range pi.extracted.Manifest {
		current[entry.Path] = true
	}
	for _, prev := range pi.prevFiles {
		if current[prev.Path] {
			continue
		}
		target := filepath.Join(e.cfg.Root, prev.Path)
		if err := snap.track(target); err != nil {
			return err
		}
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing stale %s: %w", target, err)
		}
		removeEmptyParents(e.cfg.Root, filepath.Dir(prev.Path))
	}
	return nil
}

// manifestPaths extracts every path a container's manifest touches, for
// matching against Path-type hook triggers.
func manifestPaths(manifest []model.ManifestEntry) []string {
	paths := make([]string, 0, len(manifest))
	for _, entry := range manifest {
		paths = append(paths, entry.Path)
	}
	return paths
}

func writeSymlink(path, target string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	_ = os.Remove(path)
	return os.Symlink(target, path)
}
