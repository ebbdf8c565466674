package build

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// installScriptName is the path within a package the generated lifecycle
// script is shipped at; the transaction engine runs and then removes it.
const installScriptName = ".lpm-install.sh"

// GenerateInstallScript inspects a staged tree and, only when something in
// it needs post-install attention, writes an embedded install script at the
// stage root and returns its stage-relative path. It also rewrites absolute symlinks inside the stage to be
// path-relative so they survive installation under any --root.
func GenerateInstallScript(stageDir string) (string, bool, error) {
	var (
		hasDesktop bool
		hasIcons   bool
		hasGIO     bool
	)
	err := filepath.Walk(stageDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return fixAbsoluteSymlink(stageDir, path)
		}
		if info.IsDir() {
			switch {
			case strings.HasSuffix(path, "/share/icons/hicolor"):
				hasIcons = true
			case strings.HasSuffix(path, "/lib/gio/modules"):
				hasGIO = true
			}
			return nil
		}
		if strings.HasSuffix(path, ".desktop") && strings.Contains(path, "/share/applications/") {
			hasDesktop = true
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("scanning staged tree: %w", err)
	}

	if !hasDesktop && !hasIcons && !hasGIO {
		return "", false, nil
	}

	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("# refresh desktop caches for files this package installed\n")
	if hasDesktop {
		b.WriteString("command -v update-desktop-database >/dev/null 2>&1 && update-desktop-database -q \"$LPM_ROOT/usr/share/applications\"\n")
	}
	if hasIcons {
		b.WriteString("command -v gtk-update-icon-cache >/dev/null 2>&1 && gtk-update-icon-cache -q \"$LPM_ROOT/usr/share/icons/hicolor\"\n")
	}
	if hasGIO {
		b.WriteString("command -v gio-querymodules >/dev/null 2>&1 && gio-querymodules \"$LPM_ROOT/usr/lib/gio/modules\"\n")
	}
	b.WriteString("exit 0\n")

	scriptPath := filepath.Join(stageDir, installScriptName)
	if err := os.WriteFile(scriptPath, []byte(b.String()), 0o755); err != nil {
		return "", false, fmt.Errorf("writing install script: %w", err)
	}
	return installScriptName, true, nil
}

// fixAbsoluteSymlink rewrites a staged symlink whose target is absolute
// (and points inside the staged prefix's eventual install location) into an
// equivalent relative link, so the link stays valid whatever root the
// package lands under.
func fixAbsoluteSymlink(stageDir, linkPath string) error {
	target, err := os.Readlink(linkPath)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(target, "/") {
		return nil
	}
	// The absolute target names an install-time path; its staged location
	// is stageDir+target. Point the link there relatively.
	rel, err := filepath.Rel(filepath.Dir(linkPath), filepath.Join(stageDir, target))
	if err != nil {
		return err
	}
	if err := os.Remove(linkPath); err != nil {
		return err
	}
	return os.Symlink(rel, linkPath)
}
