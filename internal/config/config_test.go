package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultUsesEnvStateDir(t *testing.T) {
	t.Setenv("LPM_STATE_DIR", "/tmp/custom-lpm")
	cfg := Default()
	if cfg.StateDir != "/tmp/custom-lpm" {
		t.Fatalf("expected env override, got %s", cfg.StateDir)
	}
}

func TestDefaultFallsBackWithoutEnv(t *testing.T) {
	os.Unsetenv("LPM_STATE_DIR")
	cfg := Default()
	if cfg.StateDir != defaultStateDir {
		t.Fatalf("expected default state dir, got %s", cfg.StateDir)
	}
}

func TestPathsAreDerivedFromStateDir(t *testing.T) {
	cfg := Config{StateDir: "/var/lib/lpm"}
	p := cfg.Paths()
	if p.StateDB != filepath.Join("/var/lib/lpm", "state.db") {
		t.Fatalf("unexpected StateDB: %s", p.StateDB)
	}
	if p.LockFile != filepath.Join("/var/lib/lpm", "lock") {
		t.Fatalf("unexpected LockFile: %s", p.LockFile)
	}
}

func TestEnsureStateDirsCreatesTree(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{StateDir: filepath.Join(dir, "lpm")}
	if err := cfg.EnsureStateDirs(); err != nil {
		t.Fatalf("EnsureStateDirs: %v", err)
	}
	for _, sub := range []string{"", "cache", "snapshots"} {
		if _, err := os.Stat(filepath.Join(cfg.StateDir, sub)); err != nil {
			t.Fatalf("expected %s to exist: %v", sub, err)
		}
	}
}

func TestIsDefaultRoot(t *testing.T) {
	if (Config{Root: "/"}).IsDefaultRoot() != true {
		t.Fatalf("expected / to be the default root")
	}
	if (Config{Root: "/tmp/fake-root"}).IsDefaultRoot() != false {
		t.Fatalf("expected non-system root to not be default")
	}
}

func TestCheckPrivilegesSkipsNonDefaultRoot(t *testing.T) {
	cfg := Config{Root: "/tmp/fake-root"}
	if err := cfg.CheckPrivileges(); err != nil {
		t.Fatalf("expected no error for non-default root, got %v", err)
	}
}
