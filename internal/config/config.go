// Package config assembles the process-wide Config struct threaded through
// every other package. There is deliberately no on-disk config-file dialect here;
// Config is built once at startup from CLI flags and environment variables
// and passed down explicitly to every constructor instead of living behind
// a package-level global.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const (
	defaultStateDir = "/var/lib/lpm"
	defaultRoot     = "/"
)

// Config is the explicit context every LPM component depends on instead of
// consulting globals: target root, state directory, architecture/opt-level
// build tuning, and the standard flag set shared by every subcommand.
type Config struct {
	Root     string
	StateDir string
	Arch     string
	OptLevel string
	Umask    os.FileMode
	Jobs     int

	DryRun        bool
	NoVerify      bool
	Force         bool
	AllowFallback bool
}

// Default returns a Config seeded from the environment and runtime, before
// any CLI flags are overlaid.
func Default() Config {
	cfg := Config{
		Root:     defaultRoot,
		StateDir: envOr("LPM_STATE_DIR", defaultStateDir),
		Arch:     runtime.GOARCH,
		OptLevel: "2",
		Umask:    0o022,
		Jobs:     runtime.NumCPU(),
	}
	return cfg
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// Paths is the persisted state layout under StateDir.
type Paths struct {
	StateDB       string
	CacheDir      string
	Snapshots     string
	ReposJSON     string
	PinsJSON      string
	LockFile      string
	ProtectedJSON string
}

// Paths derives the standard file layout rooted at c.StateDir.
func (c Config) Paths() Paths {
	return Paths{
		StateDB:       filepath.Join(c.StateDir, "state.db"),
		CacheDir:      filepath.Join(c.StateDir, "cache"),
		Snapshots:     filepath.Join(c.StateDir, "snapshots"),
		ReposJSON:     filepath.Join(c.StateDir, "repos.json"),
		PinsJSON:      filepath.Join(c.StateDir, "pins.json"),
		LockFile:      filepath.Join(c.StateDir, "lock"),
		ProtectedJSON: filepath.Join(c.StateDir, "protected.json"),
	}
}

// LoadProtected reads the set of package names the transaction engine
// refuses to install over or remove without --force. A missing file is not an error — it means
// no packages are protected yet, matching the original's load_protected()
// returning an empty set when its backing file hasn't been created.
func LoadProtected(path string) (map[string]bool, error) {
	data, err := os.ReadFile(path) // #nosec G304 - internal state file, not user input
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]bool{}, nil
		}
		return nil, fmt.Errorf("reading protected package list %s: %w", path, err)
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("parsing protected package list %s: %w", path, err)
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set, nil
}

// EnsureStateDirs creates StateDir, CacheDir, and Snapshots if they do not
// already exist.
func (c Config) EnsureStateDirs() error {
	p := c.Paths()
	for _, dir := range []string{c.StateDir, p.CacheDir, p.Snapshots} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating state directory %s: %w", dir, err)
		}
	}
	return nil
}

// IsDefaultRoot reports whether Root is the real filesystem root, the case
// in which the transaction engine must check for root privileges.
func (c Config) IsDefaultRoot() bool {
	return filepath.Clean(c.Root) == defaultRoot
}
