// Package model holds the data types shared across the registry, resolver,
// store, container and transaction packages. Keeping them here instead of
// in any one owning package avoids the import cycles that would otherwise
// appear between registry <-> resolve <-> store.
package model

import "time"

// PkgMeta is a single candidate package as advertised by a repository:
// enough to resolve against (name, version, provides/requires/conflicts/
// obsoletes) without having fetched the container itself. The JSON shape is
// the wire format shared by meta.json and index.json entries.
type PkgMeta struct {
	Name          string   `json:"name" yaml:"name"`
	Version       string   `json:"version" yaml:"version"`
	Release       string   `json:"release,omitempty" yaml:"release,omitempty"`
	Arch          string   `json:"arch" yaml:"arch"`
	Summary       string   `json:"summary,omitempty" yaml:"summary,omitempty"`
	URL           string   `json:"url,omitempty" yaml:"url,omitempty"`
	License       string   `json:"license,omitempty" yaml:"license,omitempty"`
	Requires      []string `json:"requires,omitempty" yaml:"requires,omitempty"`
	BuildRequires []string `json:"build_requires,omitempty" yaml:"build_requires,omitempty"`
	Conflicts     []string `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
	Obsoletes     []string `json:"obsoletes,omitempty" yaml:"obsoletes,omitempty"`
	Provides      []string `json:"provides,omitempty" yaml:"provides,omitempty"`
	Recommends    []string `json:"recommends,omitempty" yaml:"recommends,omitempty"`
	Suggests      []string `json:"suggests,omitempty" yaml:"suggests,omitempty"`
	SizeBytes     int64    `json:"size,omitempty" yaml:"size,omitempty"`
	SHA256        string   `json:"sha256,omitempty" yaml:"sha256,omitempty"`
	// Blob is the URL (absolute or repo-relative) the container artifact is
	// fetched from.
	Blob     string `json:"blob,omitempty" yaml:"blob,omitempty"`
	RepoName string `json:"repo,omitempty" yaml:"repo,omitempty"`
	Priority int    `json:"prio,omitempty" yaml:"prio,omitempty"`
	// Deltas advertises patch artifacts reconstructing this version from an
	// older cached base.
	Deltas []DeltaInfo `json:"deltas,omitempty" yaml:"deltas,omitempty"`
}

// Key uniquely names a candidate within the resolver's universe:
// "name==version". Release is not part of the solver identity; two releases
// of the same version are the same resolution choice.
func (p PkgMeta) Key() string {
	return p.Name + "==" + p.Version
}

// FullVersion renders the package's complete "version-release" identity,
// or just the version when no release counter is set.
func (p PkgMeta) FullVersion() string {
	return FullVersion(p.Version, p.Release)
}

// FullVersion joins a version and an optional release counter into the
// "version-release" form used by install scripts, hooks and display.
func FullVersion(version, release string) string {
	if release == "" {
		return version
	}
	return version + "-" + release
}

// DeltaInfo is one index-advertised delta artifact: what base it applies to
// and how to verify both sides.
type DeltaInfo struct {
	Algorithm   string `json:"algorithm"`
	BaseVersion string `json:"base_version"`
	BaseSHA256  string `json:"base_sha256"`
	URL         string `json:"url"`
	SHA256      string `json:"sha256"`
	SizeBytes   int64  `json:"size"`
	MinTool     string `json:"min_tool,omitempty"`
}

// ManifestEntry is one file shipped by an installed package, as recorded in
// the container's manifest.json and mirrored into the state store for
// `lpm files` and removal bookkeeping.
type ManifestEntry struct {
	Path      string `json:"path"`
	Mode      uint32 `json:"mode,omitempty"`
	SHA256    string `json:"sha256"`
	SizeBytes int64  `json:"size"`
	IsConfig  bool   `json:"is_config,omitempty"`
	Symlink   string `json:"link,omitempty"`
	// Keep tells the transaction engine to leave the embedded install
	// script (path "/.lpm-install.sh") on disk after running it, instead
	// of removing it once the install completes.
	Keep bool `json:"keep,omitempty"`
}

// InstalledRecord is the state store's row for a currently installed
// package: what it is, when it landed, and what it put on disk.
type InstalledRecord struct {
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Release     string          `json:"release,omitempty"`
	Arch        string          `json:"arch,omitempty"`
	RepoName    string          `json:"repo"`
	InstalledAt time.Time       `json:"installed_at"`
	Explicit    bool            `json:"explicit"` // requested directly vs. pulled in as a dependency
	Files       []ManifestEntry `json:"files"`
	Requires    []string        `json:"requires,omitempty"`
	Provides    []string        `json:"provides,omitempty"`
}

// HistoryEntry is one row in the append-only transaction history log. Each
// committed transaction appends one row; a transaction that fails and is
// rolled back appends none.
type HistoryEntry struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Kind       string    `json:"kind"` // "install" | "remove" | "upgrade"
	Packages   []string  `json:"packages"`
	SnapshotID string    `json:"snapshot_id"`
}

// SnapshotRecord points at the pre-transaction state snapshot a rollback
// restores from.
type SnapshotRecord struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Tag       string    `json:"tag,omitempty"`
	Path      string    `json:"path"`
}

// RepoConfig describes one configured repository. Lower Priority wins when
// two repos carry the same candidate; Bias and Decay tune the solver's
// per-variable activity for that repo's candidates.
type RepoConfig struct {
	Name     string  `json:"name" yaml:"name"`
	URL      string  `json:"url" yaml:"url"`
	Priority int     `json:"priority" yaml:"priority"`
	Bias     float64 `json:"bias,omitempty" yaml:"bias,omitempty"`
	Decay    float64 `json:"decay,omitempty" yaml:"decay,omitempty"`
	Enabled  bool    `json:"enabled" yaml:"enabled"`
	PubKey   string  `json:"pubkey,omitempty" yaml:"pubkey,omitempty"`
}

// Pins records user-requested version/hold constraints that the resolver
// must honor.
type Pins struct {
	Holds  []string          `json:"holds,omitempty"`  // package names frozen at their installed version
	Pinned map[string]string `json:"pinned,omitempty"` // name -> version constraint restricting candidates
}
