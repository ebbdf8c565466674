package cmd

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/width"

	"github.com/lpm-project/lpm/internal/atomicio"
	"github.com/lpm-project/lpm/internal/config"
	"github.com/lpm-project/lpm/internal/container"
	"github.com/lpm-project/lpm/internal/hooks"
	"github.com/lpm-project/lpm/internal/model"
	"github.com/lpm-project/lpm/internal/registry"
	"github.com/lpm-project/lpm/internal/resolve"
	"github.com/lpm-project/lpm/internal/store"
	"github.com/lpm-project/lpm/internal/txn"
)

// exitCodeFor maps an error returned from a subcommand to a process exit
// code: 0 success, 1 operation failed, 2 usage or resolution failure, 77
// privileges required.
func exitCodeFor(err error) int {
	if err == nil {
		return int(config.ExitSuccess)
	}

	var noProvider *resolve.NoProviderError
	var unsat *resolve.UnsatisfiableError
	var rootRequired *config.RootPrivilegesRequiredError
	switch {
	case errors.As(err, &rootRequired):
		return int(config.ExitRootRequired)
	case errors.As(err, &noProvider), errors.As(err, &unsat):
		return int(config.ExitUsageOrResolve)
	case strings.HasPrefix(err.Error(), "unknown command"),
		strings.HasPrefix(err.Error(), "unknown flag"),
		strings.HasPrefix(err.Error(), "accepts"):
		// cobra's own argument/flag validation failures
		return int(config.ExitUsageOrResolve)
	default:
		return int(config.ExitOperationError)
	}
}

// loadRepos reads the configured repository list,
// returning an empty list if the file does not exist yet.
func loadRepos(cfg config.Config) ([]model.RepoConfig, error) {
	data, err := os.ReadFile(cfg.Paths().ReposJSON) // #nosec G304 - path derived from trusted state dir
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading repo list: %w", err)
	}
	var repos []model.RepoConfig
	if err := json.Unmarshal(data, &repos); err != nil {
		return nil, fmt.Errorf("parsing repo list: %w", err)
	}
	return repos, nil
}

// saveRepos persists repos atomically. Callers holding an in-memory
// universe must Invalidate it after a rewrite of the repo list.
func saveRepos(cfg config.Config, repos []model.RepoConfig) error {
	if err := cfg.EnsureStateDirs(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(repos, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding repo list: %w", err)
	}
	return atomicio.WriteFile(cfg.Paths().ReposJSON, data, 0o644)
}

// loadPins reads the hold/prefer configuration.
func loadPins(cfg config.Config) (model.Pins, error) {
	data, err := os.ReadFile(cfg.Paths().PinsJSON) // #nosec G304 - path derived from trusted state dir
	if os.IsNotExist(err) {
		return model.Pins{}, nil
	}
	if err != nil {
		return model.Pins{}, fmt.Errorf("reading pins: %w", err)
	}
	var raw struct {
		Hold   []string          `json:"hold"`
		Prefer map[string]string `json:"prefer"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return model.Pins{}, fmt.Errorf("parsing pins: %w", err)
	}
	return model.Pins{Holds: raw.Hold, Pinned: raw.Prefer}, nil
}

// openStateStore opens the production SQLite state backend, falling back to
// an in-memory store when --allow-fallback is set and sqlite cannot be
// opened (e.g. a read-only filesystem during a --dry-run test run).
func openStateStore(cfg config.Config) (store.Store, error) {
	if err := cfg.EnsureStateDirs(); err != nil {
		return nil, err
	}
	st, err := store.OpenSQLite(logger(), cfg.Paths().StateDB)
	if err != nil {
		if cfg.AllowFallback {
			logger().Warn("opening sqlite state store failed, falling back to in-memory store", "error", err)
			return store.NewMemoryStore(), nil
		}
		return nil, fmt.Errorf("opening state store: %w", err)
	}
	return st, nil
}

// refreshUniverse loads the repo list and fetches every enabled repo's
// index.json into an in-memory Universe.
func refreshUniverse(ctx context.Context, cfg config.Config) (*registry.Universe, []model.RepoConfig, error) {
	repos, err := loadRepos(cfg)
	if err != nil {
		return nil, nil, err
	}
	u := registry.NewUniverse(logger(), cfg.Arch, 5*time.Minute)
	fetcher := registry.NewHTTPFetcher(&http.Client{Timeout: 10 * time.Second})
	if err := u.Refresh(ctx, repos, fetcher, registry.ParseJSONIndex); err != nil {
		return nil, nil, err
	}
	return u, repos, nil
}

// installedNames returns the set of currently installed package names.
func installedNames(ctx context.Context, st store.Store) (map[string]bool, error) {
	recs, err := st.Installed(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(recs))
	for _, r := range recs {
		out[r.Name] = true
	}
	return out, nil
}

// installedVersions maps every currently installed package name to its
// full "version[-release]" identity, the shape the resolver's hold/bias
// handling consumes.
func installedVersions(recs []model.InstalledRecord) map[string]string {
	out := make(map[string]string, len(recs))
	for _, r := range recs {
		out[r.Name] = model.FullVersion(r.Version, r.Release)
	}
	return out
}

// explicitSet returns the set of explicitly-installed package names.
func explicitSet(ctx context.Context, st store.Store) (map[string]bool, error) {
	recs, err := st.Installed(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(recs))
	for _, r := range recs {
		if r.Explicit {
			out[r.Name] = true
		}
	}
	return out, nil
}

// resolvePlan runs the full encode-and-solve pipeline for a CLI request,
// translating solver/encoder errors as-is so exitCodeFor can classify them.
func resolvePlan(ctx context.Context, cfg config.Config, u *registry.Universe, repos []model.RepoConfig, st store.Store, install, remove []string) (resolve.Plan, error) {
	recs, err := st.Installed(ctx)
	if err != nil {
		return resolve.Plan{}, fmt.Errorf("reading installed packages: %w", err)
	}
	installed := installedVersions(recs)
	pins, err := loadPins(cfg)
	if err != nil {
		return resolve.Plan{}, err
	}

	var universe []model.PkgMeta
	for _, name := range u.Names() {
		universe = append(universe, u.CandidatesByName(name)...)
	}
	// An installed package a repo no longer advertises still needs a
	// candidate, or the solver would silently plan its removal.
	known := make(map[string]bool, len(universe))
	for _, p := range universe {
		known[p.Key()] = true
	}
	for _, rec := range recs {
		syn := model.PkgMeta{
			Name:     rec.Name,
			Version:  rec.Version,
			Release:  rec.Release,
			Arch:     rec.Arch,
			RepoName: rec.RepoName,
			Requires: rec.Requires,
			Provides: rec.Provides,
		}
		if !known[syn.Key()] {
			universe = append(universe, syn)
		}
	}

	repoByName := make(map[string]model.RepoConfig, len(repos))
	for _, r := range repos {
		repoByName[r.Name] = r
	}
	req := resolve.Request{Install: install, Remove: remove, Pins: pins, Repos: repoByName}
	return resolve.Resolve(logger(), universe, installed, req)
}

// httpSource is the txn.Source used by install/upgrade: it fetches a
// package's container over the repo's fetcher, caching the bytes on disk
// under cfg.Paths().CacheDir keyed by sha256(name==version) so a retried
// transaction and repeated `lpm install` of the same package don't refetch.
// When the index advertises a delta against a cached base whose hash
// matches, the patch is fetched and applied instead of the full
// container.
type httpSource struct {
	cfg    config.Config
	client *http.Client
}

func newHTTPSource(cfg config.Config) *httpSource {
	return &httpSource{cfg: cfg, client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *httpSource) Open(ctx context.Context, pkg model.PkgMeta) (io.ReadCloser, []byte, error) {
	cachePath := filepath.Join(s.cfg.Paths().CacheDir, cacheKey(pkg)+".zst")
	data, err := os.ReadFile(cachePath) // #nosec G304 - path derived from trusted cache dir
	if err != nil {
		data, err = s.fetchViaDelta(ctx, pkg)
		if err != nil {
			data, err = s.fetch(ctx, pkg.Blob)
			if err != nil {
				return nil, nil, fmt.Errorf("fetching container for %s: %w", pkg.Key(), err)
			}
		}
		if werr := atomicio.WriteFile(cachePath, data, 0o644); werr != nil {
			logger().Warn("caching container failed", "package", pkg.Key(), "error", werr)
		}
	}

	got := container.SHA256Hex(data)
	if pkg.SHA256 != "" && got != pkg.SHA256 {
		return nil, nil, &container.HashMismatchError{Path: pkg.Blob, Expected: pkg.SHA256, Got: got}
	}

	var sig []byte
	if sigData, err := s.fetch(ctx, pkg.Blob+".sig"); err == nil {
		sig = sigData
	}

	return io.NopCloser(bytes.NewReader(data)), sig, nil
}

// fetchViaDelta tries to rebuild pkg's container from an advertised delta
// plus a cached base of a prior version; any miss (no deltas, no cached
// base, hash drift) falls back to the full fetch.
func (s *httpSource) fetchViaDelta(ctx context.Context, pkg model.PkgMeta) ([]byte, error) {
	if len(pkg.Deltas) == 0 {
		return nil, errors.New("no deltas advertised")
	}
	for _, d := range pkg.Deltas {
		base := pkg
		base.Version = d.BaseVersion
		basePath := filepath.Join(s.cfg.Paths().CacheDir, cacheKey(base)+".zst")
		baseData, err := os.ReadFile(basePath) // #nosec G304 - path derived from trusted cache dir
		if err != nil || container.SHA256Hex(baseData) != d.BaseSHA256 {
			continue
		}
		patch, err := s.fetch(ctx, d.URL)
		if err != nil {
			continue
		}
		if d.SHA256 != "" && container.SHA256Hex(patch) != d.SHA256 {
			continue
		}
		rebuilt, err := container.ApplyDelta(baseData, patch)
		if err != nil {
			continue
		}
		logger().Info("reconstructed container from delta", "package", pkg.Key(), "base", d.BaseVersion,
			"delta_size", len(patch))
		return rebuilt, nil
	}
	return nil, errors.New("no applicable delta")
}

func (s *httpSource) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s fetching %s", resp.Status, url)
	}
	return io.ReadAll(resp.Body)
}

func cacheKey(pkg model.PkgMeta) string {
	sum := sha256.Sum256([]byte(pkg.Key()))
	return hex.EncodeToString(sum[:])
}

// fileSource is the txn.Source used by `lpm installpkg`: a single
// already-on-disk container file, ignoring pkg entirely.
type fileSource struct {
	path string
	sig  []byte
}

func (s *fileSource) Open(ctx context.Context, pkg model.PkgMeta) (io.ReadCloser, []byte, error) {
	f, err := os.Open(s.path) // #nosec G304 - user-supplied CLI argument, the whole point of installpkg
	if err != nil {
		return nil, nil, err
	}
	return f, s.sig, nil
}

// newTxnEngine wires together a transaction Engine from the shared CLI
// context: config, state store, package source, loaded hooks, and the
// conflict policy implied by --force.
func newTxnEngine(cfg config.Config, st store.Store, src txn.Source) (*txn.Engine, error) {
	hookList, err := hooks.ParseDir(filepath.Join(cfg.StateDir, "hooks.d"))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading hooks: %w", err)
	}
	policy := conflictPolicy(cfg)
	return txn.New(cfg, st, src, hookList, repoVerifyKey(cfg), policy, logger()), nil
}

// conflictPolicy picks the merge conflict policy: --force always
// overwrites; an interactive stdin gets the [R]/[RA]/[S]/[A] prompt; a
// non-TTY falls back to the conservative abort default.
func conflictPolicy(cfg config.Config) txn.ConflictPolicy {
	if cfg.Force {
		return txn.ForcePolicy{}
	}
	if isatty.IsTerminal(os.Stdin.Fd()) {
		return &txn.PromptPolicy{In: os.Stdin, Out: os.Stderr, Default: txn.DecisionAbort}
	}
	return txn.AbortPolicy{}
}

// repoVerifyKey loads the trusted signing key from
// <StateDir>/trusted.pub if present; absent a key, signed containers are
// rejected unless --no-verify is passed.
func repoVerifyKey(cfg config.Config) ed25519.PublicKey {
	raw, err := os.ReadFile(filepath.Join(cfg.StateDir, "trusted.pub")) // #nosec G304 - trusted state dir
	if err != nil {
		return nil
	}
	if decoded, derr := hex.DecodeString(strings.TrimSpace(string(raw))); derr == nil && len(decoded) == ed25519.PublicKeySize {
		return ed25519.PublicKey(decoded)
	}
	if len(raw) == ed25519.PublicKeySize {
		return ed25519.PublicKey(raw)
	}
	return nil
}

// atomsFromArgs treats each CLI argument as a bare package name (no version
// clause), the common case for `lpm install name [name...]`.
func atomsFromArgs(args []string) []string {
	return append([]string(nil), args...)
}

// displayWidth returns s's terminal column width, counting East-Asian-wide
// and fullwidth runes as two columns, so padColumn aligns table output for
// package names that mix ASCII and CJK text.
func displayWidth(s string) int {
	w := 0
	for _, r := range s {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			w += 2
		default:
			w++
		}
	}
	return w
}

// padColumn right-pads s with spaces to at least n display columns, the
// rune-width-aware analogue of fmt's "%-*s" for mixed-width text.
func padColumn(s string, n int) string {
	if pad := n - displayWidth(s); pad > 0 {
		return s + fmt.Sprintf("%*s", pad, "")
	}
	return s
}
