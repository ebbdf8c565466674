// Package registry loads repository package indexes into an in-memory
// universe the resolver can query: candidates by name, providers of a
// virtual capability, and architecture filtering — fetching and parsing
// every configured repo's index concurrently.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/agext/levenshtein"

	"github.com/lpm-project/lpm/internal/model"
	"github.com/lpm-project/lpm/internal/version"
)

// Fetcher retrieves a repository's raw index bytes. Production wiring
// points this at an HTTP client or a local file:// path; tests supply an
// in-memory stub.
type Fetcher interface {
	Fetch(ctx context.Context, repo model.RepoConfig) ([]byte, error)
}

// Universe is the resolver's read-only view of every known candidate
// package across every enabled repository.
type Universe struct {
	logger *slog.Logger
	arch   string

	mu          sync.RWMutex
	byName      map[string][]model.PkgMeta
	byProvide   map[string][]model.PkgMeta
	lastRefresh time.Time
	ttl         time.Duration
}

// NewUniverse creates an empty universe. Candidates whose arch is neither
// "noarch" nor arch are dropped on Refresh; an empty arch disables the
// filter. ttl of zero disables caching: every Refresh re-fetches regardless
// of lastRefresh.
func NewUniverse(logger *slog.Logger, arch string, ttl time.Duration) *Universe {
	if logger == nil {
		logger = slog.Default()
	}
	return &Universe{
		logger:    logger,
		arch:      arch,
		byName:    make(map[string][]model.PkgMeta),
		byProvide: make(map[string][]model.PkgMeta),
		ttl:       ttl,
	}
}

// archCompatible keeps a candidate iff its arch is "noarch" or matches
// the host arch.
func (u *Universe) archCompatible(p model.PkgMeta) bool {
	if u.arch == "" || p.Arch == "" || p.Arch == "noarch" {
		return true
	}
	return p.Arch == u.arch
}

// Stale reports whether the universe needs a Refresh before it can be
// trusted: never loaded, or older than its TTL.
func (u *Universe) Stale() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.lastRefresh.IsZero() {
		return true
	}
	if u.ttl <= 0 {
		return false
	}
	return time.Since(u.lastRefresh) > u.ttl
}

// Invalidate forces the next Stale check to report true regardless of TTL.
func (u *Universe) Invalidate() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.lastRefresh = time.Time{}
}

// Refresh fetches and parses every enabled repo concurrently, replacing the
// universe's contents atomically on success. A single repo's failure is
// logged and skipped rather than aborting the whole refresh; one broken
// mirror must not take resolution down with it.
func (u *Universe) Refresh(ctx context.Context, repos []model.RepoConfig, f Fetcher, parse func([]byte, string) ([]model.PkgMeta, error)) error {
	start := time.Now()
	u.logger.Info("refreshing package universe", "repos", len(repos))

	var (
		mu      sync.Mutex
		all     []model.PkgMeta
		wg      sync.WaitGroup
		anyOK   bool
		lastErr error
	)
	for _, repo := range repos {
		if !repo.Enabled {
			continue
		}
		repo := repo
		wg.Add(1)
		go func() {
			defer wg.Done()
			raw, err := f.Fetch(ctx, repo)
			if err != nil {
				u.logger.Warn("fetching repo index failed", "repo", repo.Name, "err", err)
				mu.Lock()
				lastErr = fmt.Errorf("fetching repo %s: %w", repo.Name, err)
				mu.Unlock()
				return
			}
			pkgs, err := parse(raw, repo.Name)
			if err != nil {
				u.logger.Warn("parsing repo index failed", "repo", repo.Name, "err", err)
				mu.Lock()
				lastErr = fmt.Errorf("parsing repo %s: %w", repo.Name, err)
				mu.Unlock()
				return
			}
			mu.Lock()
			all = append(all, pkgs...)
			anyOK = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if !anyOK && len(repos) > 0 {
		return fmt.Errorf("refreshing universe: no repo could be loaded: %w", lastErr)
	}

	byName := make(map[string][]model.PkgMeta, len(all))
	byProvide := make(map[string][]model.PkgMeta, len(all))
	skipped := 0
	for _, p := range all {
		if !u.archCompatible(p) {
			skipped++
			continue
		}
		byName[p.Name] = append(byName[p.Name], p)
		// A provide token "cap==ver" is indexed under both "cap" and the
		// full versioned token.
		for _, prov := range p.Provides {
			for _, token := range version.ExpandProvide(prov) {
				byProvide[token] = append(byProvide[token], p)
			}
		}
	}
	for _, bucket := range byName {
		sort.SliceStable(bucket, func(i, j int) bool {
			vi, erri := version.ParseVersion(bucket[i].Version)
			vj, errj := version.ParseVersion(bucket[j].Version)
			if erri == nil && errj == nil {
				if c := version.Compare(vi, vj); c != 0 {
					return c > 0 // newest first
				}
			}
			return bucket[i].Priority < bucket[j].Priority // lower priority number wins
		})
	}
	if skipped > 0 {
		u.logger.Debug("dropped arch-incompatible candidates", "arch", u.arch, "skipped", skipped)
	}

	u.mu.Lock()
	u.byName = byName
	u.byProvide = byProvide
	u.lastRefresh = time.Now()
	u.mu.Unlock()

	u.logger.Info("universe refreshed", "packages", len(all), "duration", time.Since(start))
	return nil
}

// CandidatesByName returns every version of name known to the universe,
// newest first.
func (u *Universe) CandidatesByName(name string) []model.PkgMeta {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return append([]model.PkgMeta(nil), u.byName[name]...)
}

// Providers returns every package that provides the given virtual
// capability token.
func (u *Universe) Providers(token string) []model.PkgMeta {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return append([]model.PkgMeta(nil), u.byProvide[token]...)
}

// Names returns every known package name, used to build the resolver's
// at-most-one-per-name clause set.
func (u *Universe) Names() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	names := make([]string, 0, len(u.byName))
	for n := range u.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Suggest returns the known package names closest to query by Levenshtein
// edit distance, for "did you mean" hints when a name has no candidates.
func (u *Universe) Suggest(query string, max int) []string {
	names := u.Names()
	type scored struct {
		name string
		dist int
	}
	scoredNames := make([]scored, 0, len(names))
	for _, n := range names {
		scoredNames = append(scoredNames, scored{n, levenshtein.Distance(query, n, nil)})
	}
	sort.Slice(scoredNames, func(i, j int) bool {
		if scoredNames[i].dist != scoredNames[j].dist {
			return scoredNames[i].dist < scoredNames[j].dist
		}
		return scoredNames[i].name < scoredNames[j].name
	})
	out := make([]string, 0, max)
	for i := 0; i < len(scoredNames) && i < max; i++ {
		if scoredNames[i].dist > len(query)/2+2 {
			break
		}
		out = append(out, scoredNames[i].name)
	}
	return out
}
