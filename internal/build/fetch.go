package build

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lpm-project/lpm/internal/atomicio"
)

// SourceFetcher downloads recipe sources into a content-addressed cache:
// each downloaded payload lands under cacheDir keyed by sha256(url), so a
// rebuild of the same recipe never refetches. file:// sources are read
// straight from disk and are not copied into the cache.
type SourceFetcher struct {
	logger   *slog.Logger
	client   *http.Client
	cacheDir string
	// repoBase resolves bare source names: "<repoBase>/<pkg>/<name>",
	// from LPMBUILD_REPO.
	repoBase string
}

// NewSourceFetcher builds a fetcher caching under cacheDir. A nil client
// gets a 10-second-timeout default so a stalled mirror cannot hang a
// build.
func NewSourceFetcher(logger *slog.Logger, client *http.Client, cacheDir, repoBase string) *SourceFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SourceFetcher{logger: logger, client: client, cacheDir: cacheDir, repoBase: repoBase}
}

// sourceSpec is one parsed Sources entry.
type sourceSpec struct {
	url      string
	filename string // the name the source is saved under in the workdir
}

// parseSource resolves a recipe Sources entry: "alias::URL" pins the saved
// filename, a bare URL derives it from the last path segment, and a bare
// name resolves against "<repoBase>/<pkg>/<name>".
func (f *SourceFetcher) parseSource(raw, pkg string) (sourceSpec, error) {
	if alias, rest, ok := strings.Cut(raw, "::"); ok && !strings.Contains(alias, "/") {
		return sourceSpec{url: rest, filename: alias}, nil
	}
	if strings.Contains(raw, "://") {
		name := filepath.Base(raw)
		if i := strings.IndexByte(name, '?'); i >= 0 {
			name = name[:i]
		}
		if name == "" || name == "." || name == "/" {
			return sourceSpec{}, fmt.Errorf("cannot derive a filename from source URL %q", raw)
		}
		return sourceSpec{url: raw, filename: name}, nil
	}
	if f.repoBase == "" {
		return sourceSpec{}, fmt.Errorf("bare source name %q needs LPMBUILD_REPO to resolve against", raw)
	}
	return sourceSpec{
		url:      strings.TrimRight(f.repoBase, "/") + "/" + pkg + "/" + raw,
		filename: raw,
	}, nil
}

// FetchAll materializes every recipe source into destDir, downloading
// through the cache. Returns the workdir-relative filenames in recipe
// order.
func (f *SourceFetcher) FetchAll(ctx context.Context, r Recipe, destDir string) ([]string, error) {
	names := make([]string, 0, len(r.Sources))
	for _, raw := range r.Sources {
		spec, err := f.parseSource(raw, r.Name)
		if err != nil {
			return nil, err
		}
		data, err := f.fetch(ctx, spec)
		if err != nil {
			return nil, fmt.Errorf("fetching source %s: %w", spec.url, err)
		}
		dest := filepath.Join(destDir, spec.filename)
		if err := atomicio.WriteFile(dest, data, 0o644); err != nil {
			return nil, fmt.Errorf("writing source %s: %w", dest, err)
		}
		names = append(names, spec.filename)
	}
	return names, nil
}

func (f *SourceFetcher) fetch(ctx context.Context, spec sourceSpec) ([]byte, error) {
	cachePath := filepath.Join(f.cacheDir, urlCacheKey(spec.url))
	if data, err := os.ReadFile(cachePath); err == nil { // #nosec G304 - path derived from the trusted cache dir
		f.logger.Debug("source cache hit", "url", spec.url)
		return data, nil
	}

	if path, ok := strings.CutPrefix(spec.url, "file://"); ok {
		return os.ReadFile(path) // #nosec G304 - local recipe source, the same trust level as the recipe itself
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	// A redirect target may name the real file via Content-Disposition;
	// log it so `lpm buildpkg -v` shows what was actually served.
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil && params["filename"] != "" {
			f.logger.Debug("source served with content-disposition filename",
				"url", spec.url, "filename", params["filename"])
		}
	}

	if err := os.MkdirAll(f.cacheDir, 0o755); err != nil {
		return nil, err
	}
	if err := atomicio.WriteFile(cachePath, data, 0o644); err != nil {
		f.logger.Warn("caching source failed", "url", spec.url, "error", err)
	}
	return data, nil
}

// urlCacheKey is the cache entry name for a source URL: sha256 over the URL
// text, so two recipes sharing a tarball share one cache entry.
func urlCacheKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}
