package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/lpm-project/lpm/internal/model"
)

// HTTPFetcher fetches repo indexes over plain HTTP(S); file:// URLs are
// read directly from disk to support local/offline repos without a server.
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher returns a fetcher using http.DefaultClient unless client
// is non-nil.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{Client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, repo model.RepoConfig) ([]byte, error) {
	indexURL := indexLocation(repo.URL)
	if path, ok := strings.CutPrefix(indexURL, "file://"); ok {
		data, err := os.ReadFile(path) // #nosec G304 - repo path comes from local config, not request input
		if err != nil {
			return nil, fmt.Errorf("reading local repo index %s: %w", path, err)
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, indexURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", indexURL, err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", indexURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status %s", indexURL, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", indexURL, err)
	}
	return data, nil
}

// indexLocation resolves a configured repo URL to its index document:
// "<repo.url>/index.json", unless the URL already names a .json document
// (local single-file repos).
func indexLocation(repoURL string) string {
	if strings.HasSuffix(repoURL, ".json") {
		return repoURL
	}
	return strings.TrimRight(repoURL, "/") + "/index.json"
}
