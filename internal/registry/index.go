package registry

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/lpm-project/lpm/internal/model"
)

// repoIndex is the on-the-wire shape of a repository's index file. Some
// repos ship a hand-authored YAML document instead of the wire-format
// index.json; gopkg.in/yaml.v3 parses those without a second schema.
type repoIndex struct {
	Packages []model.PkgMeta `json:"packages" yaml:"packages"`
}

// ParseYAMLIndex decodes a repo index document, stamping RepoName onto
// every entry (a repo's own index doesn't need to name itself). Used for
// local/offline repos that prefer a hand-editable document over index.json.
func ParseYAMLIndex(data []byte, repoName string) ([]model.PkgMeta, error) {
	var idx repoIndex
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parsing repo index for %s: %w", repoName, err)
	}
	for i := range idx.Packages {
		idx.Packages[i].RepoName = repoName
	}
	return idx.Packages, nil
}

// ParseJSONIndex decodes the wire-format repo index, stamping
// RepoName onto every entry. This is what HTTPFetcher's http(s):// and
// file:// fetches are parsed with; ParseYAMLIndex above exists alongside it
// for repos that ship a hand-authored document instead.
func ParseJSONIndex(data []byte, repoName string) ([]model.PkgMeta, error) {
	var idx repoIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parsing repo index for %s: %w", repoName, err)
	}
	for i := range idx.Packages {
		idx.Packages[i].RepoName = repoName
	}
	return idx.Packages, nil
}
