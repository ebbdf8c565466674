package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lpm-project/lpm/internal/model"
)

var repoAddCmd = &cobra.Command{
	Use:   "repoadd <name> <url> [priority]",
	Short: "Add a repository to the configured repo list",
	Args:  cobra.RangeArgs(2, 3),
	RunE:  runRepoAdd,
}

var repoDelCmd = &cobra.Command{
	Use:   "repodel <name>",
	Short: "Remove a repository from the configured repo list",
	Args:  cobra.ExactArgs(1),
	RunE:  runRepoDel,
}

var repoListCmd = &cobra.Command{
	Use:   "repolist",
	Short: "List configured repositories",
	Args:  cobra.NoArgs,
	RunE:  runRepoList,
}

var (
	repoAddBias  float64
	repoAddDecay float64
)

func init() {
	repoAddCmd.Flags().Float64Var(&repoAddBias, "bias", 0, "solver activity bias for this repo's candidates")
	repoAddCmd.Flags().Float64Var(&repoAddDecay, "decay", 0, "solver activity decay for this repo's candidates")
	rootCmd.AddCommand(repoAddCmd, repoDelCmd, repoListCmd)
}

func runRepoAdd(cmd *cobra.Command, args []string) error {
	cfg := newConfig()
	repos, err := loadRepos(cfg)
	if err != nil {
		return err
	}

	priority := 50
	if len(args) == 3 {
		p, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid priority %q: %w", args[2], err)
		}
		priority = p
	}

	name, url := args[0], args[1]
	entry := model.RepoConfig{
		Name: name, URL: url, Priority: priority,
		Bias: repoAddBias, Decay: repoAddDecay, Enabled: true,
	}
	for i, r := range repos {
		if r.Name == name {
			repos[i] = entry
			return saveRepos(cfg, repos)
		}
	}
	repos = append(repos, entry)
	return saveRepos(cfg, repos)
}

func runRepoDel(cmd *cobra.Command, args []string) error {
	cfg := newConfig()
	repos, err := loadRepos(cfg)
	if err != nil {
		return err
	}
	out := repos[:0]
	found := false
	for _, r := range repos {
		if r.Name == args[0] {
			found = true
			continue
		}
		out = append(out, r)
	}
	if !found {
		return fmt.Errorf("no repository named %q", args[0])
	}
	return saveRepos(cfg, out)
}

func runRepoList(cmd *cobra.Command, args []string) error {
	cfg := newConfig()
	repos, err := loadRepos(cfg)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, r := range repos {
		state := "enabled"
		if !r.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(out, "%s%spriority=%d (%s)\n", padColumn(r.Name, 16), padColumn(r.URL, 40), r.Priority, state)
	}
	return nil
}
