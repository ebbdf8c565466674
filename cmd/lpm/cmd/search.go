package cmd

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/mitchellh/go-wordwrap"
	"github.com/spf13/cobra"

	"github.com/lpm-project/lpm/internal/model"
)

var searchCmd = &cobra.Command{
	Use:   "search <pattern>",
	Short: "Search repository indexes for packages matching a regular expression",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := newConfig()

	u, _, err := refreshUniverse(ctx, cfg)
	if err != nil {
		return err
	}

	re, err := regexp.Compile(args[0])
	if err != nil {
		return fmt.Errorf("invalid search pattern %q: %w", args[0], err)
	}

	var matches []model.PkgMeta
	for _, name := range u.Names() {
		for _, c := range u.CandidatesByName(name) {
			if re.MatchString(c.Name) || re.MatchString(c.Summary) {
				matches = append(matches, c)
				break
			}
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Name < matches[j].Name })

	if len(matches) == 0 {
		suggestions := u.Suggest(args[0], 3)
		if len(suggestions) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "no matches for %q; did you mean: %v?\n", args[0], suggestions)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "no matches for %q\n", args[0])
		return nil
	}

	out := cmd.OutOrStdout()
	for _, m := range matches {
		fmt.Fprintf(out, "%s%s\n    %s\n", padColumn(m.RepoName+"/"+m.Name, 32), m.Version, wordwrap.WrapString(m.Summary, 76))
	}
	return nil
}
