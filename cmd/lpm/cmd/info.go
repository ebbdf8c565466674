package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info <pkg>",
	Short: "Show metadata for an installed or candidate package",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := newConfig()
	name := args[0]
	out := cmd.OutOrStdout()

	st, err := openStateStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if rec, ok, err := st.Get(ctx, name); err != nil {
		return err
	} else if ok {
		fmt.Fprintf(out, "name:      %s\n", rec.Name)
		fmt.Fprintf(out, "version:   %s\n", rec.Version)
		fmt.Fprintf(out, "repo:      %s\n", rec.RepoName)
		fmt.Fprintf(out, "installed: %s\n", rec.InstalledAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(out, "explicit:  %t\n", rec.Explicit)
		fmt.Fprintf(out, "files:     %d\n", len(rec.Files))
		return nil
	}

	u, _, err := refreshUniverse(ctx, cfg)
	if err != nil {
		return err
	}
	cands := u.CandidatesByName(name)
	if len(cands) == 0 {
		suggestions := u.Suggest(name, 3)
		if len(suggestions) > 0 {
			return fmt.Errorf("no package named %q; did you mean: %v?", name, suggestions)
		}
		return fmt.Errorf("no package named %q", name)
	}
	p := cands[0]
	fmt.Fprintf(out, "name:      %s\n", p.Name)
	fmt.Fprintf(out, "version:   %s\n", p.Version)
	fmt.Fprintf(out, "repo:      %s\n", p.RepoName)
	fmt.Fprintf(out, "summary:   %s\n", p.Summary)
	fmt.Fprintf(out, "requires:  %v\n", p.Requires)
	fmt.Fprintf(out, "provides:  %v\n", p.Provides)
	fmt.Fprintf(out, "installed: false\n")
	return nil
}
