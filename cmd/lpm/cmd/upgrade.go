package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var upgradeCmd = &cobra.Command{
	Use:   "upgrade [pkg...]",
	Short: "Resolve the newest versions of the given (or all explicit) packages and install them",
	RunE:  runUpgrade,
}

func init() {
	rootCmd.AddCommand(upgradeCmd)
}

func runUpgrade(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := newConfig()

	u, repos, err := refreshUniverse(ctx, cfg)
	if err != nil {
		return err
	}
	st, err := openStateStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	targets := args
	if len(targets) == 0 {
		explicit, err := explicitSet(ctx, st)
		if err != nil {
			return err
		}
		for name := range explicit {
			targets = append(targets, name)
		}
	}
	if len(targets) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "nothing to upgrade")
		return nil
	}

	plan, err := resolvePlan(ctx, cfg, u, repos, st, targets, nil)
	if err != nil {
		return err
	}

	eng, err := newTxnEngine(cfg, st, newHTTPSource(cfg))
	if err != nil {
		return err
	}

	explicit := make(map[string]bool, len(targets))
	for _, t := range targets {
		explicit[t] = true
	}
	result, err := eng.Execute(ctx, plan, explicit)
	if err != nil {
		return err
	}

	for _, name := range result.Installed {
		fmt.Fprintf(cmd.OutOrStdout(), "upgraded to %s\n", name)
	}
	return nil
}
