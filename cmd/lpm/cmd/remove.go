package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var removeCmd = &cobra.Command{
	Use:     "remove <pkg...>",
	Aliases: []string{"rm", "uninstall"},
	Short:   "Resolve and remove one or more packages",
	Args:    cobra.MinimumNArgs(1),
	RunE:    runRemove,
}

func init() {
	rootCmd.AddCommand(removeCmd)
}

func runRemove(cmd *cobra.Command, args []string) error {
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

	plan, err := resolvePlan(ctx, cfg, u, repos, st, nil, args)
	if err != nil {
		return err
	}

	eng, err := newTxnEngine(cfg, st, newHTTPSource(cfg))
	if err != nil {
		return err
	}

	result, err := eng.Execute(ctx, plan, nil)
	if err != nil {
		return err
	}

	for _, name := range result.Removed {
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", name)
	}
	return nil
}
