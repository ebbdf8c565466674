package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lpm-project/lpm/internal/resolve"
)

var installCmd = &cobra.Command{
	Use:   "install <pkg...>",
	Short: "Resolve and install one or more packages",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runInstall,
}

func init() {
	rootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
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

	plan, err := resolvePlan(ctx, cfg, u, repos, st, atomsFromArgs(args), nil)
	if err != nil {
		return err
	}

	eng, err := newTxnEngine(cfg, st, newHTTPSource(cfg))
	if err != nil {
		return err
	}

	result, err := eng.Execute(ctx, plan, explicitForInstall(args, plan))
	if err != nil {
		return err
	}

	for _, name := range result.Installed {
		fmt.Fprintf(cmd.OutOrStdout(), "installed %s\n", name)
	}
	return nil
}

// explicitForInstall marks every plan.Install entry whose name was directly
// requested as explicit=true; everything else was pulled in transitively
// and becomes an autoremove candidate later.
func explicitForInstall(requested []string, plan resolve.Plan) map[string]bool {
	wanted := make(map[string]bool, len(requested))
	for _, r := range requested {
		wanted[r] = true
	}
	out := make(map[string]bool, len(plan.Install))
	for _, pkg := range plan.Install {
		out[pkg.Name] = wanted[pkg.Name]
	}
	return out
}
