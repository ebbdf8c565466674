package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every currently installed package",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := newConfig()

	st, err := openStateStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	recs, err := st.Installed(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, r := range recs {
		mark := " "
		if r.Explicit {
			mark = "*"
		}
		fmt.Fprintf(out, "%s %s%s\n", mark, padColumn(r.Name, 32), r.Version)
	}
	return nil
}
