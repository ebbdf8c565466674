package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var filesCmd = &cobra.Command{
	Use:   "files <pkg>",
	Short: "List the files an installed package owns",
	Args:  cobra.ExactArgs(1),
	RunE:  runFiles,
}

func init() {
	rootCmd.AddCommand(filesCmd)
}

func runFiles(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := newConfig()

	st, err := openStateStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	rec, ok, err := st.Get(ctx, args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("package %s is not installed", args[0])
	}

	out := cmd.OutOrStdout()
	for _, f := range rec.Files {
		if f.Symlink != "" {
			fmt.Fprintf(out, "%s -> %s\n", f.Path, f.Symlink)
		} else {
			fmt.Fprintf(out, "%s\n", f.Path)
		}
	}
	return nil
}
