package cmd

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lpm-project/lpm/internal/container"
	"github.com/lpm-project/lpm/internal/model"
	"github.com/lpm-project/lpm/internal/resolve"
)

var installpkgCmd = &cobra.Command{
	Use:   "installpkg <file>",
	Short: "Install a local container file, bypassing repository resolution",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstallpkg,
}

func init() {
	rootCmd.AddCommand(installpkgCmd)
}

func runInstallpkg(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := newConfig()
	path := args[0]

	raw, err := os.ReadFile(path) // #nosec G304 - user-supplied CLI argument, the whole point of installpkg
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	extracted, err := container.Read(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("reading container %s: %w", path, err)
	}

	var sig []byte
	if sigData, serr := os.ReadFile(path + ".sig"); serr == nil { // #nosec G304 - sibling of a user-supplied path
		sig = sigData
	} else if !cfg.NoVerify {
		return fmt.Errorf("no detached signature found at %s.sig (pass --no-verify to skip)", path)
	}

	pkg := extracted.Meta
	pkg.RepoName = "local"
	pkg.SHA256 = container.SHA256Hex(raw)
	pkg.SizeBytes = int64(len(raw))

	st, err := openStateStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	eng, err := newTxnEngine(cfg, st, &fileSource{path: path, sig: sig})
	if err != nil {
		return err
	}

	plan := resolve.Plan{Install: []model.PkgMeta{pkg}}
	result, err := eng.Execute(ctx, plan, map[string]bool{pkg.Name: true})
	if err != nil {
		return err
	}
	for _, name := range result.Installed {
		fmt.Fprintf(cmd.OutOrStdout(), "installed %s\n", name)
	}
	return nil
}
