package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lpm-project/lpm/internal/model"
	"github.com/lpm-project/lpm/internal/resolve"
	"github.com/lpm-project/lpm/internal/version"
)

var cleanCacheCmd = &cobra.Command{
	Use:   "clean-cache",
	Short: "Remove every cached repository blob and container",
	Args:  cobra.NoArgs,
	RunE:  runCleanCache,
}

var autoremoveCmd = &cobra.Command{
	Use:   "autoremove",
	Short: "Remove installed packages no longer reachable from any explicit install",
	Args:  cobra.NoArgs,
	RunE:  runAutoremove,
}

func init() {
	rootCmd.AddCommand(cleanCacheCmd, autoremoveCmd)
}

func runCleanCache(cmd *cobra.Command, args []string) error {
	cfg := newConfig()
	if err := os.RemoveAll(cfg.Paths().CacheDir); err != nil {
		return fmt.Errorf("cleaning cache: %w", err)
	}
	if err := cfg.EnsureStateDirs(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
	return nil
}

func runAutoremove(cmd *cobra.Command, args []string) error {
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

	removable := findAutoremoveCandidates(recs)
	if len(removable) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "nothing to autoremove")
		return nil
	}

	eng, err := newTxnEngine(cfg, st, newHTTPSource(cfg))
	if err != nil {
		return err
	}
	plan := resolve.Plan{Remove: removable}
	result, err := eng.Execute(ctx, plan, nil)
	if err != nil {
		return err
	}
	for _, name := range result.Removed {
		fmt.Fprintf(cmd.OutOrStdout(), "autoremoved %s\n", name)
	}
	return nil
}

// findAutoremoveCandidates computes every non-explicit package
// unreachable from any explicitly installed package's requires closure.
// The closure walks through provides —
// both the bare capability token and its versioned "cap==ver" form — so a
// dependency on a virtual capability keeps its provider installed.
func findAutoremoveCandidates(recs []model.InstalledRecord) []string {
	byName := make(map[string]model.InstalledRecord, len(recs))
	byProvide := make(map[string][]string) // capability token -> providing names
	for _, r := range recs {
		byName[r.Name] = r
		byProvide[r.Name] = append(byProvide[r.Name], r.Name)
		for _, prov := range r.Provides {
			for _, token := range version.ExpandProvide(prov) {
				byProvide[token] = append(byProvide[token], r.Name)
			}
		}
	}

	reachable := make(map[string]bool, len(recs))
	var visit func(name string)
	visit = func(name string) {
		if reachable[name] {
			return
		}
		rec, ok := byName[name]
		if !ok {
			return
		}
		reachable[name] = true
		for _, req := range rec.Requires {
			expr, err := version.ParseDepExpr(req)
			if err != nil {
				continue
			}
			for _, atom := range expr.Atoms() {
				for _, provider := range byProvide[atom.Token()] {
					visit(provider)
				}
				for _, provider := range byProvide[atom.Name] {
					visit(provider)
				}
			}
		}
	}
	for _, r := range recs {
		if r.Explicit {
			visit(r.Name)
		}
	}

	var removable []string
	for _, r := range recs {
		if !r.Explicit && !reachable[r.Name] {
			removable = append(removable, r.Name)
		}
	}
	return removable
}
