// Copyright (c) 2024 santosr2
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/lpm-project/lpm/internal/config"
)

const lpmVersion = "0.1.0"

var (
	quietFlag   bool
	verboseFlag bool
	logLevel    = slog.LevelWarn

	flagRoot          string
	flagDryRun        bool
	flagNoVerify      bool
	flagForce         bool
	flagAllowFallback bool

	rootCmd = &cobra.Command{
		Use:   "lpm",
		Short: "LPM — a Linux package manager",
		Long: `lpm resolves inter-package constraints, builds packages from recipe
scripts, and installs/removes them atomically onto a root filesystem with
signing, snapshots, and hook dispatch.`,
		Version: lpmVersion,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if quietFlag {
				logLevel = slog.LevelError
			} else if verboseFlag {
				logLevel = slog.LevelDebug
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "suppress informational output (errors only)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable verbose debug output")
	rootCmd.PersistentFlags().StringVar(&flagRoot, "root", "/", "target root filesystem")
	rootCmd.PersistentFlags().BoolVar(&flagDryRun, "dry-run", false, "compute but do not apply the operation")
	rootCmd.PersistentFlags().BoolVar(&flagNoVerify, "no-verify", false, "skip container signature verification")
	rootCmd.PersistentFlags().BoolVar(&flagForce, "force", false, "override protected-package and conflict checks")
	rootCmd.PersistentFlags().BoolVar(&flagAllowFallback, "allow-fallback", false, "allow falling back to an in-memory state store (nothing is persisted) if sqlite cannot be opened")
}

// Execute runs the root command and returns the process exit code to
// hand to os.Exit.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return exitCodeFor(err)
	}
	return int(config.ExitSuccess)
}

// logger returns the process-wide structured logger, level gated by the
// -q/-v persistent flags.
func logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

// newConfig assembles the explicit Config context from the
// environment and the persistent CLI flags, threaded into every
// subcommand's engine/resolver/pipeline construction.
func newConfig() config.Config {
	cfg := config.Default()
	cfg.Root = flagRoot
	cfg.DryRun = flagDryRun
	cfg.NoVerify = flagNoVerify
	cfg.Force = flagForce
	cfg.AllowFallback = flagAllowFallback
	return cfg
}
