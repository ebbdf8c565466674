// lpm is a Linux package manager: it resolves inter-package constraints with
// a CDCL SAT solver, builds packages from TOML recipe scripts, and installs,
// removes, and upgrades them atomically onto a root filesystem with
// signature verification, rollback snapshots, and hook dispatch.
//
// Usage:
//
//	lpm install <pkg...>      Resolve and install packages
//	lpm remove <pkg...>       Remove packages
//	lpm upgrade [pkg...]      Upgrade packages (default: everything explicit)
//	lpm search <term>         Search repository indexes
//	lpm info <pkg>            Show package metadata
//	lpm files <pkg>           List files owned by an installed package
//	lpm list                  List installed packages
//	lpm buildpkg <script>     Build a package artifact from a recipe
//	lpm installpkg <file>     Install a local container file
//	lpm repoadd/repodel/repolist   Manage configured repositories
//	lpm clean-cache           Clear the local container cache
//	lpm autoremove            Remove unreachable non-explicit packages
package main

import (
	"os"

	"github.com/lpm-project/lpm/cmd/lpm/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
