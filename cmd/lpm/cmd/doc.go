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

// Package cmd implements the command-line interface for lpm.
// It provides commands for resolving, building, installing, and removing
// packages against a root filesystem.
//
// The CLI is built using Cobra, one file per subcommand:
//
//   - install/remove/upgrade: run a resolver-computed transaction
//   - search/info/files/list: read-only queries against the universe and
//     the installed-package state
//   - buildpkg/installpkg: the build pipeline and a local-file install path
//   - repoadd/repodel/repolist: repository configuration
//   - clean-cache/autoremove: maintenance operations
//
// Global flags available across all commands:
//
//   - -v, --verbose: enable verbose debug output
//   - -q, --quiet: suppress informational output (errors only)
//   - --root, --dry-run, --no-verify, --force, --allow-fallback
//
// Example usage:
//
//	lpm install curl
//	lpm remove curl
//	lpm search '.*ssl.*'
//	lpm upgrade --dry-run
//
// See individual command documentation for detailed usage and options.
package cmd
