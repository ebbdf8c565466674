package txn

import "fmt"

// ConflictAbortError reports that a file the transaction wants to write
// already exists with different content and the active ConflictPolicy
// chose to abort rather than overwrite or skip it.
type ConflictAbortError struct {
	Path    string
	Package string
}

func (e *ConflictAbortError) Error() string {
	return fmt.Sprintf("conflict writing %s for package %s: refusing to overwrite", e.Path, e.Package)
}
