package txn

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lpm-project/lpm/internal/hooks"
	"github.com/lpm-project/lpm/internal/model"
	"github.com/lpm-project/lpm/internal/store"
)

// preparedRemove is one installed package staged for removal: its record
// looked up before any mutation so the whole transaction fails fast on an
// unknown name.
type preparedRemove struct {
	rec model.InstalledRecord
}

func (pr preparedRemove) event() hooks.Event {
	return hooks.Event{
		Name:      pr.rec.Name,
		Operation: "Remove",
		Version:   pr.rec.Version,
		Release:   pr.rec.Release,
		Paths:     manifestPaths(pr.rec.Files),
	}
}

func (e *Engine) prepareRemove(ctx context.Context, name string) (preparedRemove, error) {
	rec, ok, err := e.store.Get(ctx, name)
	if err != nil {
		return preparedRemove{}, fmt.Errorf("looking up installed record: %w", err)
	}
	if !ok {
		return preparedRemove{}, fmt.Errorf("package %s is not installed", name)
	}
	return preparedRemove{rec: rec}, nil
}

// removeFiles unlinks every file an installed package owns, prunes any
// now-empty parent directories, and deletes the store row.
func (e *Engine) removeFiles(tx store.Tx, pr preparedRemove, snap *snapshot) error {
	for _, entry := range pr.rec.Files {
		target := filepath.Join(e.cfg.Root, entry.Path)
		if err := snap.track(target); err != nil {
			return err
		}
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", target, err)
		}
		removeEmptyParents(e.cfg.Root, filepath.Dir(entry.Path))
	}
	return tx.Delete(pr.rec.Name)
}

// removeEmptyParents removes dir and any now-empty ancestors under root,
// stopping at the first non-empty directory or at root itself.
func removeEmptyParents(root, dir string) {
	for dir != "" && dir != "." && dir != string(filepath.Separator) {
		full := filepath.Join(root, dir)
		entries, err := os.ReadDir(full)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(full); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
