package txn

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/lpm-project/lpm/internal/atomicio"
	"github.com/lpm-project/lpm/internal/config"
	"github.com/lpm-project/lpm/internal/container"
	"github.com/lpm-project/lpm/internal/model"
)

// snapshot captures, before any mutation, the pre-transaction content of
// every path the transaction touches, so a failed transaction can restore
// the filesystem exactly.
type snapshot struct {
	cfg         config.Config
	archivePath string
	existing    map[string]savedFile // path -> pre-transaction state
	created     []string             // paths that did not exist before (new files to remove on rollback)
}

type savedFile struct {
	data []byte
	mode os.FileMode
	link string // non-empty when the pre-transaction path was a symlink
}

func newSnapshot(cfg config.Config) (*snapshot, error) {
	s := &snapshot{
		cfg:      cfg,
		existing: make(map[string]savedFile),
	}
	id := uuid.NewString()
	s.archivePath = filepath.Join(cfg.Paths().Snapshots, id+".tar.zst")
	return s, nil
}

// track records path's current on-disk state (or absence) the first time a
// transaction is about to write or delete it, so restore() can undo exactly
// this transaction's changes regardless of order.
func (s *snapshot) track(path string) error {
	if _, already := s.existing[path]; already {
		return nil
	}
	for _, c := range s.created {
		if c == path {
			return nil
		}
	}
	info, err := os.Lstat(path)
	if os.IsNotExist(err) {
		s.created = append(s.created, path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("snapshotting %s: %w", path, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			return fmt.Errorf("snapshotting symlink %s: %w", path, err)
		}
		s.existing[path] = savedFile{link: target}
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("snapshotting %s: %w", path, err)
	}
	s.existing[path] = savedFile{data: data, mode: info.Mode().Perm()}
	return nil
}

// restore undoes every tracked write: paths that existed before get their
// old content and mode back, paths that didn't get removed.
func (s *snapshot) restore() error {
	var firstErr error
	for path, saved := range s.existing {
		if saved.link != "" {
			if err := writeSymlink(path, saved.link); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("restoring symlink %s: %w", path, err)
			}
			continue
		}
		if err := atomicio.WriteFile(path, saved.data, saved.mode); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("restoring %s: %w", path, err)
		}
	}
	for _, path := range s.created {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = fmt.Errorf("removing %s: %w", path, err)
		}
	}
	return firstErr
}

// archive persists the captured pre-transaction content to archivePath as a
// container-format payload, giving the state store a durable artifact to
// point a SnapshotRecord at.
func (s *snapshot) archive() error {
	if len(s.existing) == 0 {
		return nil
	}
	paths := make([]string, 0, len(s.existing))
	for p := range s.existing {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	payload := container.Payload{
		Meta:  container.Meta{Name: "snapshot", Version: "0"},
		Files: make(map[string][]byte, len(s.existing)),
	}
	for _, p := range paths {
		saved := s.existing[p]
		abs := p
		if !filepath.IsAbs(abs) {
			abs = "/" + abs
		}
		if saved.link != "" {
			payload.Manifest = append(payload.Manifest, model.ManifestEntry{
				Path:    abs,
				Symlink: saved.link,
				SHA256:  container.SHA256Hex([]byte(saved.link)),
			})
			continue
		}
		payload.Files[abs] = saved.data
		payload.Manifest = append(payload.Manifest, model.ManifestEntry{
			Path:      abs,
			Mode:      uint32(saved.mode),
			SHA256:    container.SHA256Hex(saved.data),
			SizeBytes: int64(len(saved.data)),
		})
	}

	if err := os.MkdirAll(filepath.Dir(s.archivePath), 0o755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	f, err := os.Create(s.archivePath)
	if err != nil {
		return fmt.Errorf("creating snapshot archive: %w", err)
	}
	defer f.Close()
	return container.Write(f, payload)
}
