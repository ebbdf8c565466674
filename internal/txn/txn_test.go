package txn

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/lpm-project/lpm/internal/atomicio"
	"github.com/lpm-project/lpm/internal/config"
	"github.com/lpm-project/lpm/internal/container"
	"github.com/lpm-project/lpm/internal/model"
	"github.com/lpm-project/lpm/internal/resolve"
	"github.com/lpm-project/lpm/internal/store"
)

// fakeSource serves an in-memory container built with container.Write,
// standing in for the HTTP/file fetchers the CLI wires in production.
type fakeSource struct {
	containers map[string][]byte
}

func newFakeSource() *fakeSource {
	return &fakeSource{containers: make(map[string][]byte)}
}

func (s *fakeSource) add(t *testing.T, pkg model.PkgMeta, files map[string]string) {
	t.Helper()
	payload := container.Payload{
		Meta:  container.Meta{Name: pkg.Name, Version: pkg.Version},
		Files: make(map[string][]byte, len(files)),
	}
	for path, content := range files {
		data := []byte(content)
		payload.Files[path] = data
		payload.Manifest = append(payload.Manifest, model.ManifestEntry{
			Path:      path,
			Mode:      0o644,
			SHA256:    container.SHA256Hex(data),
			SizeBytes: int64(len(data)),
		})
	}
	var buf bytes.Buffer
	if err := container.Write(&buf, payload); err != nil {
		t.Fatalf("building fake container for %s: %v", pkg.Key(), err)
	}
	s.containers[pkg.Key()] = buf.Bytes()
}

func (s *fakeSource) Open(ctx context.Context, pkg model.PkgMeta) (io.ReadCloser, []byte, error) {
	data, ok := s.containers[pkg.Key()]
	if !ok {
		return nil, nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil, nil
}

func newTestEngine(t *testing.T, src Source) (*Engine, config.Config, store.Store) {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Root = root
	cfg.StateDir = filepath.Join(root, "state")
	cfg.NoVerify = true
	if err := cfg.EnsureStateDirs(); err != nil {
		t.Fatalf("EnsureStateDirs: %v", err)
	}
	st := store.NewMemoryStore()
	eng := New(cfg, st, src, nil, nil, nil, nil)
	return eng, cfg, st
}

func TestEngineExecuteInstallWritesFilesAndRecord(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	pkg := model.PkgMeta{Name: "curl", Version: "8.5.0"}
	src.add(t, pkg, map[string]string{"/usr/bin/curl": "binary-content"})

	eng, cfg, st := newTestEngine(t, src)

	plan := resolve.Plan{Install: []model.PkgMeta{pkg}}
	result, err := eng.Execute(ctx, plan, map[string]bool{"curl": true})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(result.Installed) != 1 || result.Installed[0] != "curl==8.5.0" {
		t.Fatalf("unexpected Installed: %+v", result.Installed)
	}

	data, err := os.ReadFile(filepath.Join(cfg.Root, "usr/bin/curl"))
	if err != nil {
		t.Fatalf("reading installed file: %v", err)
	}
	if string(data) != "binary-content" {
		t.Fatalf("unexpected file content %q", data)
	}

	rec, ok, err := st.Get(ctx, "curl")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || !rec.Explicit {
		t.Fatalf("expected curl to be recorded as explicitly installed, got %+v ok=%v", rec, ok)
	}
}

func TestEngineExecuteRemoveDeletesFilesAndRecord(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	pkg := model.PkgMeta{Name: "curl", Version: "8.5.0"}
	src.add(t, pkg, map[string]string{"/usr/bin/curl": "binary-content"})

	eng, cfg, st := newTestEngine(t, src)

	if _, err := eng.Execute(ctx, resolve.Plan{Install: []model.PkgMeta{pkg}}, map[string]bool{"curl": true}); err != nil {
		t.Fatalf("install Execute: %v", err)
	}

	result, err := eng.Execute(ctx, resolve.Plan{Remove: []string{"curl"}}, nil)
	if err != nil {
		t.Fatalf("remove Execute: %v", err)
	}
	if len(result.Removed) != 1 || result.Removed[0] != "curl" {
		t.Fatalf("unexpected Removed: %+v", result.Removed)
	}

	if _, err := os.Stat(filepath.Join(cfg.Root, "usr/bin/curl")); !os.IsNotExist(err) {
		t.Fatalf("expected removed file to be gone, stat err=%v", err)
	}
	if _, ok, _ := st.Get(ctx, "curl"); ok {
		t.Fatalf("expected curl to no longer be installed")
	}
}

func TestEngineExecuteDryRunTouchesNothing(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	pkg := model.PkgMeta{Name: "curl", Version: "8.5.0"}
	src.add(t, pkg, map[string]string{"/usr/bin/curl": "binary-content"})

	eng, cfg, st := newTestEngine(t, src)
	eng.cfg.DryRun = true

	result, err := eng.Execute(ctx, resolve.Plan{Install: []model.PkgMeta{pkg}}, map[string]bool{"curl": true})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(result.Installed) != 1 {
		t.Fatalf("expected dry-run to still report the planned install, got %+v", result.Installed)
	}
	if _, err := os.Stat(filepath.Join(cfg.Root, "usr/bin/curl")); !os.IsNotExist(err) {
		t.Fatalf("expected dry-run to write nothing, stat err=%v", err)
	}
	if _, ok, _ := st.Get(ctx, "curl"); ok {
		t.Fatalf("expected dry-run not to touch the state store")
	}
}

func TestEngineRunsEmbeddedInstallScriptOnInstallAndUpgrade(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	eng, cfg, _ := newTestEngine(t, src)

	logPath := filepath.Join(cfg.Root, "script-log.txt")
	script := "#!/bin/sh\necho \"$1 $2 $3 prev=$LPM_PREVIOUS_VERSION-$LPM_PREVIOUS_RELEASE\" >> " + logPath + "\n"

	addWithScript := func(version, release string) {
		pkg := model.PkgMeta{Name: "hooks", Version: version, Release: release}
		payload := container.Payload{
			Meta: container.Meta{Name: "hooks", Version: version, Release: release},
			Files: map[string][]byte{
				"/.lpm-install.sh": []byte(script),
				"/usr/share/hooks": []byte("v" + version),
			},
			Manifest: []model.ManifestEntry{
				{Path: "/.lpm-install.sh", Mode: 0o755, SHA256: container.SHA256Hex([]byte(script)), SizeBytes: int64(len(script))},
				{Path: "/usr/share/hooks", Mode: 0o644, SHA256: container.SHA256Hex([]byte("v" + version)), SizeBytes: int64(len("v" + version))},
			},
		}
		var buf bytes.Buffer
		if err := container.Write(&buf, payload); err != nil {
			t.Fatalf("building container: %v", err)
		}
		src.containers[pkg.Key()] = buf.Bytes()
	}
	addWithScript("1.0", "1")
	addWithScript("2.0", "3")

	if _, err := eng.Execute(ctx, resolve.Plan{Install: []model.PkgMeta{{Name: "hooks", Version: "1.0", Release: "1"}}}, nil); err != nil {
		t.Fatalf("install Execute: %v", err)
	}
	if _, err := eng.Execute(ctx, resolve.Plan{Install: []model.PkgMeta{{Name: "hooks", Version: "2.0", Release: "3"}}}, nil); err != nil {
		t.Fatalf("upgrade Execute: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading script log: %v", err)
	}
	// install gets (action, new-full) with no previous-version env; the
	// upgrade gets (action, new-full, old-full) plus
	// LPM_PREVIOUS_VERSION/LPM_PREVIOUS_RELEASE.
	want := "install 1.0-1  prev=-\nupgrade 2.0-3 1.0-1 prev=1.0-1\n"
	if string(data) != want {
		t.Fatalf("script log = %q, want %q", data, want)
	}

	if _, err := os.Stat(filepath.Join(cfg.Root, ".lpm-install.sh")); !os.IsNotExist(err) {
		t.Fatalf("expected the install script to be removed after running (no keep flag)")
	}
}

func TestEngineUpgradeReplacesOwnFilesAndRemovesStaleOnes(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	src.add(t, model.PkgMeta{Name: "app", Version: "1.0.0"}, map[string]string{
		"/usr/bin/app":        "app-v1",
		"/usr/share/app/old":  "dropped in v2",
	})
	src.add(t, model.PkgMeta{Name: "app", Version: "2.0.0"}, map[string]string{
		"/usr/bin/app": "app-v2",
	})

	eng, cfg, st := newTestEngine(t, src)

	if _, err := eng.Execute(ctx, resolve.Plan{Install: []model.PkgMeta{{Name: "app", Version: "1.0.0"}}}, nil); err != nil {
		t.Fatalf("install Execute: %v", err)
	}
	if _, err := eng.Execute(ctx, resolve.Plan{Install: []model.PkgMeta{{Name: "app", Version: "2.0.0"}}}, nil); err != nil {
		t.Fatalf("upgrade Execute: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(cfg.Root, "usr/bin/app"))
	if err != nil || string(data) != "app-v2" {
		t.Fatalf("expected upgraded binary content, got %q err=%v", data, err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Root, "usr/share/app/old")); !os.IsNotExist(err) {
		t.Fatalf("expected the old version's stale file to be removed")
	}
	if rec, ok, _ := st.Get(ctx, "app"); !ok || rec.Version != "2.0.0" {
		t.Fatalf("expected the installed row to advance to 2.0.0, got %+v ok=%v", rec, ok)
	}
}

func TestEngineExecuteFailsWhileLockHeld(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	pkg := model.PkgMeta{Name: "curl", Version: "8.5.0"}
	src.add(t, pkg, map[string]string{"/usr/bin/curl": "binary-content"})

	eng, cfg, _ := newTestEngine(t, src)

	held, err := atomicio.Acquire(cfg.Paths().LockFile)
	if err != nil {
		t.Fatalf("pre-acquiring lock: %v", err)
	}
	defer held.Release()

	_, err = eng.Execute(ctx, resolve.Plan{Install: []model.PkgMeta{pkg}}, nil)
	if err == nil {
		t.Fatalf("expected Execute to fail while the lock is held")
	}
	var lockErr *atomicio.LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected *atomicio.LockError, got %T: %v", err, err)
	}
	if lockErr.HolderPID != os.Getpid() {
		t.Fatalf("expected the holder PID to be reported, got %d", lockErr.HolderPID)
	}
}

func TestEngineMetaPackageTouchesNoFiles(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	pkg := model.PkgMeta{Name: "desktop-set", Version: "1.0.0", Requires: []string{"curl"}}
	note := []byte("meta\n")
	payload := container.Payload{
		Meta:  container.Meta{Name: "desktop-set", Version: "1.0.0"},
		Files: map[string][]byte{"/.lpm-note": note},
		Manifest: []model.ManifestEntry{
			{Path: "/.lpm-note", Mode: 0o644, SHA256: container.SHA256Hex(note), SizeBytes: int64(len(note))},
		},
	}
	var buf bytes.Buffer
	if err := container.Write(&buf, payload); err != nil {
		t.Fatalf("building container: %v", err)
	}
	src.containers[pkg.Key()] = buf.Bytes()

	eng, cfg, st := newTestEngine(t, src)
	if _, err := eng.Execute(ctx, resolve.Plan{Install: []model.PkgMeta{pkg}}, nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if _, err := os.Stat(filepath.Join(cfg.Root, ".lpm-note")); !os.IsNotExist(err) {
		t.Fatalf("expected a meta-package to write nothing under root")
	}
	if rec, ok, _ := st.Get(ctx, "desktop-set"); !ok || len(rec.Requires) != 1 {
		t.Fatalf("expected the meta-package to be recorded with its requires, got %+v ok=%v", rec, ok)
	}
}

func TestEngineExecuteAbortPolicyRollsBackOnConflict(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	pkg := model.PkgMeta{Name: "curl", Version: "8.5.0"}
	src.add(t, pkg, map[string]string{"/usr/bin/curl": "new-content"})

	eng, cfg, st := newTestEngine(t, src)

	target := filepath.Join(cfg.Root, "usr/bin/curl")
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(target, []byte("pre-existing-content"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := eng.Execute(ctx, resolve.Plan{Install: []model.PkgMeta{pkg}}, map[string]bool{"curl": true})
	if err == nil {
		t.Fatalf("expected AbortPolicy to refuse the conflicting write")
	}
	var conflictErr *ConflictAbortError
	if !errors.As(err, &conflictErr) {
		t.Fatalf("expected a *ConflictAbortError, got %v (%T)", err, err)
	}

	data, rerr := os.ReadFile(target)
	if rerr != nil {
		t.Fatalf("reading file after rollback: %v", rerr)
	}
	if string(data) != "pre-existing-content" {
		t.Fatalf("expected rollback to restore original content, got %q", data)
	}
	if _, ok, _ := st.Get(ctx, "curl"); ok {
		t.Fatalf("expected failed transaction not to record an install")
	}
}
