package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lpm-project/lpm/internal/model"
)

func TestSQLiteStoreMigratesAndRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := OpenSQLite(nil, path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	rec := model.InstalledRecord{
		Name:        "bash",
		Version:     "5.2.0",
		Release:     "1",
		Arch:        "x86_64",
		RepoName:    "main",
		InstalledAt: time.Now().UTC(),
		Explicit:    true,
		Requires:    []string{"libc"},
		Provides:    []string{"sh==5.2.0"},
		Files: []model.ManifestEntry{
			{Path: "/bin/bash", Mode: 0o755, SHA256: "deadbeef", SizeBytes: 1024},
		},
	}
	if err := tx.Upsert(rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := tx.AppendHistory(model.HistoryEntry{Timestamp: time.Now().UTC(), Kind: "install", Packages: []string{"bash"}}); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, ok, err := s.Get(ctx, "bash")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatalf("expected bash to be installed")
	}
	if got.Version != "5.2.0" || len(got.Files) != 1 || got.Files[0].Path != "/bin/bash" {
		t.Fatalf("unexpected record after round-trip: %+v", got)
	}
	if got.Release != "1" || got.Arch != "x86_64" || len(got.Provides) != 1 || got.Provides[0] != "sh==5.2.0" {
		t.Fatalf("unexpected release/arch/provides after round-trip: %+v", got)
	}

	hist, err := s.History(ctx, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 1 || hist[0].Kind != "install" {
		t.Fatalf("unexpected history after round-trip: %+v", hist)
	}
}
