package store

import (
	"context"
	"testing"
	"time"

	"github.com/lpm-project/lpm/internal/model"
)

func TestMemoryStoreUpsertAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	rec := model.InstalledRecord{Name: "curl", Version: "8.5.0", InstalledAt: time.Now(), Explicit: true}
	if err := tx.Upsert(rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, ok, err := s.Get(ctx, "curl")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatalf("expected curl to be installed after commit")
	}
	if got.Version != "8.5.0" {
		t.Fatalf("got version %s, want 8.5.0", got.Version)
	}
}

func TestMemoryStoreRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.Upsert(model.InstalledRecord{Name: "curl", Version: "8.5.0"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	if _, ok, _ := s.Get(ctx, "curl"); ok {
		t.Fatalf("expected rollback to discard the upsert")
	}
}

func TestMemoryStoreHistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for _, kind := range []string{"install", "upgrade", "remove"} {
		tx, err := s.Begin(ctx)
		if err != nil {
			t.Fatalf("Begin: %v", err)
		}
		if err := tx.AppendHistory(model.HistoryEntry{Timestamp: time.Now(), Kind: kind}); err != nil {
			t.Fatalf("AppendHistory: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("Commit: %v", err)
		}
	}

	hist, err := s.History(ctx, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 3 || hist[0].Kind != "remove" {
		t.Fatalf("expected newest-first history starting with remove, got %+v", hist)
	}
}

func TestMemoryStoreSnapshotAppendAndDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	rec, err := tx.Snapshot("install", "/var/lib/lpm/snapshots/a.tar.zst")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	snaps, err := s.Snapshots(ctx)
	if err != nil || len(snaps) != 1 || snaps[0].ID != rec.ID || snaps[0].Tag != "install" {
		t.Fatalf("unexpected snapshots: %+v err=%v", snaps, err)
	}

	if err := s.DeleteSnapshot(ctx, rec.ID); err != nil {
		t.Fatalf("DeleteSnapshot: %v", err)
	}
	if snaps, _ := s.Snapshots(ctx); len(snaps) != 0 {
		t.Fatalf("expected snapshot to be deleted, got %+v", snaps)
	}
}

func TestMemoryStoreReadableWhileTransactionOpen(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.Upsert(model.InstalledRecord{Name: "curl", Version: "8.5.0"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// The transaction engine looks up installed records mid-transaction;
	// uncommitted writes must neither block the read nor leak into it.
	if _, ok, err := s.Get(ctx, "curl"); err != nil || ok {
		t.Fatalf("expected uncommitted upsert to be invisible, ok=%v err=%v", ok, err)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "curl"); !ok {
		t.Fatalf("expected committed upsert to be visible")
	}
}
