// Package store persists the package state database: what's installed,
// the transaction history log, and the
// snapshot records rollback restores from. Two backends share one
// interface — a modernc.org/sqlite-backed store for production roots and an
// in-memory store for tests — so the transaction engine never imports a
// driver directly.
package store

import (
	"context"
	"time"

	"github.com/lpm-project/lpm/internal/model"
)

// Store is the state database the transaction engine reads and writes
// inside a single locked transaction.
type Store interface {
	// Begin opens a write transaction. Callers must Commit or Rollback.
	Begin(ctx context.Context) (Tx, error)

	// Installed returns every currently installed package.
	Installed(ctx context.Context) ([]model.InstalledRecord, error)

	// Get returns the installed record for name, or ok=false if absent.
	Get(ctx context.Context, name string) (model.InstalledRecord, bool, error)

	// History returns the transaction log, newest first, capped at limit
	// (0 means unbounded).
	History(ctx context.Context, limit int) ([]model.HistoryEntry, error)

	// Snapshots returns every recorded snapshot, newest first.
	Snapshots(ctx context.Context) ([]model.SnapshotRecord, error)

	// DeleteSnapshot removes a snapshot row (the archive file is the
	// caller's to clean up).
	DeleteSnapshot(ctx context.Context, id string) error

	Close() error
}

// Tx is one write transaction against the store: a set of installs and
// removals plus a history entry, applied atomically on Commit.
type Tx interface {
	Upsert(rec model.InstalledRecord) error
	Delete(name string) error
	AppendHistory(entry model.HistoryEntry) error
	Snapshot(tag, path string) (model.SnapshotRecord, error)

	Commit() error
	Rollback() error
}

func now() time.Time { return time.Now() }
