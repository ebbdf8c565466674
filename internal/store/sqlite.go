package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/lpm-project/lpm/internal/model"
)

// SQLiteStore is the production state backend: a single-file database under
// the LPM root, written through modernc.org/sqlite's
// cgo-free driver so lpm stays a static binary.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (creating if absent) the state database at path and
// ensures its schema exists.
func OpenSQLite(logger *slog.Logger, path string) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening state database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // one writer at a time; transactions are serialized by the system lock

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS installed (
			name TEXT PRIMARY KEY,
			version TEXT NOT NULL,
			release TEXT NOT NULL DEFAULT '',
			arch TEXT NOT NULL DEFAULT '',
			repo TEXT NOT NULL,
			installed_at TEXT NOT NULL,
			explicit INTEGER NOT NULL,
			requires TEXT NOT NULL,
			provides TEXT NOT NULL DEFAULT '[]',
			files TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			kind TEXT NOT NULL,
			packages TEXT NOT NULL,
			snapshot_id TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			tag TEXT NOT NULL DEFAULT '',
			path TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrating state database: %w", err)
		}
	}
	// Backfill columns onto databases created by an earlier schema. SQLite
	// has no ADD COLUMN IF NOT EXISTS; a duplicate-column error just means
	// the column is already there.
	backfills := []string{
		`ALTER TABLE installed ADD COLUMN release TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE installed ADD COLUMN arch TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE installed ADD COLUMN provides TEXT NOT NULL DEFAULT '[]'`,
		`ALTER TABLE snapshots ADD COLUMN tag TEXT NOT NULL DEFAULT ''`,
	}
	for _, stmt := range backfills {
		if _, err := s.db.Exec(stmt); err != nil && !strings.Contains(err.Error(), "duplicate column name") {
			return fmt.Errorf("migrating state database: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Installed(ctx context.Context) ([]model.InstalledRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, version, release, arch, repo, installed_at, explicit, requires, provides, files FROM installed ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying installed packages: %w", err)
	}
	defer rows.Close()
	return scanInstalled(rows)
}

func (s *SQLiteStore) Get(ctx context.Context, name string) (model.InstalledRecord, bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, version, release, arch, repo, installed_at, explicit, requires, provides, files FROM installed WHERE name = ?`, name)
	if err != nil {
		return model.InstalledRecord{}, false, fmt.Errorf("querying package %s: %w", name, err)
	}
	defer rows.Close()
	recs, err := scanInstalled(rows)
	if err != nil {
		return model.InstalledRecord{}, false, err
	}
	if len(recs) == 0 {
		return model.InstalledRecord{}, false, nil
	}
	return recs[0], true, nil
}

func scanInstalled(rows *sql.Rows) ([]model.InstalledRecord, error) {
	var out []model.InstalledRecord
	for rows.Next() {
		var (
			rec          model.InstalledRecord
			installedAt  string
			explicit     int
			requiresJSON string
			providesJSON string
			filesJSON    string
		)
		if err := rows.Scan(&rec.Name, &rec.Version, &rec.Release, &rec.Arch, &rec.RepoName, &installedAt, &explicit, &requiresJSON, &providesJSON, &filesJSON); err != nil {
			return nil, fmt.Errorf("scanning installed row: %w", err)
		}
		rec.Explicit = explicit != 0
		if err := json.Unmarshal([]byte(requiresJSON), &rec.Requires); err != nil {
			return nil, fmt.Errorf("decoding requires for %s: %w", rec.Name, err)
		}
		if err := json.Unmarshal([]byte(providesJSON), &rec.Provides); err != nil {
			return nil, fmt.Errorf("decoding provides for %s: %w", rec.Name, err)
		}
		if err := json.Unmarshal([]byte(filesJSON), &rec.Files); err != nil {
			return nil, fmt.Errorf("decoding files for %s: %w", rec.Name, err)
		}
		t, err := parseTime(installedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing installed_at for %s: %w", rec.Name, err)
		}
		rec.InstalledAt = t
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) History(ctx context.Context, limit int) ([]model.HistoryEntry, error) {
	q := `SELECT id, timestamp, kind, packages, snapshot_id FROM history ORDER BY id DESC`
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var out []model.HistoryEntry
	for rows.Next() {
		var (
			e            model.HistoryEntry
			ts           string
			packagesJSON string
		)
		if err := rows.Scan(&e.ID, &ts, &e.Kind, &packagesJSON, &e.SnapshotID); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		if err := json.Unmarshal([]byte(packagesJSON), &e.Packages); err != nil {
			return nil, fmt.Errorf("decoding packages for history entry %d: %w", e.ID, err)
		}
		t, err := parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp for history entry %d: %w", e.ID, err)
		}
		e.Timestamp = t
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Snapshots(ctx context.Context) ([]model.SnapshotRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, created_at, tag, path FROM snapshots ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	var out []model.SnapshotRecord
	for rows.Next() {
		var (
			rec model.SnapshotRecord
			ts  string
		)
		if err := rows.Scan(&rec.ID, &ts, &rec.Tag, &rec.Path); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		t, err := parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for snapshot %s: %w", rec.ID, err)
		}
		rec.CreatedAt = t
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteSnapshot(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning state transaction: %w", err)
	}
	return &sqliteTx{tx: tx}, nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Upsert(rec model.InstalledRecord) error {
	requiresJSON, err := json.Marshal(rec.Requires)
	if err != nil {
		return fmt.Errorf("encoding requires for %s: %w", rec.Name, err)
	}
	providesJSON, err := json.Marshal(rec.Provides)
	if err != nil {
		return fmt.Errorf("encoding provides for %s: %w", rec.Name, err)
	}
	filesJSON, err := json.Marshal(rec.Files)
	if err != nil {
		return fmt.Errorf("encoding files for %s: %w", rec.Name, err)
	}
	explicit := 0
	if rec.Explicit {
		explicit = 1
	}
	_, err = t.tx.Exec(`INSERT INTO installed (name, version, release, arch, repo, installed_at, explicit, requires, provides, files)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET version=excluded.version, release=excluded.release, arch=excluded.arch,
			repo=excluded.repo, installed_at=excluded.installed_at, explicit=excluded.explicit,
			requires=excluded.requires, provides=excluded.provides, files=excluded.files`,
		rec.Name, rec.Version, rec.Release, rec.Arch, rec.RepoName, rec.InstalledAt.Format(timeLayout), explicit, requiresJSON, providesJSON, filesJSON)
	if err != nil {
		return fmt.Errorf("upserting %s: %w", rec.Name, err)
	}
	return nil
}

func (t *sqliteTx) Delete(name string) error {
	if _, err := t.tx.Exec(`DELETE FROM installed WHERE name = ?`, name); err != nil {
		return fmt.Errorf("deleting %s: %w", name, err)
	}
	return nil
}

func (t *sqliteTx) AppendHistory(entry model.HistoryEntry) error {
	packagesJSON, err := json.Marshal(entry.Packages)
	if err != nil {
		return fmt.Errorf("encoding history packages: %w", err)
	}
	_, err = t.tx.Exec(`INSERT INTO history (timestamp, kind, packages, snapshot_id) VALUES (?, ?, ?, ?)`,
		entry.Timestamp.Format(timeLayout), entry.Kind, packagesJSON, entry.SnapshotID)
	if err != nil {
		return fmt.Errorf("appending history entry: %w", err)
	}
	return nil
}

func (t *sqliteTx) Snapshot(tag, path string) (model.SnapshotRecord, error) {
	snap := model.SnapshotRecord{ID: snapshotID(), CreatedAt: now(), Tag: tag, Path: path}
	_, err := t.tx.Exec(`INSERT INTO snapshots (id, created_at, tag, path) VALUES (?, ?, ?, ?)`,
		snap.ID, snap.CreatedAt.Format(timeLayout), snap.Tag, snap.Path)
	if err != nil {
		return model.SnapshotRecord{}, fmt.Errorf("recording snapshot: %w", err)
	}
	return snap, nil
}

func (t *sqliteTx) Commit() error   { return t.tx.Commit() }
func (t *sqliteTx) Rollback() error { return t.tx.Rollback() }

const timeLayout = time.RFC3339Nano

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func snapshotID() string {
	return uuid.NewString()
}
