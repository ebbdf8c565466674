// Package txn implements the transaction engine: the
// end-to-end install/remove/upgrade pipeline — acquire the system lock,
// snapshot what a transaction is about to touch, verify and extract
// incoming containers, merge them into the root under a conflict policy,
// dispatch hooks, and update the state store — rolling the filesystem and
// database back to their pre-transaction state on any failure. The Engine
// built by New applies a plan's per-package steps one after another and
// stops at the first error.
package txn

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/lpm-project/lpm/internal/atomicio"
	"github.com/lpm-project/lpm/internal/config"
	"github.com/lpm-project/lpm/internal/hooks"
	"github.com/lpm-project/lpm/internal/model"
	"github.com/lpm-project/lpm/internal/resolve"
	"github.com/lpm-project/lpm/internal/store"
)

// Source fetches a package's container artifact and its optional detached
// signature — the engine's only dependency on where packages come from (a
// repository HTTP/file fetch, the build pipeline's own output directory, or
// a single local file for `installpkg`).
type Source interface {
	Open(ctx context.Context, pkg model.PkgMeta) (container io.ReadCloser, sig []byte, err error)
}

// Engine drives install/remove/upgrade transactions against a root.
type Engine struct {
	cfg       config.Config
	store     store.Store
	source    Source
	hookRun   *hooks.Runner
	policy    ConflictPolicy
	verifyKey ed25519.PublicKey
	logger    *slog.Logger
	protected map[string]bool
}

// ProtectedPackageError reports that name is listed in protected.json and
// the caller didn't pass --force.
type ProtectedPackageError struct {
	Name string
}

func (e *ProtectedPackageError) Error() string {
	return fmt.Sprintf("%s is protected and cannot be installed or removed without --force", e.Name)
}

// ArchMismatchError reports a container built for an architecture the host
// cannot run.
type ArchMismatchError struct {
	Package string
	Want    string
	Got     string
}

func (e *ArchMismatchError) Error() string {
	return fmt.Sprintf("%s is built for %s, host is %s", e.Package, e.Got, e.Want)
}

// New builds a transaction Engine. A nil logger falls back to slog.Default
// and a nil policy falls back to AbortPolicy, so callers aren't required to
// supply every optional collaborator. The protected-package list is
// loaded best-effort from cfg.Paths().ProtectedJSON; a missing file just
// means nothing is protected yet.
func New(cfg config.Config, st store.Store, src Source, hookList []hooks.Hook, verifyKey ed25519.PublicKey, policy ConflictPolicy, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == nil {
		policy = AbortPolicy{}
	}
	protected, err := config.LoadProtected(cfg.Paths().ProtectedJSON)
	if err != nil {
		logger.Warn("ignoring unreadable protected package list", "error", err)
		protected = map[string]bool{}
	}
	return &Engine{
		cfg:       cfg,
		store:     st,
		source:    src,
		hookRun:   hooks.NewRunner(hookList, cfg.Root, nil, logger),
		policy:    policy,
		verifyKey: verifyKey,
		logger:    logger,
		protected: protected,
	}
}

// checkProtected refuses to proceed against a protected package unless the
// caller passed --force.
func (e *Engine) checkProtected(name string) error {
	if e.protected[name] && !e.cfg.Force {
		return &ProtectedPackageError{Name: name}
	}
	return nil
}

// Result summarizes a completed transaction for the CLI to report.
type Result struct {
	Installed  []string
	Removed    []string
	SnapshotID string
}

// Kind names the transaction for history bookkeeping and the snapshot tag.
type Kind string

const (
	KindInstall Kind = "install"
	KindRemove  Kind = "remove"
	KindUpgrade Kind = "upgrade"
)

// Execute runs plan as a single atomic transaction: lock, snapshot,
// apply removals then installs, dispatch hooks, commit. Any failure rolls
// the store transaction back and restores the filesystem from the
// in-memory snapshot before returning the error.
func (e *Engine) Execute(ctx context.Context, plan resolve.Plan, explicit map[string]bool) (*Result, error) {
	if err := e.cfg.CheckPrivileges(); err != nil {
		return nil, err
	}

	for _, name := range plan.Remove {
		if err := e.checkProtected(name); err != nil {
			return nil, err
		}
	}
	for _, pkg := range plan.Install {
		if err := e.checkProtected(pkg.Name); err != nil {
			return nil, err
		}
	}

	if e.cfg.DryRun {
		return e.dryRun(plan), nil
	}

	lock, err := atomicio.Acquire(e.cfg.Paths().LockFile)
	if err != nil {
		return nil, fmt.Errorf("acquiring transaction lock: %w", err)
	}
	defer lock.Release()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning store transaction: %w", err)
	}

	snap, err := newSnapshot(e.cfg)
	if err != nil {
		return nil, fmt.Errorf("preparing snapshot: %w", err)
	}

	result, err := e.apply(ctx, tx, plan, explicit, snap)
	if err != nil {
		e.logger.Error("transaction failed, rolling back", "error", err)
		tx.Rollback()
		if restoreErr := snap.restore(); restoreErr != nil {
			e.logger.Error("snapshot restore failed", "error", restoreErr)
			return nil, fmt.Errorf("%w (additionally, restoring filesystem snapshot failed: %v)", err, restoreErr)
		}
		return nil, err
	}

	if err := snap.archive(); err != nil {
		tx.Rollback()
		snap.restore()
		return nil, fmt.Errorf("archiving snapshot: %w", err)
	}

	snapRecord, err := tx.Snapshot(string(planKind(plan)), snap.archivePath)
	if err != nil {
		tx.Rollback()
		snap.restore()
		return nil, fmt.Errorf("recording snapshot: %w", err)
	}

	if err := tx.AppendHistory(model.HistoryEntry{
		Timestamp:  time.Now(),
		Kind:       string(planKind(plan)),
		Packages:   append(append([]string{}, result.Installed...), result.Removed...),
		SnapshotID: snapRecord.ID,
	}); err != nil {
		tx.Rollback()
		snap.restore()
		return nil, fmt.Errorf("appending history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		snap.restore()
		return nil, fmt.Errorf("committing store transaction: %w", err)
	}

	result.SnapshotID = snapRecord.ID
	return result, nil
}

func (e *Engine) dryRun(plan resolve.Plan) *Result {
	result := &Result{}
	for _, name := range plan.Remove {
		e.logger.Info("dry-run: would remove", "package", name)
		result.Removed = append(result.Removed, name)
	}
	for _, pkg := range plan.Install {
		e.logger.Info("dry-run: would install", "package", pkg.Key())
		result.Installed = append(result.Installed, pkg.Key())
	}
	return result
}

func planKind(plan resolve.Plan) Kind {
	switch {
	case len(plan.Install) > 0 && len(plan.Remove) > 0:
		return KindUpgrade
	case len(plan.Install) > 0:
		return KindInstall
	default:
		return KindRemove
	}
}

// apply stages the whole transaction before mutating anything: every
// container is fetched, verified and extracted and every removal's record
// looked up first, so a package that fails verification aborts before any
// file has moved. PreTransaction hooks then run once over the whole event
// batch, the filesystem and store mutations land in plan order, and
// PostTransaction hooks run once at the end.
func (e *Engine) apply(ctx context.Context, tx store.Tx, plan resolve.Plan, explicit map[string]bool, snap *snapshot) (*Result, error) {
	result := &Result{}

	removals := make([]preparedRemove, 0, len(plan.Remove))
	for _, name := range plan.Remove {
		pr, err := e.prepareRemove(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("removing %s: %w", name, err)
		}
		removals = append(removals, pr)
	}

	installs := make([]preparedInstall, 0, len(plan.Install))
	for _, pkg := range plan.Install {
		pi, err := e.prepareInstall(ctx, pkg)
		if err != nil {
			return nil, fmt.Errorf("installing %s: %w", pkg.Key(), err)
		}
		installs = append(installs, pi)
	}

	events := make([]hooks.Event, 0, len(removals)+len(installs))
	for _, pr := range removals {
		events = append(events, pr.event())
	}
	for _, pi := range installs {
		events = append(events, pi.event())
	}

	if err := e.hookRun.DispatchBatch(ctx, "PreTransaction", events); err != nil {
		return nil, err
	}

	for _, pr := range removals {
		if err := e.removeFiles(tx, pr, snap); err != nil {
			return nil, fmt.Errorf("removing %s: %w", pr.rec.Name, err)
		}
		result.Removed = append(result.Removed, pr.rec.Name)
	}

	for _, pi := range installs {
		if err := e.installFiles(ctx, tx, pi, explicit[pi.pkg.Name], snap); err != nil {
			return nil, fmt.Errorf("installing %s: %w", pi.pkg.Key(), err)
		}
		result.Installed = append(result.Installed, pi.pkg.Key())
	}

	if err := e.hookRun.DispatchBatch(ctx, "PostTransaction", events); err != nil {
		return nil, err
	}

	var touched []string
	for _, ev := range events {
		touched = append(touched, ev.Paths...)
	}
	e.refreshServices(ctx, touched)

	return result, nil
}
