// Package patch applies vetted source patches into a project's installed
// dependency tree. Every payload is untrusted until its hashes verify, and
// application is all-or-nothing per record: the before-hash gate runs over
// every file before the first write, and any post-write mismatch rolls back
// everything already written for that record.
package patch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/socketsecurity/sockpatch/pkg/backup"
	"github.com/socketsecurity/sockpatch/pkg/integrity"
	"github.com/socketsecurity/sockpatch/pkg/manifest"
	"github.com/socketsecurity/sockpatch/pkg/types"
	"github.com/socketsecurity/sockpatch/pkg/utils"
)

// DefaultConcurrency bounds how many patch records are processed at once.
// Records touch disjoint file sets, so only the manifest needs serializing,
// and that happens in memory with one write-back at the end of the run.
const DefaultConcurrency = 4

// For testing.
var readFile = os.ReadFile

// Applier runs the patch workflow for one project. It holds explicit
// handles to the manifest store and backup manager rather than reaching for
// ambient state.
type Applier struct {
	root        string
	store       *manifest.Store
	backups     *backup.Manager
	Concurrency int
}

func NewApplier(projectRoot string, store *manifest.Store, backups *backup.Manager) *Applier {
	return &Applier{
		root:        projectRoot,
		store:       store,
		backups:     backups,
		Concurrency: DefaultConcurrency,
	}
}

// fileOp is one planned file mutation, fully validated before any write.
type fileOp struct {
	rel     string // record-relative path
	abs     string // absolute path of the installed file
	current []byte
	staged  []byte
	after   string // expected hash of staged content
}

// Apply validates and applies the selected patch records. An empty selector
// list means every eligible record. Per-record problems land in the
// result's Failures; only manifest-level problems are returned as an error.
func (a *Applier) Apply(ctx context.Context, selectors []string, dryRun bool) (*types.ApplyResult, error) {
	candidates, preFailures, err := a.selectCandidates(selectors)
	if err != nil {
		return nil, err
	}

	result := &types.ApplyResult{DryRun: dryRun, Failures: preFailures}
	var mu sync.Mutex

	limit := a.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	g := new(errgroup.Group)
	g.SetLimit(limit)

	for id, rec := range candidates {
		id, rec := id, rec
		g.Go(func() error {
			// Cancellation is honored between records only; once a record's
			// write phase starts it runs to success or rollback.
			if err := ctx.Err(); err != nil {
				return err
			}
			failure := a.processRecord(id, rec, dryRun)
			mu.Lock()
			defer mu.Unlock()
			if failure != nil {
				result.Failures = append(result.Failures, *failure)
			} else {
				result.Patched = append(result.Patched, id)
			}
			return nil
		})
	}
	runErr := g.Wait()

	if !dryRun {
		if err := a.store.Write(); err != nil {
			return nil, err
		}
	}
	if runErr != nil {
		return nil, runErr
	}

	sort.Strings(result.Patched)
	sort.Slice(result.Failures, func(i, j int) bool { return result.Failures[i].ID < result.Failures[j].ID })

	log.Infof("Patch run complete: %d patched, %d failed", len(result.Patched), len(result.Failures))
	return result, nil
}

// selectCandidates maps selectors to manifest records. Unknown or
// already-terminal selections become per-record failures, not run errors.
func (a *Applier) selectCandidates(selectors []string) (map[string]types.PatchRecord, []types.Failure, error) {
	records := a.store.Records()

	if len(selectors) == 0 {
		candidates := make(map[string]types.PatchRecord)
		for id, rec := range records {
			if rec.Eligible() {
				candidates[id] = rec
			}
		}
		return candidates, nil, nil
	}

	candidates := make(map[string]types.PatchRecord)
	var failures []types.Failure
	for _, sel := range selectors {
		id, err := NormalizeSelector(sel)
		if err != nil {
			failures = append(failures, types.Failure{ID: sel, Reason: err.Error()})
			continue
		}
		rec, ok := records[id]
		if !ok {
			failures = append(failures, types.Failure{ID: id, Reason: "no patch record in manifest"})
			continue
		}
		if !rec.Eligible() {
			failures = append(failures, types.Failure{
				ID:     id,
				Reason: fmt.Sprintf("record status is %q; re-download to make it eligible", rec.Status),
			})
			continue
		}
		candidates[id] = rec
	}
	return candidates, failures, nil
}

// processRecord runs the gate and write phases for one record and performs
// its status transition. A nil return means the record was patched (or, in
// dry-run, would be).
func (a *Applier) processRecord(id string, rec types.PatchRecord, dryRun bool) *types.Failure {
	logger := log.WithField("patch", id)

	ops, appliedTo, err := a.gate(id, rec)
	if err != nil {
		logger.Warnf("Validation failed: %v", err)
		// Only an integrity mismatch is a terminal verdict on the record.
		// Environment problems (package not installed, content not staged)
		// leave the status untouched so the record stays retryable once the
		// user fixes their tree.
		var intErr *integrity.IntegrityError
		if !dryRun && errors.As(err, &intErr) {
			a.markFailed(id)
		}
		return &types.Failure{ID: id, Reason: err.Error()}
	}

	if dryRun {
		logger.Infof("Dry run: %d files across %d install locations would be patched", len(ops), len(appliedTo))
		return nil
	}

	if err := a.write(rec.UUID, ops); err != nil {
		logger.Warnf("Apply failed: %v", err)
		a.markFailed(id)
		return &types.Failure{ID: id, Reason: err.Error()}
	}

	now := types.Timestamp(time.Now())
	a.store.Update(id, func(r *types.PatchRecord) {
		r.Status = types.StatusApplied
		r.AppliedAt = now
		r.AppliedTo = appliedTo
	})
	logger.Infof("Patched %d files across %d install locations", len(ops), len(appliedTo))
	return nil
}

func (a *Applier) markFailed(id string) {
	a.store.Update(id, func(r *types.PatchRecord) {
		r.Status = types.StatusFailed
	})
}

// gate resolves the record's install locations and validates every file --
// current bytes against beforeHash, staged bytes against afterHash --
// before a single write happens. It returns the planned ops and the install
// locations (project-relative) they cover.
func (a *Applier) gate(id string, rec types.PatchRecord) ([]fileOp, []string, error) {
	pkgID, err := ParsePackageID(id)
	if err != nil {
		return nil, nil, err
	}
	if rec.UUID == "" {
		return nil, nil, ErrNoUUID
	}
	if len(rec.Files) == 0 {
		return nil, nil, fmt.Errorf("record has no files to apply")
	}

	installs, err := ResolveInstallPaths(a.root, pkgID)
	if err != nil {
		return nil, nil, err
	}
	sort.Strings(installs)

	rels := make([]string, 0, len(rec.Files))
	for rel := range rec.Files {
		rels = append(rels, rel)
	}
	sort.Strings(rels)

	var ops []fileOp
	for _, install := range installs {
		for _, rel := range rels {
			fi := rec.Files[rel]
			abs := filepath.Join(a.root, install, filepath.FromSlash(rel))

			current, err := readFile(abs)
			if err != nil {
				return nil, nil, fmt.Errorf("reading %s: %w", abs, err)
			}
			if !integrity.Validate(current, fi.BeforeHash) {
				return nil, nil, fmt.Errorf("%s: %w", rel, &integrity.IntegrityError{Hash: fi.BeforeHash, Stage: "before"})
			}

			staged, err := ReadStaged(a.root, rec.UUID, rel)
			if err != nil {
				return nil, nil, err
			}
			if !integrity.Validate(staged, fi.AfterHash) {
				return nil, nil, fmt.Errorf("%s: staged content: %w", rel, &integrity.IntegrityError{Hash: fi.AfterHash, Stage: "after"})
			}

			logDiffStat(rel, current, staged)
			ops = append(ops, fileOp{rel: rel, abs: abs, current: current, staged: staged, after: fi.AfterHash})
		}
	}
	return ops, installs, nil
}

// write executes the planned ops: snapshot, replace, re-verify. The first
// failure restores every file written so far, in reverse order, and the
// record is reported failed.
func (a *Applier) write(patchUUID string, ops []fileOp) error {
	var written []fileOp
	rollback := func() {
		restored := true
		for i := len(written) - 1; i >= 0; i-- {
			if err := a.backups.Restore(patchUUID, written[i].abs); err != nil {
				log.Errorf("Rollback of %s failed: %v", written[i].abs, err)
				restored = false
			}
		}
		// Once every file is back to its original bytes the snapshots have
		// served their purpose. If any restore failed they stay on disk as
		// the only recovery copy.
		if restored {
			if err := a.backups.Cleanup(patchUUID); err != nil {
				log.Errorf("Removing backups for %s after rollback failed: %v", patchUUID, err)
			}
		}
	}

	for _, op := range ops {
		if err := a.backups.Snapshot(patchUUID, op.abs, op.current); err != nil {
			rollback()
			return fmt.Errorf("snapshotting %s: %w", op.rel, err)
		}
		if err := utils.WriteFileAtomic(op.abs, op.staged, 0o644); err != nil {
			rollback()
			return fmt.Errorf("writing %s: %w", op.rel, err)
		}
		written = append(written, op)

		// Re-read what actually landed on disk before trusting it.
		onDisk, err := readFile(op.abs)
		if err != nil {
			rollback()
			return fmt.Errorf("re-reading %s: %w", op.rel, err)
		}
		if !integrity.Validate(onDisk, op.after) {
			rollback()
			return fmt.Errorf("%s: written content: %w", op.rel, &integrity.IntegrityError{Hash: op.after, Stage: "after"})
		}
	}
	return nil
}

// logDiffStat logs an insertion/deletion summary of the pending change at
// debug level.
func logDiffStat(rel string, current, staged []byte) {
	if !log.IsLevelEnabled(log.DebugLevel) {
		return
	}
	dmp := diffmatchpatch.New()
	var ins, del int
	for _, d := range dmp.DiffMain(string(current), string(staged), true) {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			ins += len(d.Text)
		case diffmatchpatch.DiffDelete:
			del += len(d.Text)
		}
	}
	log.Debugf("%s: +%d/-%d bytes", rel, ins, del)
}
