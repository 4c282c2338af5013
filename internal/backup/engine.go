// Package backup is the synchronization core: it enumerates a remote
// container, filters candidates against persisted state, pulls the
// residual set through a bounded worker pool with atomic writes, and
// records the outcome in a durable manifest.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sitevault/sitevault/internal/atomicfile"
	"github.com/sitevault/sitevault/internal/graph"
	"github.com/sitevault/sitevault/internal/state"
)

// defaultWorkers bounds transfer concurrency when unconfigured. Requests
// are further gated by the transport's shared in-flight cap.
const defaultWorkers = 4

// ErrPartialFailure reports a run in which some items failed terminally.
// The run is complete and its manifest written; the process exit signal
// must reflect partial failure rather than success or total failure.
var ErrPartialFailure = errors.New("backup: run completed with failures")

// Remote is the slice of the graph client the engine consumes.
type Remote interface {
	Delta(ctx context.Context, driveID, token string) (*graph.DeltaPage, error)
	GetRootItem(ctx context.Context, driveID string) (*graph.Item, error)
	Download(ctx context.Context, driveID, itemID string, w io.Writer) (int64, error)
}

// Options configure a run.
type Options struct {
	DestRoot    string
	ManifestDir string

	// Workers bounds concurrent transfers. Zero means defaultWorkers.
	Workers int

	// Force re-transfers items whose fingerprints are unchanged.
	Force bool

	// ModifiedSince excludes items last modified before it. Zero = no filter.
	ModifiedSince time.Time

	// DryRun decides and reports without transferring or mutating state.
	DryRun bool
}

// Failure pairs a failed item with its classified error, reported at run end.
type Failure struct {
	RelPath string
	ItemID  string
	Err     error
}

// Report summarizes one run.
type Report struct {
	RunID  string
	Target ManifestTarget

	Candidates  int
	Transferred int
	Skipped     int
	Failed      int
	Bytes       int64

	// Unchanged is set when the whole-container shortcut fired.
	Unchanged bool

	// Partial carries the enumeration degradation warning, if any.
	Partial bool
	Warning string

	Failures     []Failure
	ManifestPath string
	Duration     time.Duration
}

// Engine runs backups.
type Engine struct {
	remote Remote
	store  *state.Store
	opts   Options
	logger *slog.Logger

	// hashLocal recomputes a prior artifact's QuickXorHash for the
	// change-detection fallback. Tests substitute it.
	hashLocal func(path string) (string, error)

	// retryInterval seeds the item-level backoff. Tests shrink it.
	retryInterval time.Duration
}

// NewEngine creates an Engine.
func NewEngine(remote Remote, store *state.Store, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}

	return &Engine{
		remote:        remote,
		store:         store,
		opts:          opts,
		logger:        logger,
		hashLocal:     hashLocalQuickXor,
		retryInterval: transferInitialInterval,
	}
}

// Run backs up the target item (a container root, a folder, or a single
// file). One bad item never aborts the run: item failures are collected
// and surfaced as ErrPartialFailure at the end. Errors other than
// ErrPartialFailure are run-terminal.
func (e *Engine) Run(ctx context.Context, target *graph.Item) (*Report, error) {
	start := time.Now()

	report := &Report{
		RunID: NewRunID(),
		Target: ManifestTarget{
			DriveID: target.DriveID,
			ItemID:  target.ID,
			Name:    target.Name,
			Path:    target.Path,
		},
	}

	// A crashed previous run may have left temp files behind.
	if !e.opts.DryRun {
		if removed, err := atomicfile.CleanupTemps(e.opts.DestRoot); err != nil {
			e.logger.Warn("temp cleanup failed", slog.String("error", err.Error()))
		} else if removed > 0 {
			e.logger.Info("removed stale temp files", slog.Int("count", removed))
		}
	}

	stateKey := target.Key()
	cs := e.store.Container(stateKey)

	root, err := e.remote.GetRootItem(ctx, target.DriveID)
	if err != nil {
		return nil, fmt.Errorf("backup: reading container root: %w", err)
	}

	if e.containerUnchanged(root, cs) {
		e.logger.Info("container unchanged, nothing to do",
			slog.String("drive_id", target.DriveID),
			slog.String("container_tag", root.CTag),
		)

		report.Unchanged = true
		report.Duration = time.Since(start)

		return report, nil
	}

	enum, err := e.enumerate(ctx, target.DriveID, cs.Cursor, e.opts.ModifiedSince)
	if err != nil {
		return nil, err
	}

	report.Partial = enum.Partial
	report.Warning = enum.Warning

	// Tombstones update tracking state only; local files stay.
	if !e.opts.DryRun {
		for _, gone := range enum.Deleted {
			if err := e.store.RecordDeletion(stateKey, gone.ID); err != nil {
				return nil, err
			}
		}
	}

	candidates := e.filterCandidates(enum.Items, target, cs, report)
	report.Candidates = len(enum.Items)

	if e.opts.DryRun {
		report.Transferred = len(candidates)
		report.Duration = time.Since(start)

		return report, nil
	}

	// Workers persist each success as it lands; losing the state store
	// mid-phase is run-terminal, surfaced after the manifest is written.
	results, runTerminal := e.transferAll(ctx, stateKey, candidates)

	manifest := &Manifest{
		RunID:     report.RunID,
		CreatedAt: time.Now().UTC(),
		Target:    report.Target,
	}

	for _, res := range results {
		if !res.Success {
			report.Failed++
			report.Failures = append(report.Failures, Failure{
				RelPath: res.RelPath,
				ItemID:  res.Item.ID,
				Err:     res.Err,
			})

			continue
		}

		report.Transferred++
		report.Bytes += res.Bytes

		manifest.Entries = append(manifest.Entries, ManifestEntry{
			Path:     res.RelPath,
			Hash:     res.Hash,
			Size:     res.Bytes,
			SourceID: res.Item.Key(),
		})
	}

	manifest.Candidates = report.Candidates
	manifest.Transferred = report.Transferred
	manifest.Skipped = report.Skipped
	manifest.Failed = report.Failed

	manifestPath, mErr := WriteManifest(e.opts.ManifestDir, manifest)
	if mErr != nil {
		if runTerminal == nil {
			runTerminal = mErr
		}
	} else {
		report.ManifestPath = manifestPath
	}

	if runTerminal != nil {
		return report, runTerminal
	}

	// The cursor advances only when the walk finished cleanly and no
	// item failed: a failed item must reappear in the next enumeration
	// rather than silently dropping out of the delta window.
	if enum.Cursor != "" && report.Failed == 0 {
		if err := e.store.CommitCursor(stateKey, enum.Cursor, root.CTag); err != nil {
			return report, err
		}
	}

	report.Duration = time.Since(start)

	e.logger.Info("run complete",
		slog.String("run_id", report.RunID),
		slog.Int("transferred", report.Transferred),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
		slog.Int64("bytes", report.Bytes),
	)

	if report.Failed > 0 {
		return report, ErrPartialFailure
	}

	return report, nil
}

// filterCandidates narrows enumerated items to the target's subtree and
// drops items whose stored fingerprints still match.
func (e *Engine) filterCandidates(items []graph.Item, target *graph.Item, cs state.ContainerState, report *Report) []graph.Item {
	prefix := ""
	if target.Path != "" && target.IsFolder {
		prefix = target.Path + "/"
	}

	var out []graph.Item

	for _, item := range items {
		// A single-file target transfers exactly that identity.
		if !target.IsFolder && item.ID != target.ID {
			continue
		}

		if prefix != "" && !strings.HasPrefix(item.Path, prefix) {
			continue
		}

		transfer, reason := e.shouldTransfer(item, cs)
		if !transfer {
			report.Skipped++

			e.logger.Debug("item skipped",
				slog.String("item_id", item.ID),
				slog.String("path", item.Path),
				slog.String("reason", string(reason)),
			)

			continue
		}

		out = append(out, item)
	}

	return out
}

// transferAll drains the candidate queue through a bounded worker pool.
// A failed item is data, not a fault, so it never cancels its siblings.
// Each worker flushes its item's fingerprint to the state store the
// moment the transfer lands, so a crash mid-phase keeps every completed
// item marked done. The only error workers surface is a state-store
// write failure, which is run-terminal and stops the phase.
func (e *Engine) transferAll(ctx context.Context, stateKey string, candidates []graph.Item) ([]TransferResult, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	e.logger.Info("transfers starting",
		slog.Int("count", len(candidates)),
		slog.Int("workers", e.opts.Workers),
	)

	results := make([]TransferResult, 0, len(candidates))

	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)

	for _, item := range candidates {
		item := item
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			res := e.transferItem(gctx, item)

			mu.Lock()
			results = append(results, res)
			mu.Unlock()

			if !res.Success {
				return nil
			}

			// The stored fingerprint must only ever reflect a version
			// that fully transferred.
			return e.store.RecordTransfer(stateKey, res.Item.ID, state.ItemState{
				Fingerprint: res.Item.CTag,
				ContentHash: res.Hash,
				RemoteHash:  res.RemoteHash,
				Path:        res.RelPath,
				SyncedAt:    time.Now().UTC(),
			})
		})
	}

	return results, g.Wait()
}
