package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sitevault/sitevault/internal/graph"
)

// heartbeatInterval is how many enumerated items pass between progress
// signals, so long enumerations remain observably alive.
const heartbeatInterval = 5000

// Enumeration is the outcome of walking a container's feed.
type Enumeration struct {
	// Items are live leaf candidates, deduplicated by identity, folders
	// and tombstones excluded.
	Items []graph.Item

	// Deleted are tombstoned items for state reconciliation. Local files
	// are never deleted on their account.
	Deleted []graph.Item

	// Cursor is the delta token to persist for the next run. Empty when
	// enumeration ended early — an empty cursor is never committed.
	Cursor string

	// Partial is set when a page fetch failed after items were already
	// collected; the run degrades to partial-with-warning instead of
	// aborting.
	Partial bool
	Warning string

	// Total counts every entry seen, including filtered ones.
	Total int
}

// enumerate walks the container's change feed. An empty sinceCursor walks
// everything (full mode); otherwise only changes since the cursor come
// back (incremental mode). An expired cursor transparently restarts a
// full walk. A non-zero modifiedSince drops items last modified before
// it, applied item by item after fetch — the feed is only pre-sorted by
// internal order, so the filter cannot be pushed to the server.
func (e *Engine) enumerate(ctx context.Context, driveID, sinceCursor string, modifiedSince time.Time) (*Enumeration, error) {
	enum := &Enumeration{}
	seen := make(map[string]int) // identity → index in enum.Items

	token := sinceCursor
	lastHeartbeat := 0

	e.logger.Info("enumeration started",
		slog.String("drive_id", driveID),
		slog.Bool("incremental", sinceCursor != ""),
	)

	for {
		page, err := e.remote.Delta(ctx, driveID, token)
		if err != nil {
			if errors.Is(err, graph.ErrGone) && sinceCursor != "" {
				e.logger.Warn("delta cursor expired, restarting full enumeration",
					slog.String("drive_id", driveID),
				)

				return e.enumerate(ctx, driveID, "", modifiedSince)
			}

			if enum.Total == 0 {
				return nil, fmt.Errorf("backup: enumerating %s: %w", driveID, err)
			}

			// Items already collected survive; the cursor does not.
			enum.Partial = true
			enum.Warning = fmt.Sprintf("enumeration incomplete after %d items: %s",
				enum.Total, graph.Sanitize(err.Error()))

			e.logger.Warn("page fetch failed, continuing with partial enumeration",
				slog.String("drive_id", driveID),
				slog.Int("collected", enum.Total),
				slog.String("error", graph.Sanitize(err.Error())),
			)

			return enum, nil
		}

		for _, item := range page.Items {
			enum.Total++

			switch {
			case item.IsDeleted:
				enum.Deleted = append(enum.Deleted, item)
			case item.IsFolder:
				// Containers are structure, not content.
			case !modifiedSince.IsZero() && item.ModifiedAt.Before(modifiedSince):
				// Excluded by the date filter.
			default:
				// The feed may yield the same identity on several pages;
				// the later occurrence wins so the manifest never lists
				// one identity twice.
				if idx, ok := seen[item.Key()]; ok {
					enum.Items[idx] = item
				} else {
					seen[item.Key()] = len(enum.Items)
					enum.Items = append(enum.Items, item)
				}
			}
		}

		if enum.Total-lastHeartbeat >= heartbeatInterval {
			lastHeartbeat = enum.Total

			e.logger.Info("enumeration progress",
				slog.String("drive_id", driveID),
				slog.Int("entries", enum.Total),
				slog.Int("candidates", len(enum.Items)),
			)
		}

		if page.DeltaLink != "" {
			enum.Cursor = page.DeltaLink
			break
		}

		if page.NextLink == "" {
			e.logger.Warn("feed page carried neither continuation nor completion link",
				slog.String("drive_id", driveID),
			)

			break
		}

		token = page.NextLink
	}

	e.logger.Info("enumeration complete",
		slog.String("drive_id", driveID),
		slog.Int("entries", enum.Total),
		slog.Int("candidates", len(enum.Items)),
		slog.Int("tombstones", len(enum.Deleted)),
	)

	return enum, nil
}
