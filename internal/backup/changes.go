package backup

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sitevault/sitevault/internal/graph"
	"github.com/sitevault/sitevault/internal/state"
)

// skipReason explains why an item was skipped, for the structured log.
type skipReason string

const (
	reasonFingerprintMatch skipReason = "fingerprint_match"
	reasonHashMatch        skipReason = "hash_match"
)

// shouldTransfer decides skip-vs-transfer for one item against the stored
// container state.
//
// Default rule: transfer unless a stored fingerprint exists for this
// identity, equals the item's current fingerprint, and force-refresh was
// not requested. A fingerprint match is authoritative only when both
// sides actually have one; otherwise the decision falls back to comparing
// the remote content hash against a recomputed hash of the previously
// downloaded artifact.
func (e *Engine) shouldTransfer(item graph.Item, cs state.ContainerState) (bool, skipReason) {
	if e.opts.Force {
		return true, ""
	}

	stored, ok := cs.Items[item.ID]
	if !ok {
		return true, ""
	}

	if stored.Fingerprint != "" && item.CTag != "" {
		if stored.Fingerprint == item.CTag {
			return false, reasonFingerprintMatch
		}

		return true, ""
	}

	// Fingerprint unreliable for this item class — require a hash
	// comparison instead. The hash recorded at transfer time settles it
	// without touching the disk; failing that, recompute from the prior
	// download.
	if item.QuickXor != "" {
		if stored.RemoteHash != "" {
			if stored.RemoteHash == item.QuickXor {
				return false, reasonHashMatch
			}

			return true, ""
		}

		if stored.Path != "" {
			local, err := e.hashLocal(filepath.Join(e.opts.DestRoot, stored.Path))
			if err != nil {
				e.logger.Debug("prior artifact unavailable for hash comparison",
					slog.String("path", stored.Path),
					slog.String("error", err.Error()),
				)

				return true, ""
			}

			if local == item.QuickXor {
				return false, reasonHashMatch
			}

			return true, ""
		}
	}

	return true, ""
}

// containerUnchanged implements the whole-container shortcut: when the
// container's aggregate fingerprint matches the last run's and no date
// filter narrows the set, per-item enumeration can be skipped entirely.
func (e *Engine) containerUnchanged(root *graph.Item, cs state.ContainerState) bool {
	if e.opts.Force || !e.opts.ModifiedSince.IsZero() {
		return false
	}

	return cs.Cursor != "" && cs.ContainerTag != "" && cs.ContainerTag == root.CTag
}

// hashLocalQuickXor recomputes the QuickXorHash of a previously
// downloaded artifact, base64-encoded the way the service reports it.
func hashLocalQuickXor(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return quickXorOf(f)
}
