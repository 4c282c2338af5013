package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sitevault/sitevault/internal/atomicfile"
)

// Verification statuses.
const (
	VerifyOK           = "ok"
	VerifyMissing      = "missing"
	VerifySizeMismatch = "size_mismatch"
	VerifyHashMismatch = "hash_mismatch"
)

// VerifyResult is one manifest entry's verification outcome.
type VerifyResult struct {
	Path     string
	Status   string
	Expected string
	Actual   string
}

// VerifyReport aggregates a verification pass.
type VerifyReport struct {
	Verified   int
	Mismatches []VerifyResult
}

// OK reports whether every entry verified clean.
func (r *VerifyReport) OK() bool {
	return len(r.Mismatches) == 0
}

// Verify re-checks local files against a manifest. Read-only: it consumes
// the manifest and the destination tree, mutating neither. Size is
// checked before hash so the common corruption case (truncation) is
// caught without reading file content.
func Verify(ctx context.Context, m *Manifest, destRoot string, logger *slog.Logger) (*VerifyReport, error) {
	if logger == nil {
		logger = slog.Default()
	}

	report := &VerifyReport{}

	for _, entry := range m.Entries {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("backup: verify canceled: %w", ctx.Err())
		}

		result := verifyEntry(filepath.Join(destRoot, entry.Path), entry, logger)
		if result.Status == VerifyOK {
			report.Verified++
		} else {
			report.Mismatches = append(report.Mismatches, result)
		}
	}

	logger.Info("verification complete",
		slog.String("run_id", m.RunID),
		slog.Int("verified", report.Verified),
		slog.Int("mismatches", len(report.Mismatches)),
	)

	return report, nil
}

func verifyEntry(absPath string, entry ManifestEntry, logger *slog.Logger) VerifyResult {
	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return VerifyResult{Path: entry.Path, Status: VerifyMissing, Expected: entry.Hash}
		}

		logger.Warn("verify: stat failed",
			slog.String("path", entry.Path),
			slog.String("error", err.Error()),
		)

		return VerifyResult{Path: entry.Path, Status: VerifyMissing, Expected: entry.Hash, Actual: err.Error()}
	}

	if info.Size() != entry.Size {
		return VerifyResult{
			Path:     entry.Path,
			Status:   VerifySizeMismatch,
			Expected: strconv.FormatInt(entry.Size, 10),
			Actual:   strconv.FormatInt(info.Size(), 10),
		}
	}

	hash, err := atomicfile.HashFile(absPath)
	if err != nil {
		logger.Warn("verify: hash failed",
			slog.String("path", entry.Path),
			slog.String("error", err.Error()),
		)

		return VerifyResult{Path: entry.Path, Status: VerifyHashMismatch, Expected: entry.Hash, Actual: err.Error()}
	}

	if hash != entry.Hash {
		return VerifyResult{Path: entry.Path, Status: VerifyHashMismatch, Expected: entry.Hash, Actual: hash}
	}

	return VerifyResult{Path: entry.Path, Status: VerifyOK}
}
