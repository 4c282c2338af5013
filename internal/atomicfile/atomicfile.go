// Package atomicfile provides crash-safe file writes and content hashing.
// All durable artifacts (state, manifests, downloaded content) go through
// this package so a partial file can never appear at a final path.
package atomicfile

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// TempSuffix marks in-progress download files. A crash-recovery pass may
// safely delete anything carrying this suffix.
const TempSuffix = ".svpartial"

// dirPerm is the mode for directories created on demand.
const dirPerm = 0o755

// filePerm is the mode for files written by WriteJSON and WriteBytes.
const filePerm = 0o644

// TempPath returns the temporary sibling path for a final destination.
// The temp file lives in the same directory so the final rename is atomic
// (same filesystem).
func TempPath(finalPath string) string {
	return finalPath + TempSuffix
}

// IsTemp reports whether path carries the in-progress suffix.
func IsTemp(path string) bool {
	return filepath.Ext(path) == TempSuffix
}

// CreateTemp creates (truncating) the temporary sibling of finalPath,
// creating parent directories as needed.
func CreateTemp(finalPath string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(finalPath), dirPerm); err != nil {
		return nil, fmt.Errorf("atomicfile: creating parent directory: %w", err)
	}

	f, err := os.OpenFile(TempPath(finalPath), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return nil, fmt.Errorf("atomicfile: creating temp file: %w", err)
	}

	return f, nil
}

// Commit fsyncs, closes, and renames the temporary sibling of finalPath
// into place. Takes the open handle so the sync-close-rename sequence
// cannot be reordered by callers.
func Commit(f *os.File, finalPath string) error {
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("atomicfile: syncing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("atomicfile: closing temp file: %w", err)
	}

	if err := os.Rename(TempPath(finalPath), finalPath); err != nil {
		return fmt.Errorf("atomicfile: renaming into place: %w", err)
	}

	return nil
}

// Discard closes and removes the temporary sibling of finalPath.
// Used on failed transfers so no partial content survives the attempt.
func Discard(f *os.File, finalPath string) {
	f.Close()
	os.Remove(TempPath(finalPath))
}

// WriteBytes atomically replaces finalPath with data.
func WriteBytes(finalPath string, data []byte) error {
	f, err := CreateTemp(finalPath)
	if err != nil {
		return err
	}

	if _, err := f.Write(data); err != nil {
		Discard(f, finalPath)
		return fmt.Errorf("atomicfile: writing temp file: %w", err)
	}

	return Commit(f, finalPath)
}

// WriteJSON atomically replaces finalPath with the indented JSON encoding of v.
func WriteJSON(finalPath string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("atomicfile: encoding JSON: %w", err)
	}

	return WriteBytes(finalPath, append(data, '\n'))
}

// HashFile returns the hex-encoded SHA-256 of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("atomicfile: opening file for hashing: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("atomicfile: hashing file: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// CleanupTemps removes all in-progress temp files under root. Called at run
// start so a crashed previous run leaves no debris behind.
// Returns the number of files removed.
func CleanupTemps(root string) (int, error) {
	removed := 0

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}

			return err
		}

		if d.IsDir() || !IsTemp(path) {
			return nil
		}

		if rmErr := os.Remove(path); rmErr != nil {
			return rmErr
		}

		removed++

		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return removed, fmt.Errorf("atomicfile: cleaning temp files: %w", err)
	}

	return removed, nil
}
