package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sitevault/sitevault/internal/atomicfile"
)

// manifestPrefix names manifest files: manifest-<runID>.json. Run IDs are
// ULIDs, so lexical order is creation order.
const manifestPrefix = "manifest-"

// ManifestTarget identifies what a run backed up.
type ManifestTarget struct {
	DriveID string `json:"drive_id"`
	ItemID  string `json:"item_id"`
	Name    string `json:"name"`
	Path    string `json:"path,omitempty"`
}

// ManifestEntry records one transferred file.
type ManifestEntry struct {
	Path     string `json:"path"` // relative to the destination root
	Hash     string `json:"hash"` // sha256, hex
	Size     int64  `json:"size"`
	SourceID string `json:"source_id"` // remote identity: driveID:itemID
}

// Manifest is the durable, append-free record of one run. Written once,
// atomically, at run end — also after a partially successful run. The
// verification pass consumes it and never mutates it.
type Manifest struct {
	RunID     string         `json:"run_id"`
	CreatedAt time.Time      `json:"created_at"`
	Target    ManifestTarget `json:"target"`

	Candidates  int `json:"candidates"`
	Transferred int `json:"transferred"`
	Skipped     int `json:"skipped"`
	Failed      int `json:"failed"`

	Entries []ManifestEntry `json:"entries"`
}

// NewRunID returns a fresh ULID for a run.
func NewRunID() string {
	return ulid.Make().String()
}

// WriteManifest persists m into dir and returns the file path.
func WriteManifest(dir string, m *Manifest) (string, error) {
	if m.RunID == "" {
		return "", fmt.Errorf("backup: manifest has no run ID")
	}

	// Deterministic order for diffing manifests across runs.
	sort.Slice(m.Entries, func(i, j int) bool { return m.Entries[i].Path < m.Entries[j].Path })

	path := filepath.Join(dir, manifestPrefix+m.RunID+".json")
	if err := atomicfile.WriteJSON(path, m); err != nil {
		return "", fmt.Errorf("backup: writing manifest: %w", err)
	}

	return path, nil
}

// LoadManifest reads a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("backup: reading manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("backup: parsing manifest %s: %w", path, err)
	}

	return &m, nil
}

// LatestManifest returns the path of the newest manifest in dir.
// ULID run IDs make the lexically greatest name the newest.
func LatestManifest(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("backup: listing manifests: %w", err)
	}

	latest := ""
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, manifestPrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}

		if name > latest {
			latest = name
		}
	}

	if latest == "" {
		return "", fmt.Errorf("backup: no manifests found in %s", dir)
	}

	return filepath.Join(dir, latest), nil
}
