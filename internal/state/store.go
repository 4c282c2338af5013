// Package state persists per-container sync state between runs: the
// enumeration cursor plus one fingerprint record per successfully
// transferred item. The whole state lives in a single JSON document
// replaced atomically on every flush, so a crash can never leave a
// half-written record.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/sitevault/sitevault/internal/atomicfile"
)

// ItemState records the last successfully transferred version of one item.
// Fingerprint is only ever written after the transfer landed, so it never
// reflects a version that failed mid-transfer.
type ItemState struct {
	Fingerprint string    `json:"fingerprint"`
	ContentHash string    `json:"content_hash,omitempty"`
	RemoteHash  string    `json:"remote_hash,omitempty"`
	Path        string    `json:"path"`
	SyncedAt    time.Time `json:"synced_at"`
}

// ContainerState is one tracked container's record.
type ContainerState struct {
	Cursor       string               `json:"cursor,omitempty"`
	ContainerTag string               `json:"container_tag,omitempty"`
	Items        map[string]ItemState `json:"items"`
	LastSyncAt   time.Time            `json:"last_sync_at"`
}

// document is the on-disk shape: one object per tracked container key.
type document struct {
	Version    int                        `json:"version"`
	Containers map[string]*ContainerState `json:"containers"`
}

const documentVersion = 1

// Store serializes all mutations behind a mutex and flushes by atomic
// replace. Update volume is bounded by transfer concurrency, so a plain
// read-modify-write-persist under one lock is enough.
type Store struct {
	path   string
	logger *slog.Logger

	mu  sync.Mutex
	doc document

	// writeFunc performs the atomic replace. Tests inject failures.
	writeFunc func(path string, v any) error
}

// Open loads the state document at path, creating an empty one in memory
// if the file does not exist yet (first run). A file that exists but does
// not parse is a run-terminal error, not something to silently reset.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		path:      path,
		logger:    logger,
		writeFunc: atomicfile.WriteJSON,
		doc: document{
			Version:    documentVersion,
			Containers: make(map[string]*ContainerState),
		},
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Info("no existing state, starting fresh", slog.String("path", path))
		return s, nil
	}

	if err != nil {
		return nil, fmt.Errorf("state: reading %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("state: parsing %s: %w", path, err)
	}

	if s.doc.Containers == nil {
		s.doc.Containers = make(map[string]*ContainerState)
	}

	logger.Debug("state loaded",
		slog.String("path", path),
		slog.Int("containers", len(s.doc.Containers)),
	)

	return s, nil
}

// Container returns a deep copy of the state for key, or an empty record
// if the container has never completed a run.
func (s *Store) Container(key string) ContainerState {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.doc.Containers[key]
	if !ok {
		return ContainerState{Items: make(map[string]ItemState)}
	}

	out := ContainerState{
		Cursor:       cs.Cursor,
		ContainerTag: cs.ContainerTag,
		LastSyncAt:   cs.LastSyncAt,
		Items:        make(map[string]ItemState, len(cs.Items)),
	}

	for id, it := range cs.Items {
		out.Items[id] = it
	}

	return out
}

// RecordTransfer stores the fingerprint of a successfully transferred item
// and flushes. Called once per completed transfer, from multiple workers.
func (s *Store) RecordTransfer(key, itemID string, st ItemState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs := s.containerLocked(key)
	cs.Items[itemID] = st

	return s.flushLocked()
}

// RecordDeletion drops an item's record after the remote reports it
// tombstoned. Local files are never deleted; only the tracking entry goes.
func (s *Store) RecordDeletion(key, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs := s.containerLocked(key)
	if _, ok := cs.Items[itemID]; !ok {
		return nil
	}

	delete(cs.Items, itemID)

	return s.flushLocked()
}

// CommitCursor persists the next-run cursor and container tag. Called only
// after enumeration completed without unrecoverable error.
func (s *Store) CommitCursor(key, cursor, containerTag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs := s.containerLocked(key)
	cs.Cursor = cursor
	cs.ContainerTag = containerTag
	cs.LastSyncAt = time.Now().UTC()

	return s.flushLocked()
}

func (s *Store) containerLocked(key string) *ContainerState {
	cs, ok := s.doc.Containers[key]
	if !ok {
		cs = &ContainerState{Items: make(map[string]ItemState)}
		s.doc.Containers[key] = cs
	}

	return cs
}

func (s *Store) flushLocked() error {
	if err := s.writeFunc(s.path, &s.doc); err != nil {
		return fmt.Errorf("state: persisting %s: %w", s.path, err)
	}

	return nil
}

// Summary describes one tracked container for status output.
type Summary struct {
	Key        string
	Items      int
	HasCursor  bool
	LastSyncAt time.Time
}

// Summaries lists all tracked containers, for the status command.
func (s *Store) Summaries() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Summary, 0, len(s.doc.Containers))
	for key, cs := range s.doc.Containers {
		out = append(out, Summary{
			Key:        key,
			Items:      len(cs.Items),
			HasCursor:  cs.Cursor != "",
			LastSyncAt: cs.LastSyncAt,
		})
	}

	return out
}
