// Package storage mirrors the registry to local disk so the event keeps
// running when the remote store is unreachable.
//
// Both backends hold two keyed blobs, the guest array and the settings
// object, and rewrite both in full on every save.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/extinguish558/jci-checkin-system-sub000/internal/models"
)

const (
	KeyGuests   = "checkin_guests"
	KeySettings = "checkin_settings"
)

// FileStore keeps each blob in its own JSON file under a directory.
type FileStore struct {
	mu  sync.RWMutex
	dir string
}

// NewFileStore creates a file store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Save rewrites both blobs.
func (s *FileStore) Save(snap models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	guests, settings, err := encode(snap)
	if err != nil {
		return err
	}
	if err := writeAtomic(s.path(KeyGuests), guests); err != nil {
		return err
	}
	return writeAtomic(s.path(KeySettings), settings)
}

// Load reads both blobs. ok is false when no guest blob exists yet.
func (s *FileStore) Load() (models.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	guests, err := os.ReadFile(s.path(KeyGuests))
	if os.IsNotExist(err) {
		return models.Snapshot{}, false, nil
	}
	if err != nil {
		return models.Snapshot{}, false, fmt.Errorf("failed to read file: %w", err)
	}

	settings, err := os.ReadFile(s.path(KeySettings))
	if err != nil && !os.IsNotExist(err) {
		return models.Snapshot{}, false, fmt.Errorf("failed to read file: %w", err)
	}

	snap, err := decode(guests, settings)
	if err != nil {
		return models.Snapshot{}, false, err
	}
	return snap, true, nil
}

// writeAtomic replaces path via a temp file so a crash never leaves a
// truncated blob behind.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace file: %w", err)
	}
	return nil
}

func encode(snap models.Snapshot) (guests, settings []byte, err error) {
	list := snap.Guests
	if list == nil {
		list = []models.Guest{}
	}
	guests, err = json.MarshalIndent(list, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal guests: %w", err)
	}

	s := models.DefaultSettings()
	if snap.Settings != nil {
		s = *snap.Settings
	}
	settings, err = json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal settings: %w", err)
	}
	return guests, settings, nil
}

func decode(guests, settings []byte) (models.Snapshot, error) {
	snap := models.Snapshot{Guests: []models.Guest{}}
	if len(guests) > 0 {
		if err := json.Unmarshal(guests, &snap.Guests); err != nil {
			return models.Snapshot{}, fmt.Errorf("failed to unmarshal guests: %w", err)
		}
	}
	if len(settings) > 0 {
		var s models.SystemSettings
		if err := json.Unmarshal(settings, &s); err != nil {
			return models.Snapshot{}, fmt.Errorf("failed to unmarshal settings: %w", err)
		}
		snap.Settings = &s
	}
	return snap, nil
}
