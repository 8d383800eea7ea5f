package track

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/devtally/devtally/internal/shared"
)

// Handle is the cross-process pointer to "the session in progress". Host
// callbacks run in independent short-lived processes, so this side file is
// the only way they discover each other's session. It is advisory: readers
// must re-validate the referenced session against the store before trusting
// it.
type Handle struct {
	SessionID string    `json:"session_id"`
	SavedAt   time.Time `json:"saved_at"`
}

// HandleStore persists the session handle next to the database. It is the
// only file in the data dir that gets overwritten, and only the coordinator
// writes it.
type HandleStore struct {
	path   string
	expiry time.Duration
}

func NewHandleStore(path string, expiry time.Duration) *HandleStore {
	return &HandleStore{path: path, expiry: expiry}
}

// Save atomically writes a fresh handle via temp file + rename, so a
// concurrent reader never observes a partial write.
func (h *HandleStore) Save(sessionID string) error {
	data, err := json.Marshal(Handle{SessionID: sessionID, SavedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode session handle: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(h.path), "handle-*.json.tmp")
	if err != nil {
		return fmt.Errorf("persist session handle: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("persist session handle: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("persist session handle: %w", err)
	}
	if err := os.Rename(tmpName, h.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("persist session handle: %w", err)
	}

	return nil
}

// Load reads the handle. A missing or corrupt file returns ErrNoHandle; an
// absent handle is a normal state, never an error worth surfacing.
func (h *HandleStore) Load() (Handle, error) {
	data, err := os.ReadFile(h.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Handle{}, shared.ErrNoHandle
		}
		return Handle{}, fmt.Errorf("read session handle: %w", err)
	}

	var handle Handle
	if err := json.Unmarshal(data, &handle); err != nil {
		return Handle{}, shared.ErrNoHandle
	}
	if handle.SessionID == "" {
		return Handle{}, shared.ErrNoHandle
	}

	return handle, nil
}

// Expired reports whether the handle has passed its inactivity window.
func (h *HandleStore) Expired(handle Handle, now time.Time) bool {
	return now.Sub(handle.SavedAt) > h.expiry
}

// Clear removes the handle file.
func (h *HandleStore) Clear() error {
	if err := os.Remove(h.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear session handle: %w", err)
	}
	return nil
}
