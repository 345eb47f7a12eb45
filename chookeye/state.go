package chookeye

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// StateStore persists session state between runs: the auth token with its
// expiry, and the last known coordinates. Everything lives in one JSON file
// readable only by the owning user.
type StateStore struct {
	path string
}

// NewStateStore creates a state store backed by the given file path. The
// file is created on first save.
func NewStateStore(path string) *StateStore {
	return &StateStore{path: path}
}

type persistedState struct {
	Token      string       `json:"token,omitempty"`
	Expiry     time.Time    `json:"expiry,omitempty"`
	LastCoords *Coordinates `json:"last_coords,omitempty"`
}

// SaveSession stores the auth token and its expiry time.
func (s *StateStore) SaveSession(token string, expiry time.Time) error {
	state, err := s.load()
	if err != nil {
		return err
	}
	state.Token = token
	state.Expiry = expiry
	return s.save(state)
}

// GetSession retrieves the stored auth token and expiry time. Returns an
// empty token and zero time when nothing is stored.
func (s *StateStore) GetSession() (string, time.Time, error) {
	state, err := s.load()
	if err != nil {
		return "", time.Time{}, err
	}
	return state.Token, state.Expiry, nil
}

// SaveLastCoords stores the most recent device coordinates.
func (s *StateStore) SaveLastCoords(coords Coordinates) error {
	state, err := s.load()
	if err != nil {
		return err
	}
	state.LastCoords = &coords
	return s.save(state)
}

// GetLastCoords retrieves the most recent stored coordinates, or nil when
// none are stored.
func (s *StateStore) GetLastCoords() (*Coordinates, error) {
	state, err := s.load()
	if err != nil {
		return nil, err
	}
	return state.LastCoords, nil
}

// Clear removes all persisted state.
func (s *StateStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to clear state file")
	}
	return nil
}

func (s *StateStore) load() (persistedState, error) {
	var state persistedState

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return state, nil
	}
	if err != nil {
		return state, errors.Wrap(err, "failed to read state file")
	}

	if err := json.Unmarshal(data, &state); err != nil {
		return persistedState{}, errors.Wrap(err, "failed to parse state file")
	}
	return state, nil
}

func (s *StateStore) save(state persistedState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "failed to marshal state")
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return errors.Wrap(err, "failed to create state directory")
		}
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return errors.Wrap(err, "failed to write state file")
	}
	return nil
}
