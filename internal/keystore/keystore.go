// Package keystore is the opaque key-value store the reputation core persists
// its local device state into: the opt-in flag, the encoded master secret and
// the legacy trade token. Values are strings; absence is a meaningful state.
package keystore

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Well-known item keys.
const (
	ItemEnabled    = "reputation_enabled"
	ItemMasterNsec = "reputation_master_nsec"
	ItemRobotToken = "robot_token"
)

var ErrNotConfigured = errors.New("keystore path or secret is not configured")

// Store is the persistence surface the identity manager consumes.
type Store interface {
	GetItem(key string) (string, bool, error)
	SetItem(key, value string) error
	DeleteItem(key string) error
}

// MemoryStore keeps items in memory. Used in tests and for ephemeral runs.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]string)}
}

func (s *MemoryStore) GetItem(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok, nil
}

func (s *MemoryStore) SetItem(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
	return nil
}

func (s *MemoryStore) DeleteItem(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

// FileStore persists the whole item map as one encrypted snapshot. Reads go
// through an in-memory cache loaded on first access; every write rewrites the
// snapshot.
type FileStore struct {
	mu     sync.Mutex
	path   string
	secret string
	items  map[string]string
	loaded bool
}

func NewFileStore(path, secret string) *FileStore {
	return &FileStore{path: strings.TrimSpace(path), secret: strings.TrimSpace(secret)}
}

func (s *FileStore) GetItem(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return "", false, err
	}
	v, ok := s.items[key]
	return v, ok, nil
}

func (s *FileStore) SetItem(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return err
	}
	s.items[key] = value
	return s.persistLocked()
}

func (s *FileStore) DeleteItem(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return err
	}
	if _, ok := s.items[key]; !ok {
		return nil
	}
	delete(s.items, key)
	return s.persistLocked()
}

func (s *FileStore) loadLocked() error {
	if s.loaded {
		return nil
	}
	if s.path == "" || s.secret == "" {
		return ErrNotConfigured
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.items = make(map[string]string)
			s.loaded = true
			return nil
		}
		return err
	}
	plaintext, err := Decrypt(s.secret, raw)
	if err != nil {
		return err
	}
	var state persistedState
	if err := json.Unmarshal(plaintext, &state); err != nil {
		return ErrInvalid
	}
	if state.Version != 1 {
		return ErrInvalid
	}
	if state.Items == nil {
		state.Items = make(map[string]string)
	}
	s.items = state.Items
	s.loaded = true
	return nil
}

func (s *FileStore) persistLocked() error {
	payload, err := json.Marshal(persistedState{Version: 1, Items: s.items})
	if err != nil {
		return err
	}
	encrypted, err := Encrypt(s.secret, payload)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(s.path, encrypted, 0o600)
}

type persistedState struct {
	Version int               `json:"version"`
	Items   map[string]string `json:"items"`
}
