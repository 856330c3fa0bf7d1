package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Entry holds the opaque authentication material for one platform. The queue
// core never interprets Values; adapters own their meaning.
type Entry struct {
	Values        map[string]string `json:"values,omitempty"`
	Authenticated bool              `json:"authenticated"`
}

type fileFormat struct {
	Credentials map[string]Entry `json:"credentials"`
}

// Store is a per-platform credentials file. A missing file yields an empty
// store; saving is atomic via a temp file rename.
type Store struct {
	mu      sync.RWMutex
	path    string
	entries map[string]Entry
}

// Load reads the credentials file at path. Absence is not an error.
func Load(path string) (*Store, error) {
	store := &Store{
		path:    path,
		entries: make(map[string]Entry),
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return store, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	if err := store.replaceFromJSON(data); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Store) replaceFromJSON(data []byte) error {
	var file fileFormat
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("decode credentials: %w", err)
	}
	s.replace(file)
	return nil
}

func (s *Store) replace(file fileFormat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = file.Credentials
	if s.entries == nil {
		s.entries = make(map[string]Entry)
	}
}

// Get returns the entry for a platform.
func (s *Store) Get(platform string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[platform]
	return entry, ok
}

// Value returns one credential value for a platform, or "" when absent.
func (s *Store) Value(platform, key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[platform].Values[key]
}

// Authenticated reports whether the platform has material marked valid.
func (s *Store) Authenticated(platform string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[platform]
	return ok && entry.Authenticated && len(entry.Values) > 0
}

// Set replaces the entry for a platform.
func (s *Store) Set(platform string, entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.Values == nil {
		entry.Values = make(map[string]string)
	}
	s.entries[platform] = entry
}

// SetValue assigns one credential value, creating the entry on first use.
func (s *Store) SetValue(platform, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.entries[platform]
	if entry.Values == nil {
		entry.Values = make(map[string]string)
	}
	entry.Values[key] = value
	s.entries[platform] = entry
}

// MarkAuthenticated flips the validity flag for a platform.
func (s *Store) MarkAuthenticated(platform string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.entries[platform]
	entry.Authenticated = ok
	if entry.Values == nil {
		entry.Values = make(map[string]string)
	}
	s.entries[platform] = entry
}

// Save writes the store to disk atomically.
func (s *Store) Save() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(fileFormat{Credentials: s.entries}, "", "    ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".credentials-*.json")
	if err != nil {
		return fmt.Errorf("create temp credentials: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp credentials: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace credentials: %w", err)
	}
	return nil
}

// Path returns the backing file location.
func (s *Store) Path() string { return s.path }

// MarshalJSON exposes the serialized file format, used by the S3 mirror.
func (s *Store) MarshalJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal(fileFormat{Credentials: s.entries})
}
