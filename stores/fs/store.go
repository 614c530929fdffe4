// Package fs persists auth records as a JSON file, for CLIs and desktop
// tools that need sessions to survive process restarts.
package fs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store implements anyauth.CredentialStore backed by one JSON file. The
// file and its directory are created with owner-only permissions since
// the records include tokens.
type Store struct {
	mu        sync.RWMutex
	path      string
	namespace string
	records   map[string]string
}

// storeFile is the JSON structure on disk.
type storeFile struct {
	Records map[string]string `json:"records"`
}

// New opens (or creates) the store at path. An empty path defaults to
// ~/.config/<appName>/auth.json.
func New(path, appName string) (*Store, error) {
	if path == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("could not determine config directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
		if appName == "" {
			appName = "anyauth"
		}
		path = filepath.Join(configDir, appName, "auth.json")
	}
	if appName == "" {
		appName = "anyauth"
	}

	s := &Store{
		path:      path,
		namespace: appName,
		records:   make(map[string]string),
	}
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	if file.Records != nil {
		s.records = file.Records
	}
	return nil
}

// save writes the file atomically: temp file in the same directory, then
// rename over the target.
func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(storeFile{Records: s.records}, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".auth-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}

func (s *Store) qualify(key string) string {
	return s.namespace + "/" + key
}

// Get returns the value for key and whether it exists.
func (s *Store) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.records[s.qualify(key)]
	return value, ok, nil
}

// Set writes key and flushes the file.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[s.qualify(key)] = value
	return s.save()
}

// Remove deletes key. Removing an absent key is not an error.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	qualified := s.qualify(key)
	if _, ok := s.records[qualified]; !ok {
		return nil
	}
	delete(s.records, qualified)
	return s.save()
}

// Clear removes every record in this store's namespace; records written
// by other applications sharing the file survive.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := s.namespace + "/"
	changed := false
	for key := range s.records {
		if strings.HasPrefix(key, prefix) {
			delete(s.records, key)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.save()
}

// Path reports where the records live, mainly for diagnostics.
func (s *Store) Path() string {
	return s.path
}
