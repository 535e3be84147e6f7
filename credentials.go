package gyanmitra

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// ErrNoCredentials is returned by CredentialStore.Load when nothing has been
// saved yet.
var ErrNoCredentials = errors.New("no stored credentials")

// Credentials is the durable authentication state: the bearer token plus the
// profile it belongs to. It is read once at startup and cleared whenever the
// backend rejects the token.
type Credentials struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// CredentialStore persists authentication state across process restarts.
type CredentialStore interface {
	Load() (*Credentials, error)
	Save(creds Credentials) error
	Clear() error
}

// InMemoryCredentialStore keeps credentials for the lifetime of the process.
// Useful for tests and for hosts that manage persistence themselves.
type InMemoryCredentialStore struct {
	mu    sync.RWMutex
	creds *Credentials
}

// NewInMemoryCredentialStore creates an empty in-memory store.
func NewInMemoryCredentialStore() *InMemoryCredentialStore {
	return &InMemoryCredentialStore{}
}

// Load returns the stored credentials or ErrNoCredentials.
func (s *InMemoryCredentialStore) Load() (*Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.creds == nil {
		return nil, ErrNoCredentials
	}
	copied := *s.creds
	return &copied, nil
}

// Save replaces the stored credentials.
func (s *InMemoryCredentialStore) Save(creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds = &creds
	return nil
}

// Clear discards the stored credentials.
func (s *InMemoryCredentialStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds = nil
	return nil
}

// FileCredentialStore persists credentials as a JSON file, the durable
// client storage the product relies on to restore authentication state on
// startup.
type FileCredentialStore struct {
	mu   sync.RWMutex
	path string
}

// NewFileCredentialStore creates a store backed by the JSON file at path.
// Parent directories are created on first save.
func NewFileCredentialStore(path string) *FileCredentialStore {
	return &FileCredentialStore{path: path}
}

// Load reads credentials from disk. A missing file maps to
// ErrNoCredentials.
func (s *FileCredentialStore) Load() (*Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoCredentials
	}
	if err != nil {
		return nil, err
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	if creds.Token == "" {
		return nil, ErrNoCredentials
	}
	return &creds, nil
}

// Save writes credentials to disk with owner-only permissions.
func (s *FileCredentialStore) Save(creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

// Clear removes the credential file. A missing file is treated as success.
func (s *FileCredentialStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
