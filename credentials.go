package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Fixed keys for the persisted token pair.
const (
	AccessTokenKey  = "access_token"
	RefreshTokenKey = "refresh_token"
)

// Credentials is the persisted token pair.
type Credentials struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// IsEmpty reports whether there is no access token.
func (c Credentials) IsEmpty() bool {
	return c.AccessToken == ""
}

// CredentialStore persists the token pair across process restarts.
// Save always writes the complete pair. Load never fails: a store that
// is unavailable or corrupt reads as empty.
type CredentialStore interface {
	Save(ctx context.Context, creds Credentials) error
	Load(ctx context.Context) Credentials
	Clear(ctx context.Context) error
}

// MemoryCredentialStore keeps credentials for the lifetime of the process.
type MemoryCredentialStore struct {
	mu    sync.RWMutex
	creds Credentials
}

// NewMemoryCredentialStore returns an empty in-memory store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{}
}

func (m *MemoryCredentialStore) Save(_ context.Context, creds Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = creds
	return nil
}

func (m *MemoryCredentialStore) Load(_ context.Context) Credentials {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creds
}

func (m *MemoryCredentialStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = Credentials{}
	return nil
}

// FileCredentialStore keeps the pair in a JSON file. Writes go to a temp
// file that is renamed into place so readers in other processes never
// observe a partial pair.
type FileCredentialStore struct {
	path   string
	mu     sync.Mutex
	logger Logger
}

// NewFileCredentialStore returns a store backed by path.
func NewFileCredentialStore(path string) *FileCredentialStore {
	return &FileCredentialStore{path: path, logger: defLogger{}}
}

// WithLogger sets the logger used to report unreadable files.
func (f *FileCredentialStore) WithLogger(logger Logger) *FileCredentialStore {
	f.logger = normalizeLogger(logger)
	return f
}

// Path returns the backing file location.
func (f *FileCredentialStore) Path() string {
	return f.path
}

func (f *FileCredentialStore) Save(ctx context.Context, creds Credentials) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("create temp credentials file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod credentials file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write credentials file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close credentials file: %w", err)
	}

	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace credentials file: %w", err)
	}

	return nil
}

func (f *FileCredentialStore) Load(_ context.Context) Credentials {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			f.logger.Warn("credentials file unreadable", "path", f.path, "error", err)
		}
		return Credentials{}
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		f.logger.Warn("credentials file corrupt", "path", f.path, "error", err)
		return Credentials{}
	}

	if creds.AccessToken == "" {
		return Credentials{}
	}

	return creds
}

func (f *FileCredentialStore) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove credentials file: %w", err)
	}
	return nil
}
