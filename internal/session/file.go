package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the token file's directory.
const DirPerms = 0o700

// tokenType is written into the stored oauth2.Token so the file is readable
// by any oauth2-aware tool.
const tokenType = "Bearer"

// tokenFile is the on-disk format. The credential pair is stored as an
// oauth2.Token (access, refresh, expiry) next to cached profile metadata.
type tokenFile struct {
	Token *oauth2.Token     `json:"token"`
	Meta  map[string]string `json:"meta,omitempty"`
}

// FileStore persists credentials in a single JSON file. Writes are atomic
// (temp file + fsync + rename) so a crash never leaves a torn token file.
type FileStore struct {
	path string

	// mu serializes read-modify-write cycles within this process.
	mu sync.Mutex
}

// NewFileStore returns a FileStore backed by path. The file is created on the
// first Set.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get() (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tf, err := s.load()
	if err != nil || tf == nil {
		return nil, err
	}

	return fromOAuth(tf.Token), nil
}

// Set replaces the stored pair and keeps any cached metadata.
func (s *FileStore) Set(c *Credentials) error {
	if c == nil {
		return s.Clear()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tf, err := s.load()
	if err != nil {
		return err
	}

	var meta map[string]string
	if tf != nil {
		meta = tf.Meta
	}

	return s.save(&tokenFile{Token: toOAuth(c), Meta: meta})
}

// Clear removes the token file. A missing file is not an error.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("session: removing %s: %w", s.path, err)
	}

	return nil
}

func (s *FileStore) Meta() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tf, err := s.load()
	if err != nil || tf == nil {
		return nil, err
	}

	return tf.Meta, nil
}

// SetMeta merges meta into the stored metadata. New keys overwrite existing
// ones. It fails with ErrNoSession if no credentials are stored yet.
func (s *FileStore) SetMeta(meta map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tf, err := s.load()
	if err != nil {
		return err
	}

	if tf == nil {
		return fmt.Errorf("%w: no token file at %s", ErrNoSession, s.path)
	}

	if tf.Meta == nil {
		tf.Meta = make(map[string]string, len(meta))
	}

	maps.Copy(tf.Meta, meta)

	return s.save(tf)
}

// load reads the token file. Returns (nil, nil) if the file does not exist.
func (s *FileStore) load() (*tokenFile, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("session: reading %s: %w", s.path, err)
	}

	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("session: decoding %s: %w", s.path, err)
	}

	if tf.Token == nil {
		return nil, fmt.Errorf("session: %s missing token field (re-login required)", s.path)
	}

	return &tf, nil
}

// save writes the token file atomically with 0600 permissions.
// Never logs token values.
func (s *FileStore) save(tf *tokenFile) error {
	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encoding: %w", err)
	}

	dir := filepath.Dir(s.path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("session: creating directory %s: %w", dir, mkErr)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("session: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("session: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("session: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("session: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("session: closing: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("session: renaming: %w", err)
	}

	success = true

	return nil
}

func toOAuth(c *Credentials) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    tokenType,
		Expiry:       c.ExpiresAt,
	}
}

func fromOAuth(t *oauth2.Token) *Credentials {
	return &Credentials{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    t.Expiry,
	}
}
