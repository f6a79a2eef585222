package session

import (
	"maps"
	"sync"
)

// MemoryStore keeps credentials in process memory. It never returns errors.
type MemoryStore struct {
	mu   sync.RWMutex
	cred *Credentials
	meta map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get() (*Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cred.Clone(), nil
}

func (s *MemoryStore) Set(c *Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cred = c.Clone()

	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cred = nil
	s.meta = nil

	return nil
}

func (s *MemoryStore) Meta() (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return maps.Clone(s.meta), nil
}

func (s *MemoryStore) SetMeta(meta map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cred == nil {
		return ErrNoSession
	}

	if s.meta == nil {
		s.meta = make(map[string]string, len(meta))
	}

	maps.Copy(s.meta, meta)

	return nil
}
