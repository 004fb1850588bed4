package credential

import (
	"context"
	"sync"
)

// MemoryStore keeps credentials in process memory. It is used in tests and
// for one-shot CLI invocations that should not persist anything.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]string, 2)}
}

func (s *MemoryStore) Load(context.Context) (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, hasToken := s.entries[TokenKey]
	role, hasRole := s.entries[RoleKey]
	return pairFrom(token, role, hasToken, hasRole)
}

func (s *MemoryStore) Save(_ context.Context, creds Credentials) error {
	if err := validate(creds); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[TokenKey] = creds.Token
	s.entries[RoleKey] = creds.Role
	return nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, TokenKey)
	delete(s.entries, RoleKey)
	return nil
}

// Put writes a single raw entry, bypassing the pair rules. Tests use it to
// seed half-written or hand-crafted state.
func (s *MemoryStore) Put(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = value
}

// Len returns the number of raw entries currently stored.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
