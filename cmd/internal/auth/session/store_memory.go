package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a CredentialStore held in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	creds map[string]Credential
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]Credential)}
}

func (s *MemoryStore) Create(ctx context.Context, c Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[c.IDHash] = c
	return nil
}

func (s *MemoryStore) Find(ctx context.Context, idHash string) (Credential, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[idHash]
	if !ok {
		return Credential{}, ErrCredentialNotFound
	}
	return c, nil
}

func (s *MemoryStore) Delete(ctx context.Context, idHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, idHash)
	return nil
}

func (s *MemoryStore) Consume(ctx context.Context, idHash string) (Credential, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[idHash]
	if !ok {
		return Credential{}, ErrCredentialNotFound
	}
	delete(s.creds, idHash)
	return c, nil
}

func (s *MemoryStore) DeleteExpiredForPrincipal(ctx context.Context, principalID string, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, c := range s.creds {
		if c.PrincipalID == principalID && !c.Valid(now) {
			delete(s.creds, k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, c := range s.creds {
		if !c.Valid(now) {
			delete(s.creds, k)
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored credentials, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.creds)
}
