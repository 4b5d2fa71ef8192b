package accesstoken

import (
	"context"
	"sync"
	"time"

	"regdesk/pkg/domain"
)

type memoryEntry struct {
	principal domain.PrincipalID
	expiresAt time.Time
}

type InMemory struct {
	mu     sync.RWMutex
	tokens map[string]memoryEntry
	ttl    time.Duration
	now    func() time.Time
}

type MemoryOption func(*InMemory)

func WithClock(now func() time.Time) MemoryOption {
	return func(s *InMemory) { s.now = now }
}

func NewInMemory(ttl time.Duration, opts ...MemoryOption) *InMemory {
	s := &InMemory{
		tokens: make(map[string]memoryEntry),
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemory) Issue(_ context.Context, principal domain.PrincipalID) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = memoryEntry{principal: principal, expiresAt: s.now().Add(s.ttl)}
	return token, nil
}

// Validate resolves the token and pushes its expiry out by the TTL.
// Expired tokens are removed on sight.
func (s *InMemory) Validate(_ context.Context, token string) (domain.PrincipalID, bool, error) {
	if token == "" {
		return 0, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tokens[token]
	if !ok {
		return 0, false, nil
	}
	now := s.now()
	if !now.Before(e.expiresAt) {
		delete(s.tokens, token)
		return 0, false, nil
	}
	e.expiresAt = now.Add(s.ttl)
	s.tokens[token] = e
	return e.principal, true, nil
}

func (s *InMemory) Revoke(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
	return nil
}

func (s *InMemory) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for token, e := range s.tokens {
		if !now.Before(e.expiresAt) {
			delete(s.tokens, token)
			removed++
		}
	}
	return removed, nil
}

func (s *InMemory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}
