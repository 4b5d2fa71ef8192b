// Package store keeps conversation sessions between inbound messages.
package store

import (
	"context"
	"sync"

	"regdesk/internal/conversation/models"
	"regdesk/pkg/domain"
	"regdesk/pkg/platform/sentinel"
)

// InMemory keeps sessions in process. Sessions are lost on restart.
type InMemory struct {
	mu       sync.RWMutex
	sessions map[domain.PrincipalID]*models.Session
}

func NewInMemory() *InMemory {
	return &InMemory{sessions: make(map[domain.PrincipalID]*models.Session)}
}

func (s *InMemory) Get(_ context.Context, p domain.PrincipalID) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[p]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return sess.Clone(), nil
}

func (s *InMemory) Save(_ context.Context, p domain.PrincipalID, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[p] = sess.Clone()
	return nil
}

func (s *InMemory) Delete(_ context.Context, p domain.PrincipalID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, p)
	return nil
}

func (s *InMemory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
