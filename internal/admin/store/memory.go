// Package store persists admin records.
package store

import (
	"context"
	"sort"
	"sync"

	"regdesk/internal/admin/models"
	"regdesk/pkg/domain"
	"regdesk/pkg/platform/sentinel"
)

type InMemory struct {
	mu     sync.RWMutex
	admins map[domain.PrincipalID]*models.Admin
	nextID domain.AdminID
}

func NewInMemory() *InMemory {
	return &InMemory{admins: make(map[domain.PrincipalID]*models.Admin)}
}

// Create inserts a new admin. ErrConflict if the principal already has a
// record, active or not.
func (s *InMemory) Create(_ context.Context, a *models.Admin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.admins[a.PrincipalID]; ok {
		return sentinel.ErrConflict
	}
	s.nextID++
	a.ID = s.nextID
	cp := *a
	s.admins[a.PrincipalID] = &cp
	return nil
}

func (s *InMemory) FindByPrincipal(_ context.Context, p domain.PrincipalID) (*models.Admin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.admins[p]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// SetActive flips the active flag and, when role is non-empty, the role.
func (s *InMemory) SetActive(_ context.Context, p domain.PrincipalID, active bool, role models.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.admins[p]
	if !ok {
		return sentinel.ErrNotFound
	}
	a.IsActive = active
	if role != "" {
		a.Role = role
	}
	return nil
}

// List returns admins ordered by creation.
func (s *InMemory) List(_ context.Context, activeOnly bool) ([]*models.Admin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Admin, 0, len(s.admins))
	for _, a := range s.admins {
		if activeOnly && !a.IsActive {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
