// Package store persists registrations and events.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"regdesk/internal/registration/models"
	"regdesk/pkg/domain"
	"regdesk/pkg/platform/sentinel"
)

// InMemory is a process-local store for development and tests.
type InMemory struct {
	mu            sync.RWMutex
	registrations map[domain.RegistrationID]*models.Registration
	events        map[domain.EventID]*models.Event
	nextReg       domain.RegistrationID
	nextEvent     domain.EventID
}

func NewInMemory() *InMemory {
	return &InMemory{
		registrations: make(map[domain.RegistrationID]*models.Registration),
		events:        make(map[domain.EventID]*models.Event),
	}
}

func (s *InMemory) Create(_ context.Context, reg *models.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextReg++
	reg.ID = s.nextReg
	cp := *reg
	s.registrations[reg.ID] = &cp
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id domain.RegistrationID) (*models.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reg, ok := s.registrations[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *reg
	return &cp, nil
}

// ListByStatus returns registrations newest first. An empty status lists all.
func (s *InMemory) ListByStatus(_ context.Context, status models.Status) ([]*models.Registration, error) {
	return s.filter(func(r *models.Registration) bool {
		return status == "" || r.Status == status
	}), nil
}

func (s *InMemory) ListByPrincipal(_ context.Context, principal domain.PrincipalID) ([]*models.Registration, error) {
	return s.filter(func(r *models.Registration) bool {
		return r.PrincipalID == principal
	}), nil
}

func (s *InMemory) filter(keep func(*models.Registration) bool) []*models.Registration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Registration, 0)
	for _, r := range s.registrations {
		if keep(r) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *InMemory) UpdateStatus(_ context.Context, id domain.RegistrationID, change models.StatusChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.registrations[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if change.FromStatus != "" && reg.Status != change.FromStatus {
		return sentinel.ErrInvalidState
	}
	reg.Status = change.Status
	reg.AdminComment = change.Comment
	reg.UpdatedAt = change.UpdatedAt
	return nil
}

// DistinctPrincipals returns every principal that ever registered, ascending.
func (s *InMemory) DistinctPrincipals(_ context.Context) ([]domain.PrincipalID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[domain.PrincipalID]struct{})
	for _, r := range s.registrations {
		seen[r.PrincipalID] = struct{}{}
	}
	out := make([]domain.PrincipalID, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *InMemory) Stats(_ context.Context) (*models.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &models.Stats{ByStatus: map[models.Status]int{
		models.StatusPending: 0, models.StatusConfirmed: 0, models.StatusRejected: 0,
	}}
	weapons := make(map[string]*models.WeaponStats)
	for _, r := range s.registrations {
		stats.Total++
		stats.ByStatus[r.Status]++
		w, ok := weapons[r.WeaponType]
		if !ok {
			w = &models.WeaponStats{WeaponType: r.WeaponType}
			weapons[r.WeaponType] = w
		}
		w.Total++
		if r.Status == models.StatusConfirmed {
			w.Confirmed++
		}
	}
	for _, w := range weapons {
		stats.ByWeapon = append(stats.ByWeapon, *w)
	}
	sort.Slice(stats.ByWeapon, func(i, j int) bool { return stats.ByWeapon[i].WeaponType < stats.ByWeapon[j].WeaponType })
	return stats, nil
}

func (s *InMemory) Purge(_ context.Context, f models.PurgeFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.registrations {
		if matchesPurge(r, f) {
			delete(s.registrations, id)
			n++
		}
	}
	return n, nil
}

func matchesPurge(r *models.Registration, f models.PurgeFilter) bool {
	switch {
	case f.RejectedOnly:
		return r.Status == models.StatusRejected
	case !f.CreatedBefore.IsZero():
		return r.CreatedAt.Before(f.CreatedBefore)
	case f.EventID != 0:
		return r.EventID != nil && *r.EventID == f.EventID
	}
	return false
}

func (s *InMemory) CreateEvent(_ context.Context, ev *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEvent++
	ev.ID = s.nextEvent
	cp := *ev
	s.events[ev.ID] = &cp
	return nil
}

func (s *InMemory) FindEvent(_ context.Context, id domain.EventID) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

// ListEvents returns events ordered by date.
func (s *InMemory) ListEvents(_ context.Context, activeOnly bool) ([]*models.Event, error) {
	return s.eventsWhere(func(e *models.Event) bool { return !activeOnly || e.IsActive }), nil
}

// ActiveFutureEvents returns active events dated on or after from.
func (s *InMemory) ActiveFutureEvents(_ context.Context, from time.Time) ([]*models.Event, error) {
	return s.eventsWhere(func(e *models.Event) bool {
		return e.IsActive && !e.EventDate.Before(from)
	}), nil
}

func (s *InMemory) eventsWhere(keep func(*models.Event) bool) []*models.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Event, 0)
	for _, e := range s.events {
		if keep(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EventDate.Equal(out[j].EventDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].EventDate.Before(out[j].EventDate)
	})
	return out
}

func (s *InMemory) SetEventActive(_ context.Context, id domain.EventID, active bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	ev.IsActive = active
	ev.UpdatedAt = at
	return nil
}
