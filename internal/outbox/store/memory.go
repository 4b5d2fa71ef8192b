// Package store persists outbox entries.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"regdesk/internal/outbox/models"
	"regdesk/pkg/platform/sentinel"
)

type InMemory struct {
	mu      sync.RWMutex
	entries map[string]*models.Entry
}

func NewInMemory() *InMemory {
	return &InMemory{entries: make(map[string]*models.Entry)}
}

func (s *InMemory) Enqueue(_ context.Context, entries ...*models.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		cp := *e
		s.entries[e.ID] = &cp
	}
	return nil
}

// Due returns pending entries whose next attempt is at or before now, oldest
// first.
func (s *InMemory) Due(_ context.Context, now time.Time, limit int) ([]*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Entry, 0)
	for _, e := range s.entries {
		if e.Status == models.StatusPending && !e.NextAttemptAt.After(now) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NextAttemptAt.Equal(out[j].NextAttemptAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].NextAttemptAt.Before(out[j].NextAttemptAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemory) MarkDelivered(_ context.Context, id string, attempts int, at time.Time) error {
	return s.update(id, func(e *models.Entry) {
		e.Status = models.StatusDelivered
		e.Attempts = attempts
		e.LastError = ""
		e.UpdatedAt = at
	})
}

func (s *InMemory) MarkDead(_ context.Context, id string, attempts int, lastErr string, at time.Time) error {
	return s.update(id, func(e *models.Entry) {
		e.Status = models.StatusDead
		e.Attempts = attempts
		e.LastError = lastErr
		e.UpdatedAt = at
	})
}

func (s *InMemory) Reschedule(_ context.Context, id string, attempts int, next time.Time, lastErr string, at time.Time) error {
	return s.update(id, func(e *models.Entry) {
		e.Attempts = attempts
		e.NextAttemptAt = next
		e.LastError = lastErr
		e.UpdatedAt = at
	})
}

func (s *InMemory) update(id string, fn func(*models.Entry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	fn(e)
	return nil
}

func (s *InMemory) CountByStatus(_ context.Context, status models.Status) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries {
		if e.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *InMemory) Find(_ context.Context, id string) (*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *e
	return &cp, nil
}
