package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"regdesk/internal/admin/models"
	"regdesk/internal/admin/store"
	"regdesk/internal/platform/database/dbtest"
	"regdesk/pkg/domain"
	"regdesk/pkg/platform/sentinel"
)

type Store interface {
	Create(ctx context.Context, a *models.Admin) error
	FindByPrincipal(ctx context.Context, p domain.PrincipalID) (*models.Admin, error)
	SetActive(ctx context.Context, p domain.PrincipalID, active bool, role models.Role) error
	List(ctx context.Context, activeOnly bool) ([]*models.Admin, error)
}

type AdminStoreSuite struct {
	suite.Suite
	newStore func(t *testing.T) Store
	store    Store
	ctx      context.Context
}

func TestInMemoryAdminStore(t *testing.T) {
	suite.Run(t, &AdminStoreSuite{newStore: func(*testing.T) Store { return store.NewInMemory() }})
}

func TestSQLiteAdminStore(t *testing.T) {
	suite.Run(t, &AdminStoreSuite{newStore: func(t *testing.T) Store { return store.NewSQL(dbtest.NewSQLite(t)) }})
}

func (s *AdminStoreSuite) SetupTest() {
	s.store = s.newStore(s.T())
	s.ctx = context.Background()
}

func newAdmin(p domain.PrincipalID, role models.Role) *models.Admin {
	return &models.Admin{
		PrincipalID: p,
		DisplayName: "op",
		Role:        role,
		IsActive:    true,
		CreatedAt:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *AdminStoreSuite) TestCreateAndFind() {
	s.Run("creates and finds by principal", func() {
		a := newAdmin(10, models.RoleAdmin)
		s.Require().NoError(s.store.Create(s.ctx, a))
		s.NotZero(a.ID)

		found, err := s.store.FindByPrincipal(s.ctx, 10)
		s.Require().NoError(err)
		s.Equal(models.RoleAdmin, found.Role)
		s.True(found.IsActive)
	})

	s.Run("duplicate principal conflicts", func() {
		err := s.store.Create(s.ctx, newAdmin(10, models.RoleModerator))
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("unknown principal", func() {
		_, err := s.store.FindByPrincipal(s.ctx, 999)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *AdminStoreSuite) TestSetActiveAndList() {
	s.Require().NoError(s.store.Create(s.ctx, newAdmin(1, models.RoleAdmin)))
	s.Require().NoError(s.store.Create(s.ctx, newAdmin(2, models.RoleModerator)))

	s.Require().NoError(s.store.SetActive(s.ctx, 2, false, ""))
	found, err := s.store.FindByPrincipal(s.ctx, 2)
	s.Require().NoError(err)
	s.False(found.IsActive)
	s.Equal(models.RoleModerator, found.Role, "empty role leaves role unchanged")

	active, err := s.store.List(s.ctx, true)
	s.Require().NoError(err)
	s.Require().Len(active, 1)
	s.Equal(domain.PrincipalID(1), active[0].PrincipalID)

	s.Require().NoError(s.store.SetActive(s.ctx, 2, true, models.RoleAdmin))
	found, err = s.store.FindByPrincipal(s.ctx, 2)
	s.Require().NoError(err)
	s.True(found.IsActive)
	s.Equal(models.RoleAdmin, found.Role)

	all, err := s.store.List(s.ctx, false)
	s.Require().NoError(err)
	s.Len(all, 2)

	s.ErrorIs(s.store.SetActive(s.ctx, 404, false, ""), sentinel.ErrNotFound)
}
