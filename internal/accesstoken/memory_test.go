package accesstoken_test

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"regdesk/internal/accesstoken"
	"regdesk/pkg/domain"
)

type MemoryStoreSuite struct {
	suite.Suite
	now   time.Time
	store *accesstoken.InMemory
	ctx   context.Context
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.now = time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	s.store = accesstoken.NewInMemory(10*time.Minute, accesstoken.WithClock(func() time.Time { return s.now }))
	s.ctx = context.Background()
}

func (s *MemoryStoreSuite) TestIssueAndValidate() {
	token, err := s.store.Issue(s.ctx, 1001)
	s.Require().NoError(err)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	s.Require().NoError(err)
	s.Len(raw, 32)

	principal, ok, err := s.store.Validate(s.ctx, token)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(domain.PrincipalID(1001), principal)

	other, err := s.store.Issue(s.ctx, 1001)
	s.Require().NoError(err)
	s.NotEqual(token, other)
}

func (s *MemoryStoreSuite) TestUnknownAndEmptyTokens() {
	_, ok, err := s.store.Validate(s.ctx, "")
	s.NoError(err)
	s.False(ok)

	_, ok, err = s.store.Validate(s.ctx, "not-a-token")
	s.NoError(err)
	s.False(ok)
}

func (s *MemoryStoreSuite) TestSlidingExpiry() {
	token, err := s.store.Issue(s.ctx, 7)
	s.Require().NoError(err)

	s.Run("each use extends the lifetime", func() {
		for range 3 {
			s.now = s.now.Add(9 * time.Minute)
			_, ok, err := s.store.Validate(s.ctx, token)
			s.Require().NoError(err)
			s.True(ok)
		}
	})

	s.Run("idle past the ttl expires", func() {
		s.now = s.now.Add(10 * time.Minute)
		_, ok, err := s.store.Validate(s.ctx, token)
		s.Require().NoError(err)
		s.False(ok)
		s.Zero(s.store.Len(), "expired token removed on sight")
	})
}

func (s *MemoryStoreSuite) TestRevoke() {
	token, err := s.store.Issue(s.ctx, 7)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Revoke(s.ctx, token))

	_, ok, err := s.store.Validate(s.ctx, token)
	s.NoError(err)
	s.False(ok)
}

func (s *MemoryStoreSuite) TestSweepIsIdempotent() {
	_, err := s.store.Issue(s.ctx, 1)
	s.Require().NoError(err)
	_, err = s.store.Issue(s.ctx, 2)
	s.Require().NoError(err)
	s.now = s.now.Add(5 * time.Minute)
	fresh, err := s.store.Issue(s.ctx, 3)
	s.Require().NoError(err)

	s.now = s.now.Add(6 * time.Minute)
	n, err := s.store.Sweep(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, n)

	n, err = s.store.Sweep(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)

	_, ok, err := s.store.Validate(s.ctx, fresh)
	s.NoError(err)
	s.True(ok)
}
