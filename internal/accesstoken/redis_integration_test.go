//go:build integration

package accesstoken_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"regdesk/internal/accesstoken"
	"regdesk/pkg/domain"
	"regdesk/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *accesstoken.Redis
	ctx   context.Context
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = accesstoken.NewRedis(s.redis.Client, time.Minute)
	s.ctx = context.Background()
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(s.ctx))
}

func (s *RedisStoreSuite) TestIssueValidateRevoke() {
	token, err := s.store.Issue(s.ctx, 1001)
	s.Require().NoError(err)

	principal, ok, err := s.store.Validate(s.ctx, token)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(domain.PrincipalID(1001), principal)

	s.Require().NoError(s.store.Revoke(s.ctx, token))
	_, ok, err = s.store.Validate(s.ctx, token)
	s.Require().NoError(err)
	s.False(ok)
}

func (s *RedisStoreSuite) TestRawTokenNeverStored() {
	token, err := s.store.Issue(s.ctx, 5)
	s.Require().NoError(err)

	keys, err := s.redis.Client.Keys(s.ctx, "*").Result()
	s.Require().NoError(err)
	s.Require().Len(keys, 1)
	s.False(strings.Contains(keys[0], token))
}

func (s *RedisStoreSuite) TestValidateRefreshesTTL() {
	token, err := s.store.Issue(s.ctx, 5)
	s.Require().NoError(err)

	keys, err := s.redis.Client.Keys(s.ctx, "*").Result()
	s.Require().NoError(err)
	s.Require().Len(keys, 1)

	s.Require().NoError(s.redis.Client.Expire(s.ctx, keys[0], 5*time.Second).Err())
	_, ok, err := s.store.Validate(s.ctx, token)
	s.Require().NoError(err)
	s.True(ok)

	ttl, err := s.redis.Client.TTL(s.ctx, keys[0]).Result()
	s.Require().NoError(err)
	s.Greater(ttl, 50*time.Second)

	n, err := s.store.Sweep(s.ctx)
	s.NoError(err)
	s.Zero(n)
}
