package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"regdesk/internal/conversation/models"
	"regdesk/pkg/domain"
	"regdesk/pkg/platform/sentinel"
)

const sessionKeyPrefix = "regdesk:session:"

// Redis stores sessions as JSON with a TTL, so abandoned dialogues expire
// and sessions survive a restart.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func sessionKey(p domain.PrincipalID) string {
	return sessionKeyPrefix + p.String()
}

func (s *Redis) Get(ctx context.Context, p domain.PrincipalID) (*models.Session, error) {
	raw, err := s.client.Get(ctx, sessionKey(p)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var sess models.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (s *Redis) Save(ctx context.Context, p domain.PrincipalID, sess *models.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(p), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Redis) Delete(ctx context.Context, p domain.PrincipalID) error {
	if err := s.client.Del(ctx, sessionKey(p)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
