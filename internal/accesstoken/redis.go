package accesstoken

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"

	"regdesk/pkg/domain"
)

const tokenKeyPrefix = "regdesk:panel_token:"

// Redis keeps tokens in Redis so every replica accepts the same links.
// Only a blake2b digest of the token is used as the key.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func tokenKey(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return tokenKeyPrefix + hex.EncodeToString(sum[:])
}

func (s *Redis) Issue(ctx context.Context, principal domain.PrincipalID) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, tokenKey(token), principal.String(), s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store access token: %w", err)
	}
	return token, nil
}

// Validate reads the token and refreshes its TTL in one GETEX round trip.
func (s *Redis) Validate(ctx context.Context, token string) (domain.PrincipalID, bool, error) {
	if token == "" {
		return 0, false, nil
	}
	raw, err := s.client.GetEx(ctx, tokenKey(token), s.ttl).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("validate access token: %w", err)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt access token entry: %w", err)
	}
	return domain.PrincipalID(id), true, nil
}

func (s *Redis) Revoke(ctx context.Context, token string) error {
	return s.client.Del(ctx, tokenKey(token)).Err()
}

// Sweep is a no-op: Redis expires keys on its own.
func (s *Redis) Sweep(context.Context) (int, error) {
	return 0, nil
}
