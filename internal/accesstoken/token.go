// Package accesstoken issues short-lived opaque tokens that let an admin open
// the web panel from a link the bot sends. Tokens carry no claims; the store
// maps them to a principal and slides their expiry on every use.
package accesstoken

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"go.uber.org/zap"

	"regdesk/pkg/domain"
)

const tokenBytes = 32

// Store is implemented by InMemory and Redis.
type Store interface {
	Issue(ctx context.Context, principal domain.PrincipalID) (string, error)
	Validate(ctx context.Context, token string) (domain.PrincipalID, bool, error)
	Revoke(ctx context.Context, token string) error
	Sweep(ctx context.Context) (int, error)
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate access token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func RunSweeper(ctx context.Context, store Store, interval time.Duration, logger *zap.Logger) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := store.Sweep(ctx)
			if err != nil {
				logger.Warn("access token sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Debug("expired access tokens removed", zap.Int("count", n))
			}
		}
	}
}
