package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nagpalvipin/slido-clone-sub000/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const tokenKeyPrefix = "liveqa:token:"

var _ domain.TokenVerifier = (*TokenStore)(nil)

// TokenStore resolves handshake tokens written by the write layer. A key
// holds the role the token grants for one event.
type TokenStore struct {
	rdb *goredis.Client
}

func NewTokenStore(rdb *goredis.Client) *TokenStore {
	return &TokenStore{rdb: rdb}
}

func tokenKey(eventID domain.EventID, token string) string {
	return tokenKeyPrefix + string(eventID) + ":" + token
}

func (s *TokenStore) Verify(ctx context.Context, eventID domain.EventID, token string) (domain.Role, error) {
	if token == "" {
		return "", domain.ErrInvalidToken
	}

	value, err := s.rdb.Get(ctx, tokenKey(eventID, token)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", domain.ErrInvalidToken
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up token: %w", err)
	}

	role, err := domain.ParseRole(value)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrInvalidToken, err)
	}
	return role, nil
}

// Issue stores a token granting role for eventID. A zero ttl never expires.
func (s *TokenStore) Issue(ctx context.Context, eventID domain.EventID, token string, role domain.Role, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, tokenKey(eventID, token), string(role), ttl).Err(); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

// Revoke deletes a token; live connections opened with it stay open.
func (s *TokenStore) Revoke(ctx context.Context, eventID domain.EventID, token string) error {
	if err := s.rdb.Del(ctx, tokenKey(eventID, token)).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}
