package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRevoked is returned for a token that is valid but no longer the active
// token of its user.
var ErrRevoked = errors.New("token revoked")

// Registry remembers the active token id of each user, so logging in again
// or logging out invalidates earlier tokens before they expire.
type Registry struct {
	rdb *redis.Client
}

func NewRegistry(rdb *redis.Client) *Registry {
	return &Registry{rdb: rdb}
}

func sessionKey(username string) string {
	return "session:" + username
}

// Activate makes claims the only valid token of its user.
func (r *Registry) Activate(ctx context.Context, claims *Claims) error {
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return ErrInvalidToken
	}
	if err := r.rdb.Set(ctx, sessionKey(claims.Username), claims.ID, ttl).Err(); err != nil {
		return fmt.Errorf("activate session: %w", err)
	}
	return nil
}

// Check fails with ErrRevoked unless claims is the active token.
func (r *Registry) Check(ctx context.Context, claims *Claims) error {
	active, err := r.rdb.Get(ctx, sessionKey(claims.Username)).Result()
	if errors.Is(err, redis.Nil) {
		return ErrRevoked
	}
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if active != claims.ID {
		return ErrRevoked
	}
	return nil
}

// Revoke drops the active token of username.
func (r *Registry) Revoke(ctx context.Context, username string) error {
	return r.rdb.Del(ctx, sessionKey(username)).Err()
}
