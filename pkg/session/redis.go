package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBackend keeps the session in a single Redis hash, so both fields are
// written by one HSET and removed by one DEL.
type RedisBackend struct {
	rdb *redis.Client
	key string
}

func NewRedisBackend(ctx context.Context, addr, key string) (*RedisBackend, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	if key == "" {
		key = "whisper:session"
	}
	return &RedisBackend{rdb: rdb, key: key}, nil
}

func (b *RedisBackend) Load(ctx context.Context) (Session, error) {
	fields, err := b.rdb.HGetAll(ctx, b.key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Session{}, err
	}
	return Session{Username: fields[KeyUser], Token: fields[KeyToken]}, nil
}

func (b *RedisBackend) Save(ctx context.Context, s Session) error {
	return b.rdb.HSet(ctx, b.key, KeyUser, s.Username, KeyToken, s.Token).Err()
}

func (b *RedisBackend) Clear(ctx context.Context) error {
	return b.rdb.Del(ctx, b.key).Err()
}

func (b *RedisBackend) Close() error {
	return b.rdb.Close()
}
