package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const usersKey = "users"

var errUserNotFound = errors.New("user not found")

// redisUsers keeps password hashes in one Redis hash keyed by username.
type redisUsers struct {
	rdb *redis.Client
}

func (u *redisUsers) Create(ctx context.Context, username string, hash []byte) (bool, error) {
	ok, err := u.rdb.HSetNX(ctx, usersKey, username, hash).Result()
	if err != nil {
		return false, fmt.Errorf("create user: %w", err)
	}
	return ok, nil
}

func (u *redisUsers) PasswordHash(ctx context.Context, username string) ([]byte, error) {
	hash, err := u.rdb.HGet(ctx, usersKey, username).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return hash, nil
}
