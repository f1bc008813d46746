package presence

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const onlineKey = "presence:global"

// leaveScript decrements the connection count of a user and removes the
// field once it reaches zero, in one step.
var leaveScript = redis.NewScript(`
local n = redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
if n <= 0 then
	redis.call('HDEL', KEYS[1], ARGV[1])
end
return n
`)

// Registry counts live connections per user in Redis, shared by all
// gateway instances.
type Registry struct {
	rdb *redis.Client
}

func NewRegistry(rdb *redis.Client) *Registry {
	return &Registry{rdb: rdb}
}

// Join reports whether this is the first connection of username.
func (r *Registry) Join(ctx context.Context, username string) (bool, error) {
	n, err := r.rdb.HIncrBy(ctx, onlineKey, username, 1).Result()
	if err != nil {
		return false, fmt.Errorf("presence join: %w", err)
	}
	return n == 1, nil
}

// Leave reports whether username has no connection left.
func (r *Registry) Leave(ctx context.Context, username string) (bool, error) {
	n, err := leaveScript.Run(ctx, r.rdb, []string{onlineKey}, username).Int64()
	if err != nil {
		return false, fmt.Errorf("presence leave: %w", err)
	}
	return n <= 0, nil
}

// Online returns the users with at least one connection, sorted.
func (r *Registry) Online(ctx context.Context) ([]string, error) {
	counts, err := r.rdb.HGetAll(ctx, onlineKey).Result()
	if err != nil {
		return nil, fmt.Errorf("presence list: %w", err)
	}
	users := make([]string, 0, len(counts))
	for user, c := range counts {
		if n, err := strconv.Atoi(c); err == nil && n > 0 {
			users = append(users, user)
		}
	}
	slices.Sort(users)
	return users, nil
}
