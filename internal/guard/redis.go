package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a guard shared by every instance connected to the same Redis.
// Staleness is enforced by the key's expiry.
type Redis struct {
	client redis.UniversalClient
	opts   Options
}

// NewRedis creates a Redis guard.
func NewRedis(client redis.UniversalClient, opts Options) *Redis {
	return &Redis{client: client, opts: opts.withDefaults()}
}

// Acquire sets the key if absent, expiring it after staleAfter.
func (r *Redis) Acquire(ctx context.Context, key string, staleAfter time.Duration) (Lease, error) {
	token, err := r.opts.IDs.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate lock token: %w", err)
	}
	ok, err := r.client.SetNX(ctx, key, token, staleAfter).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	if !ok {
		return nil, ErrBusy
	}
	return &lease{
		key:   key,
		token: token,
		release: func(ctx context.Context) error {
			if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
				return fmt.Errorf("redis release %s: %w", key, err)
			}
			return nil
		},
	}, nil
}
