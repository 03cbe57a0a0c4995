package cooldown

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript increments the window counter, starts its expiry on the first
// attempt and returns the count with the remaining lifetime in milliseconds.
var takeScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
return {count, ttl}
`)

// RedisStore keeps windows in Redis so several processes share one budget
// per key. Each window is a counter whose TTL is the window length.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a store using client. Keys are namespaced by prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "cooldown"
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

// NewRedisStoreFromURL parses url, pings the server and returns a store.
func NewRedisStoreFromURL(ctx context.Context, url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStore(client, prefix), nil
}

// Take counts one attempt for key.
func (rs *RedisStore) Take(ctx context.Context, key string, length time.Duration) (Window, error) {
	res, err := takeScript.Run(ctx, rs.client, []string{rs.prefix + ":" + key}, length.Milliseconds()).Int64Slice()
	if err != nil {
		return Window{}, fmt.Errorf("redis take: %w", err)
	}
	if len(res) != 2 {
		return Window{}, fmt.Errorf("redis take: unexpected reply of %d values", len(res))
	}

	ttl := time.Duration(res[1]) * time.Millisecond
	if ttl < 0 {
		ttl = length
	}
	return Window{Count: int(res[0]), ResetsAt: rs.now().Add(ttl)}, nil
}

// Close closes the underlying client.
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}
