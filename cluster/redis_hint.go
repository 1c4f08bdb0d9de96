package cluster

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisHintCache is the production HintCache: a sticky user->node mapping
// shared by every scheduler replica instead of kept process-local like
// memHintCache, so a WhichNode resolution survives a scheduler restart
// and stays consistent across a multi-scheduler deployment.
type RedisHintCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisHintCache wraps an already-configured redis.Client. ttl, if
// positive, is applied to every Set so a hint for a user who never
// reconnects eventually falls out of the cache; zero means hints never
// expire on their own, relying entirely on Evict.
func NewRedisHintCache(client *redis.Client, ttl time.Duration) *RedisHintCache {
	return &RedisHintCache{client: client, ttl: ttl, prefix: "mesh:hint:"}
}

func (c *RedisHintCache) key(userID uint64) string {
	return fmt.Sprintf("%s%d", c.prefix, userID)
}

// Get implements HintCache.
func (c *RedisHintCache) Get(ctx context.Context, userID uint64) (uint32, bool, error) {
	raw, err := c.client.Get(ctx, c.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if len(raw) != 4 {
		return 0, false, fmt.Errorf("cluster: malformed hint value for user %d", userID)
	}
	return binary.BigEndian.Uint32(raw), true, nil
}

// Set implements HintCache.
func (c *RedisHintCache) Set(ctx context.Context, userID uint64, nodeID uint32) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, nodeID)
	return c.client.Set(ctx, c.key(userID), buf, c.ttl).Err()
}

// Evict implements HintCache.
func (c *RedisHintCache) Evict(ctx context.Context, userID uint64) error {
	return c.client.Del(ctx, c.key(userID)).Err()
}
