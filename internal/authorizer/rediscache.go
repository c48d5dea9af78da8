package authorizer

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix  = "authz:decision:"
	redisUserPrefix = "authz:user:"
)

type redisEnvelope struct {
	Decision Decision `json:"decision"`
	UserID   string   `json:"user_id"`
}

// RedisCache is a DecisionCache shared across replicas. Misses on transport
// errors: a broken cache degrades to recomputing decisions, never to serving
// stale ones.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache returns a DecisionCache over client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get returns the cached decision for key if present.
func (c *RedisCache) Get(ctx context.Context, key string) (*Decision, bool) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("authorizer: redis get failed: %v", err)
		}
		return nil, false
	}
	var env redisEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false
	}
	return &env.Decision, true
}

// Set stores d under key for ttl and indexes it under the user's key set.
// The set outlives its members slightly; InvalidateUser tolerates members
// that already expired.
func (c *RedisCache) Set(ctx context.Context, key, userID string, d *Decision, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(redisEnvelope{Decision: *d, UserID: userID})
	if err != nil {
		return
	}
	pipe := c.client.Pipeline()
	pipe.Set(ctx, redisKeyPrefix+key, raw, ttl)
	if userID != "" {
		userKey := redisUserPrefix + userID
		pipe.SAdd(ctx, userKey, key)
		pipe.Expire(ctx, userKey, ttl+time.Minute)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("authorizer: redis set failed: %v", err)
	}
}

// InvalidateUser drops every cached decision indexed under userID.
func (c *RedisCache) InvalidateUser(ctx context.Context, userID string) error {
	userKey := redisUserPrefix + userID
	keys, err := c.client.SMembers(ctx, userKey).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	pipe := c.client.Pipeline()
	for _, key := range keys {
		pipe.Del(ctx, redisKeyPrefix+key)
	}
	pipe.Del(ctx, userKey)
	_, err = pipe.Exec(ctx)
	return err
}
