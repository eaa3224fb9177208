package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/Firefox2100/dedi-gateway/pkg/types"
)

// RedisCache shares challenges and routes between gateway replicas
// through Redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an existing Redis client. The caller owns the
// client lifecycle unless Close is used.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func challengeKey(nonce string) string {
	return fmt.Sprintf("challenge:%s", nonce)
}

func routeKey(nodeID string) string {
	return fmt.Sprintf("route:%s", nodeID)
}

func (c *RedisCache) SaveChallenge(ctx context.Context, nonce string, difficulty int) error {
	return c.client.Set(ctx, challengeKey(nonce), difficulty, ChallengeTTL).Err()
}

func (c *RedisCache) GetChallenge(ctx context.Context, nonce string) (int, bool, error) {
	val, err := c.client.Get(ctx, challengeKey(nonce)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, err
	}

	difficulty, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, fmt.Errorf("malformed challenge entry for %s: %w", nonce, err)
	}
	return difficulty, true, nil
}

func (c *RedisCache) DeleteChallenge(ctx context.Context, nonce string) (bool, error) {
	deleted, err := c.client.Del(ctx, challengeKey(nonce)).Result()
	if err != nil {
		return false, err
	}
	return deleted > 0, nil
}

func (c *RedisCache) SaveRoute(ctx context.Context, route *types.Route) error {
	data, err := json.Marshal(route)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, routeKey(route.NodeID), data, 0).Err()
}

func (c *RedisCache) GetRoute(ctx context.Context, nodeID string) (*types.Route, error) {
	data, err := c.client.Get(ctx, routeKey(nodeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var route types.Route
	if err := json.Unmarshal(data, &route); err != nil {
		return nil, fmt.Errorf("malformed route entry for %s: %w", nodeID, err)
	}
	return &route, nil
}

func (c *RedisCache) DeleteRoute(ctx context.Context, nodeID string) (bool, error) {
	deleted, err := c.client.Del(ctx, routeKey(nodeID)).Result()
	if err != nil {
		return false, err
	}
	return deleted > 0, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

var (
	_ Cache = (*MemoryCache)(nil)
	_ Cache = (*RedisCache)(nil)
)
