package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"storefront/backend/internal/domain"
)

type RedisStoreCache struct {
	client *redis.Client
}

func NewRedisStoreCache(addr string, password string, db int) *RedisStoreCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisStoreCache{client: client}
}

func (c *RedisStoreCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisStoreCache) Close() error {
	return c.client.Close()
}

func (c *RedisStoreCache) Get(ctx context.Context, id string) (*domain.Store, bool, error) {
	val, err := c.client.Get(ctx, storeKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var s domain.Store
	if err := json.Unmarshal(val, &s); err != nil {
		// stale layout from an older build; drop it and let the caller reload
		if delErr := c.client.Del(ctx, storeKey(id)).Err(); delErr != nil {
			return nil, false, fmt.Errorf("evict unreadable store %s: %w", id, delErr)
		}
		return nil, false, nil
	}
	return &s, true, nil
}

func (c *RedisStoreCache) Set(ctx context.Context, value *domain.Store, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, storeKey(value.ID), payload, ttl).Err()
}

func (c *RedisStoreCache) Delete(ctx context.Context, id string) error {
	return c.client.Del(ctx, storeKey(id)).Err()
}
