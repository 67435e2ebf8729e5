package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const redisCachePrefix = "dist:"

// Redis is a DistanceCache shared between service replicas. Expiry is left to Redis.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(url string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Redis{rdb: redis.NewClient(opt)}, nil
}

// NewRedisClient wraps an existing client, e.g. one pointed at miniredis in tests.
func NewRedisClient(rdb *redis.Client) *Redis { return &Redis{rdb: rdb} }

func (r *Redis) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

func (r *Redis) Close() error { return r.rdb.Close() }

func (r *Redis) GetMany(ctx context.Context, keys []string) (map[string]Cost, error) {
	out := make(map[string]Cost, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = redisCachePrefix + k
	}
	vals, err := r.rdb.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var c Cost
		if err := json.Unmarshal([]byte(s), &c); err != nil {
			continue
		}
		out[keys[i]] = c
	}
	return out, nil
}

func (r *Redis) PutMany(ctx context.Context, entries map[string]Cost, ttl time.Duration) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := r.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for k, c := range entries {
			b, err := json.Marshal(c)
			if err != nil {
				return err
			}
			p.Set(ctx, redisCachePrefix+k, b, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis pipeline set: %w", err)
	}
	return nil
}

// Clear deletes every cache key; other keys in the database are left alone.
func (r *Redis) Clear(ctx context.Context) error {
	iter := r.rdb.Scan(ctx, 0, redisCachePrefix+"*", 500).Iterator()
	batch := make([]string, 0, 500)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := r.rdb.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(batch) > 0 {
		if err := r.rdb.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}
	return nil
}
