package kv

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Sergey-Bar-Alfred/rpgrt/internal/config"
	"github.com/redis/go-redis/v9"
)

// RedisStore adapts github.com/redis/go-redis/v9 to the Store interface.
type RedisStore struct {
	c *redis.Client
}

// NewRedisStore dials Redis using the supplied configuration. Connection
// failure at construction is treated as fatal per the KV adapter contract.
func NewRedisStore(cfg config.KVConfig) (*RedisStore, error) {
	c := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("kv: redis connect: %w", err)
	}
	return &RedisStore{c: c}, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	return r.c.Set(ctx, key, value, 0).Err()
}

func (r *RedisStore) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.c.Set(ctx, key, value, ttl).Err()
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.c.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.c.Del(ctx, keys...).Err()
}

func (r *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.c.Exists(ctx, key).Result()
	return n > 0, err
}

func (r *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.c.Expire(ctx, key, ttl).Err()
}

func (r *RedisStore) HSet(ctx context.Context, key string, mapping map[string]string) error {
	if len(mapping) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(mapping)*2)
	for k, v := range mapping {
		args = append(args, k, v)
	}
	return r.c.HSet(ctx, key, args...).Err()
}

func (r *RedisStore) HGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := r.c.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.c.HGetAll(ctx, key).Result()
}

func (r *RedisStore) HExists(ctx context.Context, key, field string) (bool, error) {
	return r.c.HExists(ctx, key, field).Result()
}

func (r *RedisStore) RPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return r.c.RPush(ctx, key, args...).Err()
}

func (r *RedisStore) LRange(ctx context.Context, key string, start, stop int) ([]string, error) {
	return r.c.LRange(ctx, key, int64(start), int64(stop)).Result()
}

func (r *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return r.c.SAdd(ctx, key, args...).Err()
}

func (r *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	return r.c.SMembers(ctx, key).Result()
}

func (r *RedisStore) ZAdd(ctx context.Context, key string, member string, score float64) error {
	return r.c.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (r *RedisStore) ZRevRange(ctx context.Context, key string, start, stop int) ([]string, error) {
	return r.c.ZRevRange(ctx, key, int64(start), int64(stop)).Result()
}

func (r *RedisStore) ZRevRangeByScore(ctx context.Context, key string, min, max float64, limit int) ([]string, error) {
	by := &redis.ZRangeBy{
		Min: strconv.FormatFloat(min, 'f', -1, 64),
		Max: strconv.FormatFloat(max, 'f', -1, 64),
	}
	if limit > 0 {
		by.Count = int64(limit)
	}
	return r.c.ZRevRangeByScore(ctx, key, by).Result()
}

func (r *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	return r.c.Keys(ctx, pattern).Result()
}
