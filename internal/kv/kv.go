// Package kv defines the typed key/value surface every higher-level store
// (map graph, event log, world state, cognition) is built on, plus a
// Redis-backed and an in-memory implementation of it.
package kv

import (
	"context"
	"time"
)

// Store is the minimal typed operation set the rest of the engine depends
// on. All values are UTF-8 bytes; callers are responsible for JSON
// encoding/decoding. A missing key/field/member is reported as a distinct
// "not found" result, never as an error.
type Store interface {
	Set(ctx context.Context, key, value string) error
	SetEX(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	HSet(ctx context.Context, key string, mapping map[string]string) error
	HGet(ctx context.Context, key, field string) (value string, found bool, err error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HExists(ctx context.Context, key, field string) (bool, error)

	RPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int) ([]string, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	ZAdd(ctx context.Context, key string, member string, score float64) error
	ZRevRange(ctx context.Context, key string, start, stop int) ([]string, error)
	ZRevRangeByScore(ctx context.Context, key string, min, max float64, limit int) ([]string, error)

	Keys(ctx context.Context, pattern string) ([]string, error)
}

// NormalizeRange mirrors Python's negative-index list slicing semantics used
// by the source's mock Redis client: negative indices count from the end,
// and the stop index is inclusive. MemoryStore uses it so its LRANGE/ZREVRANGE
// match Redis's native range handling; RedisStore passes indices straight to
// Redis and does not call it.
func NormalizeRange(length, start, stop int) (lo, hi int, ok bool) {
	if length == 0 {
		return 0, 0, false
	}
	if start < 0 {
		start = length + start
	}
	if stop < 0 {
		stop = length + stop
	}
	if start < 0 {
		start = 0
	}
	if stop >= length {
		stop = length - 1
	}
	if start > stop || start >= length {
		return 0, 0, false
	}
	return start, stop, true
}
