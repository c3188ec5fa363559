package kv

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

type zmember struct {
	member string
	score  float64
}

// MemoryStore is an in-process Store implementation with the same
// observable semantics as the Redis back-end, including negative-index list
// ranges and stable (insertion-order) sorted-set tie-breaking. It exists so
// unit tests and the companion worker's test doubles never need a live
// Redis instance.
type MemoryStore struct {
	mu sync.RWMutex

	strings map[string]string
	hashes  map[string]map[string]string
	lists   map[string][]string
	sets    map[string]map[string]struct{}
	zsets   map[string][]zmember
	ttl     map[string]time.Time
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		strings: map[string]string{},
		hashes:  map[string]map[string]string{},
		lists:   map[string][]string{},
		sets:    map[string]map[string]struct{}{},
		zsets:   map[string][]zmember{},
		ttl:     map[string]time.Time{},
	}
}

func (m *MemoryStore) expired(key string) bool {
	if at, ok := m.ttl[key]; ok {
		return time.Now().After(at)
	}
	return false
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strings[key] = value
	delete(m.ttl, key)
	return nil
}

func (m *MemoryStore) SetEX(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strings[key] = value
	m.ttl[key] = time.Now().Add(ttl)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		delete(m.strings, key)
		return "", false, nil
	}
	v, ok := m.strings[key]
	return v, ok, nil
}

func (m *MemoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.strings, k)
		delete(m.hashes, k)
		delete(m.lists, k)
		delete(m.sets, k)
		delete(m.zsets, k)
		delete(m.ttl, k)
	}
	return nil
}

func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.expired(key) {
		return false, nil
	}
	if _, ok := m.strings[key]; ok {
		return true, nil
	}
	if _, ok := m.hashes[key]; ok {
		return true, nil
	}
	if _, ok := m.lists[key]; ok {
		return true, nil
	}
	if _, ok := m.sets[key]; ok {
		return true, nil
	}
	if _, ok := m.zsets[key]; ok {
		return true, nil
	}
	return false, nil
}

func (m *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ttl[key] = time.Now().Add(ttl)
	return nil
}

func (m *MemoryStore) HSet(_ context.Context, key string, mapping map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = map[string]string{}
		m.hashes[key] = h
	}
	for k, v := range mapping {
		h[k] = v
	}
	return nil
}

func (m *MemoryStore) HGet(_ context.Context, key, field string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.hashes[key]
	if !ok {
		return "", false, nil
	}
	v, ok := h[field]
	return v, ok, nil
}

func (m *MemoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[string]string{}
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) HExists(_ context.Context, key, field string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.hashes[key]
	if !ok {
		return false, nil
	}
	_, ok = h[field]
	return ok, nil
}

func (m *MemoryStore) RPush(_ context.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append(m.lists[key], values...)
	return nil
}

func (m *MemoryStore) LRange(_ context.Context, key string, start, stop int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lst := m.lists[key]
	lo, hi, ok := NormalizeRange(len(lst), start, stop)
	if !ok {
		return []string{}, nil
	}
	out := make([]string, hi-lo+1)
	copy(out, lst[lo:hi+1])
	return out, nil
}

func (m *MemoryStore) SAdd(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[key]
	if !ok {
		s = map[string]struct{}{}
		m.sets[key] = s
	}
	for _, mem := range members {
		s[mem] = struct{}{}
	}
	return nil
}

func (m *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sets[key]))
	for mem := range m.sets[key] {
		out = append(out, mem)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) ZAdd(_ context.Context, key string, member string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	z := m.zsets[key]
	for i, zm := range z {
		if zm.member == member {
			z[i].score = score
			return nil
		}
	}
	m.zsets[key] = append(z, zmember{member: member, score: score})
	return nil
}

// sortedDescending returns a copy stable-sorted by descending score (ties
// keep insertion order), mirroring the stability of Python's
// sorted(..., reverse=True) used by the reference mock Redis client.
func sortedDescending(z []zmember) []zmember {
	out := make([]zmember, len(z))
	copy(out, z)
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out
}

func (m *MemoryStore) ZRevRange(_ context.Context, key string, start, stop int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	desc := sortedDescending(m.zsets[key])
	lo, hi, ok := NormalizeRange(len(desc), start, stop)
	if !ok {
		return []string{}, nil
	}
	out := make([]string, 0, hi-lo+1)
	for _, zm := range desc[lo : hi+1] {
		out = append(out, zm.member)
	}
	return out, nil
}

func (m *MemoryStore) ZRevRangeByScore(_ context.Context, key string, min, max float64, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	desc := sortedDescending(m.zsets[key])
	out := make([]string, 0, len(desc))
	for _, zm := range desc {
		if zm.score >= min && zm.score <= max {
			out = append(out, zm.member)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := map[string]struct{}{}
	for k := range m.strings {
		seen[k] = struct{}{}
	}
	for k := range m.hashes {
		seen[k] = struct{}{}
	}
	for k := range m.lists {
		seen[k] = struct{}{}
	}
	for k := range m.sets {
		seen[k] = struct{}{}
	}
	for k := range m.zsets {
		seen[k] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		if ok, _ := filepath.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}
