// Package cache is the lazy-loading layer that sits in front of the LLM
// gateway: it caches generated content by key, judges when a cache entry
// is stale enough to regenerate, and rate-limits how often generation may
// actually run. The goal is the same one the reference prototype's lazy
// loader states directly: cut unnecessary LLM calls without ever serving
// content that no longer matches the player's situation.
package cache

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ContentType is the closed set of things this cache stores, each with
// its own default TTL.
type ContentType string

const (
	ContentLocation    ContentType = "location"
	ContentNPC         ContentType = "npc"
	ContentItem        ContentType = "item"
	ContentQuest       ContentType = "quest"
	ContentDialogue    ContentType = "dialogue"
	ContentNarrative   ContentType = "narrative"
	ContentDescription ContentType = "description"
	ContentCustom      ContentType = "custom"
)

// GenerationReason records why should_generate decided to (re)generate,
// or why it chose to reuse the cache.
type GenerationReason string

const (
	ReasonCacheHit      GenerationReason = "cache_hit"
	ReasonCacheMiss     GenerationReason = "cache_miss"
	ReasonStaleCache    GenerationReason = "stale_cache"
	ReasonForceRefresh  GenerationReason = "force_refresh"
	ReasonContextChange GenerationReason = "context_change"
)

// Config tunes cache TTLs, eviction limits, similarity threshold, and
// call-rate limits.
type Config struct {
	TTLDefault    time.Duration
	TTLLocation   time.Duration
	TTLNPC        time.Duration
	TTLNarrative  time.Duration
	MaxEntries    int

	SimilarityThreshold float64
	ReuseSimilarContent bool
	ContextAwareCaching bool

	MaxCallsPerMinute int
	MinCallInterval   time.Duration
}

// DefaultConfig mirrors the prototype's defaults.
func DefaultConfig() Config {
	return Config{
		TTLDefault:   time.Hour,
		TTLLocation:  2 * time.Hour,
		TTLNPC:       30 * time.Minute,
		TTLNarrative: 5 * time.Minute,
		MaxEntries:   1000,

		SimilarityThreshold: 0.8,
		ReuseSimilarContent: true,
		ContextAwareCaching: true,

		MaxCallsPerMinute: 20,
		MinCallInterval:   100 * time.Millisecond,
	}
}

func (c Config) ttlFor(contentType ContentType) time.Duration {
	switch contentType {
	case ContentLocation:
		return c.TTLLocation
	case ContentNPC:
		return c.TTLNPC
	case ContentNarrative:
		return c.TTLNarrative
	default:
		return c.TTLDefault
	}
}

// Entry is one cached piece of generated content.
type Entry struct {
	Key           string
	ContentType   ContentType
	Content       interface{}
	ContextHash   string
	CreatedAt     time.Time
	LastAccessed  time.Time
	AccessCount   int
	TTL           time.Duration
	Tags          map[string]struct{}
}

func (e *Entry) isExpired(now time.Time) bool {
	return now.Sub(e.CreatedAt) > e.TTL
}

func (e *Entry) isContextValid(currentHash string) bool {
	return e.ContextHash == currentHash
}

// Stats summarizes cache hit/miss/reuse/throttle behavior since process
// start, matching the fields the reference prototype's get_stats exposes.
type Stats struct {
	CacheHits      int
	CacheMisses    int
	SimilarReused  int
	CallsBlocked   int
	TotalCalls     int
	CacheHitRate   float64
	CacheSize      int
}

// Cache is a TTL-bounded, LRU-by-access-count store of generated content,
// grouped by ContentType for similarity lookups.
type Cache struct {
	mu     sync.Mutex
	logger zerolog.Logger
	config Config

	entries   map[string]*Entry
	typeIndex map[ContentType]map[string]struct{}

	now func() time.Time
}

// New builds an empty Cache.
func New(logger zerolog.Logger, config Config) *Cache {
	return &Cache{
		logger:    logger.With().Str("component", "content_cache").Logger(),
		config:    config,
		entries:   make(map[string]*Entry),
		typeIndex: make(map[ContentType]map[string]struct{}),
		now:       time.Now,
	}
}

// Get returns a cache entry and bumps its access bookkeeping. A miss
// returns (nil, false) rather than a zero value, since Entry carries no
// natural empty marker.
func (c *Cache) Get(key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	entry.LastAccessed = c.now()
	entry.AccessCount++
	return entry, true
}

// Set stores (or replaces) a cache entry, first evicting the entry with the
// lowest access count (ties: oldest last access) if the cache is at
// capacity. A zero ttl falls back to the
// content type's configured default.
func (c *Cache) Set(key string, content interface{}, contentType ContentType, contextHash string, ttl time.Duration, tags map[string]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.config.MaxEntries {
		c.evictLRULocked()
	}

	if ttl == 0 {
		ttl = c.config.ttlFor(contentType)
	}

	if old, exists := c.entries[key]; exists {
		delete(c.typeIndex[old.ContentType], key)
	}

	now := c.now()
	entry := &Entry{
		Key:          key,
		ContentType:  contentType,
		Content:      content,
		ContextHash:  contextHash,
		CreatedAt:    now,
		LastAccessed: now,
		TTL:          ttl,
		Tags:         tags,
	}
	c.entries[key] = entry
	if c.typeIndex[contentType] == nil {
		c.typeIndex[contentType] = make(map[string]struct{})
	}
	c.typeIndex[contentType][key] = struct{}{}
}

// Delete removes an entry if present.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleteLocked(key)
}

func (c *Cache) deleteLocked(key string) bool {
	entry, ok := c.entries[key]
	if !ok {
		return false
	}
	delete(c.entries, key)
	delete(c.typeIndex[entry.ContentType], key)
	return true
}

// Clear empties the cache entirely.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
	c.typeIndex = make(map[ContentType]map[string]struct{})
}

// GetByType returns every non-expired entry of a given content type.
func (c *Cache) GetByType(contentType ContentType) []*Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	keys := c.typeIndex[contentType]
	entries := make([]*Entry, 0, len(keys))
	for key := range keys {
		if entry, ok := c.entries[key]; ok && !entry.isExpired(now) {
			entries = append(entries, entry)
		}
	}
	return entries
}

// CleanupExpired removes every expired entry and returns the count
// removed.
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var expired []string
	for key, entry := range c.entries {
		if entry.isExpired(now) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		c.deleteLocked(key)
	}
	return len(expired)
}

// Size returns the current number of cached entries (expired or not).
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictLRULocked removes the entry with the lowest access count, breaking
// ties by oldest last-access time. Caller must hold c.mu.
func (c *Cache) evictLRULocked() {
	var lruKey string
	var lruEntry *Entry
	for key, entry := range c.entries {
		if lruEntry == nil ||
			entry.AccessCount < lruEntry.AccessCount ||
			(entry.AccessCount == lruEntry.AccessCount && entry.LastAccessed.Before(lruEntry.LastAccessed)) {
			lruKey = key
			lruEntry = entry
		}
	}
	if lruEntry != nil {
		c.deleteLocked(lruKey)
	}
}
