package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// LoadContext is the slice of session state a generation decision is
// judged against. Two requests with the same hash are considered to be
// asking about the same situation.
type LoadContext struct {
	PlayerID    string
	Location    string
	CrisisLevel int
	TotalMinutes int
	Flags       map[string]bool
}

// ComputeHash hashes the context down to an MD5 hex digest over a
// canonical JSON form: the crisis level as an int, time bucketed to the
// hour (not the minute, so it stays stable across a single hour of play),
// and flag keys sorted for determinism.
func (c LoadContext) ComputeHash() string {
	flagKeys := make([]string, 0, len(c.Flags))
	for k, v := range c.Flags {
		if v {
			flagKeys = append(flagKeys, k)
		}
	}
	sort.Strings(flagKeys)

	payload := struct {
		PlayerID    string   `json:"player_id"`
		Location    string   `json:"location"`
		CrisisLevel int      `json:"crisis_level"`
		HourBucket  int      `json:"hour_bucket"`
		Flags       []string `json:"flags"`
	}{
		PlayerID:    c.PlayerID,
		Location:    c.Location,
		CrisisLevel: c.CrisisLevel,
		HourBucket:  c.TotalMinutes / 60,
		Flags:       flagKeys,
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	sum := md5.Sum(encoded)
	return hex.EncodeToString(sum[:])
}

// Generator produces fresh content for a cache key when nothing usable is
// cached. It is the seam between this package and the LLM gateway.
type Generator func(ctx context.Context) (interface{}, error)

// Decision is the outcome of should_generate: whether to call the
// generator, why, and (on a cache reuse) what to serve instead.
type Decision struct {
	ShouldGenerate bool
	Reason         GenerationReason
	Reuse          *Entry
}

// Strategy orchestrates the content cache, similarity matcher, and rate
// limiter into a single get-or-generate decision per request.
type Strategy struct {
	cache      *Cache
	similarity *SimilarityMatcher
	limiter    *RateLimiter
	config     Config
	logger     zerolog.Logger

	mu            sync.Mutex
	cacheHits     int64
	cacheMisses   int64
	similarReused int64
	callsBlocked  int64
	totalCalls    int64
}

func NewStrategy(logger zerolog.Logger, config Config) *Strategy {
	return &Strategy{
		cache:      New(logger, config),
		similarity: NewSimilarityMatcher(config.SimilarityThreshold),
		limiter:    NewRateLimiter(config.MaxCallsPerMinute, config.MinCallInterval),
		config:     config,
		logger:     logger.With().Str("component", "lazy_loading_strategy").Logger(),
	}
}

// ShouldGenerate judges, in priority order, whether a request must call
// the generator: a forced refresh always wins, then a true cache miss,
// then an expired entry, then a context change (the cached content no
// longer matches the current situation), and finally a plain cache hit
// that needs nothing.
func (s *Strategy) ShouldGenerate(key string, contextHash string, forceRefresh bool) Decision {
	if forceRefresh {
		return Decision{ShouldGenerate: true, Reason: ReasonForceRefresh}
	}

	entry, ok := s.cache.Get(key)
	if !ok {
		return Decision{ShouldGenerate: true, Reason: ReasonCacheMiss}
	}

	now := s.cache.now()
	if entry.isExpired(now) {
		return Decision{ShouldGenerate: true, Reason: ReasonStaleCache}
	}

	if s.config.ContextAwareCaching && !entry.isContextValid(contextHash) {
		return Decision{ShouldGenerate: true, Reason: ReasonContextChange}
	}

	return Decision{ShouldGenerate: false, Reason: ReasonCacheHit, Reuse: entry}
}

// FindSimilar looks for a same-type cache entry whose content is similar
// enough to `query` to reuse in place of generating fresh content.
func (s *Strategy) FindSimilar(contentType ContentType, query string) (*Entry, bool) {
	if !s.config.ReuseSimilarContent {
		return nil, false
	}
	candidates := s.cache.GetByType(contentType)
	entry, _, ok := s.similarity.FindBest(query, candidates)
	return entry, ok
}

// GetOrGenerate is the single entry point callers use: it applies
// should_generate, falls back to a similar cached entry, and only calls
// the generator if nothing usable was found and the rate limiter allows
// it. If generation is blocked by the rate limiter but a stale cache
// entry exists, that stale entry is served rather than returning nothing.
func (s *Strategy) GetOrGenerate(ctx context.Context, key string, contentType ContentType, query string, lc LoadContext, forceRefresh bool, gen Generator) (interface{}, GenerationReason, error) {
	atomic.AddInt64(&s.totalCalls, 1)
	contextHash := lc.ComputeHash()

	decision := s.ShouldGenerate(key, contextHash, forceRefresh)
	if !decision.ShouldGenerate {
		atomic.AddInt64(&s.cacheHits, 1)
		return decision.Reuse.Content, ReasonCacheHit, nil
	}
	atomic.AddInt64(&s.cacheMisses, 1)

	if entry, ok := s.FindSimilar(contentType, query); ok {
		atomic.AddInt64(&s.similarReused, 1)
		return entry.Content, ReasonCacheHit, nil
	}

	if !s.limiter.CanCall() {
		atomic.AddInt64(&s.callsBlocked, 1)
		if stale, ok := s.cache.Get(key); ok {
			s.logger.Debug().Str("key", key).Msg("rate limited, serving stale cache entry")
			return stale.Content, ReasonStaleCache, nil
		}
		return nil, decision.Reason, ErrRateLimited
	}

	s.limiter.RecordCall()
	content, err := gen(ctx)
	if err != nil {
		if stale, ok := s.cache.Get(key); ok {
			s.logger.Debug().Err(err).Str("key", key).Msg("generation failed, serving stale cache entry")
			return stale.Content, ReasonStaleCache, nil
		}
		return nil, decision.Reason, err
	}

	s.cache.Set(key, content, contentType, contextHash, 0, nil)
	return content, decision.Reason, nil
}

// Stats reports cumulative cache and generation behavior.
func (s *Strategy) Stats() Stats {
	hits := atomic.LoadInt64(&s.cacheHits)
	misses := atomic.LoadInt64(&s.cacheMisses)

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		CacheHits:     int(hits),
		CacheMisses:   int(misses),
		SimilarReused: int(atomic.LoadInt64(&s.similarReused)),
		CallsBlocked:  int(atomic.LoadInt64(&s.callsBlocked)),
		TotalCalls:    int(atomic.LoadInt64(&s.totalCalls)),
		CacheHitRate:  hitRate,
		CacheSize:     s.cache.Size(),
	}
}

// Cache exposes the underlying content cache for callers that need direct
// access (e.g. periodic cleanup of expired entries).
func (s *Strategy) Cache() *Cache { return s.cache }
