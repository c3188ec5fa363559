package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestSetGetRoundTripsAndBumpsAccessCount(t *testing.T) {
	c := New(testLogger(), DefaultConfig())
	c.Set("k1", "hello world", ContentNarrative, "hash1", 0, nil)

	entry, ok := c.Get("k1")
	if !ok {
		t.Fatalf("expected hit")
	}
	if entry.Content != "hello world" {
		t.Fatalf("got %v", entry.Content)
	}
	if entry.AccessCount != 1 {
		t.Fatalf("expected access count 1, got %d", entry.AccessCount)
	}
	c.Get("k1")
	if entry.AccessCount != 2 {
		t.Fatalf("expected access count 2, got %d", entry.AccessCount)
	}
}

func TestDefaultTTLVariesByContentType(t *testing.T) {
	cfg := DefaultConfig()
	c := New(testLogger(), cfg)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	c.Set("loc", "x", ContentLocation, "h", 0, nil)
	c.Set("npc", "x", ContentNPC, "h", 0, nil)

	loc, _ := c.Get("loc")
	npc, _ := c.Get("npc")
	if loc.TTL != cfg.TTLLocation {
		t.Fatalf("expected location TTL %v, got %v", cfg.TTLLocation, loc.TTL)
	}
	if npc.TTL != cfg.TTLNPC {
		t.Fatalf("expected npc TTL %v, got %v", cfg.TTLNPC, npc.TTL)
	}
}

func TestCleanupExpiredRemovesOnlyStaleEntries(t *testing.T) {
	c := New(testLogger(), DefaultConfig())
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return start }
	c.Set("stale", "x", ContentNarrative, "h", time.Minute, nil)
	c.Set("fresh", "x", ContentLocation, "h", time.Hour, nil)

	c.now = func() time.Time { return start.Add(2 * time.Minute) }
	removed := c.CleanupExpired()
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Fatalf("fresh entry should survive")
	}
	if _, ok := c.Get("stale"); ok {
		t.Fatalf("stale entry should be gone")
	}
}

func TestEvictionPrefersLowestAccessCountThenOldestAccess(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEntries = 2
	c := New(testLogger(), cfg)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	c.now = func() time.Time { return base }
	c.Set("a", "x", ContentNarrative, "h", 0, nil)
	c.now = func() time.Time { return base.Add(time.Second) }
	c.Set("b", "x", ContentNarrative, "h", 0, nil)

	// touch "a" twice so it has the higher access count, "b" stays at 0.
	c.Get("a")
	c.Get("a")

	c.now = func() time.Time { return base.Add(2 * time.Second) }
	c.Set("c", "x", ContentNarrative, "h", 0, nil)

	if _, ok := c.Get("b"); ok {
		t.Fatalf("expected b (lowest access count) to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected a to survive eviction")
	}
}

func TestJaccardSimilarityMatchesIdenticalAndDisjointText(t *testing.T) {
	if s := jaccardSimilarity("the dark cave echoes", "the dark cave echoes"); s != 1.0 {
		t.Fatalf("expected identical text to score 1.0, got %v", s)
	}
	if s := jaccardSimilarity("sunny meadow", "collapsing mineshaft"); s != 0.0 {
		t.Fatalf("expected disjoint text to score 0.0, got %v", s)
	}
	s := jaccardSimilarity("a dark damp cave", "a dark dry cave")
	if s <= 0 || s >= 1 {
		t.Fatalf("expected partial overlap strictly between 0 and 1, got %v", s)
	}
}

func TestSimilarityMatcherFindBestRespectsThreshold(t *testing.T) {
	m := NewSimilarityMatcher(0.5)
	candidates := []*Entry{
		{Content: "a dark and damp cave"},
		{Content: "a sunlit meadow"},
	}
	best, score, ok := m.FindBest("a dark and dry cave", candidates)
	if !ok || best.Content != "a dark and damp cave" {
		t.Fatalf("expected the cave entry to match, got %+v score=%v ok=%v", best, score, ok)
	}

	_, _, ok = m.FindBest("a sunken shipwreck", candidates)
	if ok {
		t.Fatalf("expected no match above threshold")
	}
}

func TestSimilarityMatcherMatchesMappingPayloadsOnNameAndDescription(t *testing.T) {
	m := NewSimilarityMatcher(0.5)
	candidates := []*Entry{
		{Content: map[string]interface{}{"name": "Flooded Cellar", "description": "a dark and damp cave"}},
		{Content: map[string]interface{}{"name": "Meadow", "description": "a sunlit meadow"}},
	}
	best, _, ok := m.FindBest("a dark and dry cave", candidates)
	if !ok || best.Content.(map[string]interface{})["name"] != "Flooded Cellar" {
		t.Fatalf("expected the cellar entry to match, got %+v ok=%v", best, ok)
	}
}

func TestRateLimiterEnforcesCountAndInterval(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRateLimiter(2, 10*time.Second)
	r.now = func() time.Time { return base }

	if !r.CanCall() {
		t.Fatalf("expected first call allowed")
	}
	r.RecordCall()

	r.now = func() time.Time { return base.Add(time.Second) }
	if r.CanCall() {
		t.Fatalf("expected min interval to block immediate second call")
	}

	r.now = func() time.Time { return base.Add(11 * time.Second) }
	if !r.CanCall() {
		t.Fatalf("expected call allowed once min interval elapses")
	}
	r.RecordCall()

	r.now = func() time.Time { return base.Add(12 * time.Second) }
	if r.CanCall() {
		t.Fatalf("expected per-minute count cap to block third call")
	}
	wait := r.WaitTime()
	if wait <= 0 {
		t.Fatalf("expected positive wait time, got %v", wait)
	}
}

func TestStrategyGetOrGenerateCachesGeneratedContent(t *testing.T) {
	s := NewStrategy(testLogger(), DefaultConfig())
	calls := 0
	gen := func(ctx context.Context) (interface{}, error) {
		calls++
		return "freshly generated narration", nil
	}
	lc := LoadContext{PlayerID: "p1", Location: "cave", CrisisLevel: 1, TotalMinutes: 90}

	content, reason, err := s.GetOrGenerate(context.Background(), "k1", ContentNarrative, "narration", lc, false, gen)
	if err != nil {
		t.Fatalf("GetOrGenerate: %v", err)
	}
	if reason != ReasonCacheMiss {
		t.Fatalf("expected cache_miss reason on first call, got %v", reason)
	}
	if content != "freshly generated narration" {
		t.Fatalf("got %v", content)
	}

	content2, reason2, err := s.GetOrGenerate(context.Background(), "k1", ContentNarrative, "narration", lc, false, gen)
	if err != nil {
		t.Fatalf("GetOrGenerate: %v", err)
	}
	if reason2 != ReasonCacheHit {
		t.Fatalf("expected cache_hit on second call, got %v", reason2)
	}
	if content2 != content {
		t.Fatalf("expected cached content reused")
	}
	if calls != 1 {
		t.Fatalf("expected generator called exactly once, got %d", calls)
	}

	stats := s.Stats()
	if stats.CacheHits != 1 || stats.CacheMisses != 1 || stats.TotalCalls != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestStrategyServesStaleCacheWhenRateLimited(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCallsPerMinute = 1
	cfg.ReuseSimilarContent = false
	s := NewStrategy(testLogger(), cfg)
	lc := LoadContext{PlayerID: "p1", Location: "cave", CrisisLevel: 1}

	first := func(ctx context.Context) (interface{}, error) { return "first content", nil }
	if _, _, err := s.GetOrGenerate(context.Background(), "k1", ContentNarrative, "q", lc, false, first); err != nil {
		t.Fatalf("first GetOrGenerate: %v", err)
	}

	// Force a context change by flipping location, which requires a fresh
	// generation, but the rate limiter is already exhausted.
	lc2 := lc
	lc2.Location = "forest"
	blocked := func(ctx context.Context) (interface{}, error) {
		t.Fatalf("generator should not be called while rate limited")
		return nil, nil
	}
	content, reason, err := s.GetOrGenerate(context.Background(), "k1", ContentNarrative, "q", lc2, false, blocked)
	if err != nil {
		t.Fatalf("expected stale cache fallback, got error %v", err)
	}
	if reason != ReasonStaleCache {
		t.Fatalf("expected stale_cache reason, got %v", reason)
	}
	if content != "first content" {
		t.Fatalf("expected stale content served, got %v", content)
	}
}

func TestStrategyReturnsRateLimitedErrorWithNoCacheToFallBackOn(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCallsPerMinute = 0
	s := NewStrategy(testLogger(), cfg)
	lc := LoadContext{PlayerID: "p1", Location: "cave"}

	_, _, err := s.GetOrGenerate(context.Background(), "missing", ContentNarrative, "q", lc, false, func(ctx context.Context) (interface{}, error) {
		t.Fatalf("generator should not run")
		return nil, nil
	})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestStrategyServesStaleCacheWhenGenerationFails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReuseSimilarContent = false
	// No min interval, so the second call reaches the failing generator
	// instead of being turned away by the rate limiter.
	cfg.MinCallInterval = 0
	s := NewStrategy(testLogger(), cfg)
	lc := LoadContext{PlayerID: "p1", Location: "cave", CrisisLevel: 1}

	first := func(ctx context.Context) (interface{}, error) { return "first content", nil }
	if _, _, err := s.GetOrGenerate(context.Background(), "k1", ContentNarrative, "q", lc, false, first); err != nil {
		t.Fatalf("first GetOrGenerate: %v", err)
	}

	failing := func(ctx context.Context) (interface{}, error) { return nil, errors.New("gateway unreachable") }
	content, reason, err := s.GetOrGenerate(context.Background(), "k1", ContentNarrative, "q", lc, true, failing)
	if err != nil {
		t.Fatalf("expected stale cache fallback, got error %v", err)
	}
	if reason != ReasonStaleCache {
		t.Fatalf("expected stale_cache reason, got %v", reason)
	}
	if content != "first content" {
		t.Fatalf("expected stale content served, got %v", content)
	}
}

func TestStrategyReturnsGenerationErrorWithNoCacheToFallBackOn(t *testing.T) {
	cfg := DefaultConfig()
	s := NewStrategy(testLogger(), cfg)
	lc := LoadContext{PlayerID: "p1", Location: "cave"}

	wantErr := errors.New("gateway unreachable")
	_, _, err := s.GetOrGenerate(context.Background(), "missing", ContentNarrative, "q", lc, false, func(ctx context.Context) (interface{}, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected generator error to propagate, got %v", err)
	}
}

func TestLoadContextComputeHashIgnoresFlagOrderAndMinuteJitter(t *testing.T) {
	a := LoadContext{PlayerID: "p1", Location: "cave", CrisisLevel: 2, TotalMinutes: 65, Flags: map[string]bool{"torch": true, "rope": true}}
	b := LoadContext{PlayerID: "p1", Location: "cave", CrisisLevel: 2, TotalMinutes: 119, Flags: map[string]bool{"rope": true, "torch": true}}
	if a.ComputeHash() != b.ComputeHash() {
		t.Fatalf("expected same-hour, same-flags contexts to hash identically")
	}

	c := LoadContext{PlayerID: "p1", Location: "cave", CrisisLevel: 2, TotalMinutes: 125, Flags: map[string]bool{"torch": true, "rope": true}}
	if a.ComputeHash() == c.ComputeHash() {
		t.Fatalf("expected a different hour bucket to change the hash")
	}
}
