package contentloader

import (
	"context"
	"testing"
	"time"

	"github.com/Sergey-Bar-Alfred/rpgrt/internal/eventlog"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/kv"
)

func newTestLog(t *testing.T) *eventlog.Log {
	t.Helper()
	return eventlog.New("sess-1", kv.NewMemoryStore(), time.Hour)
}

func TestGetLoadableFiltersByTypeAndSortsByPriority(t *testing.T) {
	loader := New("sess-1")
	loader.RegisterAll([]*LoadableContent{
		{ContentID: "npc_a", ContentType: ContentNPC, Priority: 5, Condition: NewLoadCondition(TriggerAlways)},
		{ContentID: "npc_b", ContentType: ContentNPC, Priority: 1, Condition: NewLoadCondition(TriggerAlways)},
		{ContentID: "quest_a", ContentType: ContentQuest, Priority: 0, Condition: NewLoadCondition(TriggerAlways)},
	})

	lc := NewContext("p1", "loc_a", map[string]interface{}{}, nil, nil)
	npcType := ContentNPC
	result := loader.GetLoadable(context.Background(), lc, &npcType)
	if len(result) != 2 || result[0].ContentID != "npc_b" {
		t.Fatalf("expected npc_b then npc_a, got %+v", result)
	}
}

func TestGetLoadableDropsNonRepeatableAlreadyLoaded(t *testing.T) {
	loader := New("sess-1")
	loader.Register(&LoadableContent{ContentID: "c1", ContentType: ContentItem, Condition: NewLoadCondition(TriggerAlways)})

	lc := NewContext("p1", "loc_a", map[string]interface{}{}, nil, nil)
	if !loader.LoadContent(context.Background(), "c1", lc) {
		t.Fatalf("expected initial load to succeed")
	}
	result := loader.GetLoadable(context.Background(), lc, nil)
	if len(result) != 0 {
		t.Fatalf("expected non-repeatable loaded content to be filtered out, got %+v", result)
	}
}

func TestGetLoadableKeepsRepeatableContent(t *testing.T) {
	loader := New("sess-1")
	loader.Register(&LoadableContent{ContentID: "c1", ContentType: ContentItem, Repeatable: true, Condition: NewLoadCondition(TriggerAlways)})

	lc := NewContext("p1", "loc_a", map[string]interface{}{}, nil, nil)
	loader.LoadContent(context.Background(), "c1", lc)
	result := loader.GetLoadable(context.Background(), lc, nil)
	if len(result) != 1 {
		t.Fatalf("expected repeatable content to remain loadable, got %+v", result)
	}
}

func TestCheckConditionAtLocationAndLevelBounds(t *testing.T) {
	loader := New("sess-1")
	cond := NewLoadCondition(TriggerLocationBased)
	cond.AtLocation = "loc_a"
	cond.MinLevel = 3
	loader.Register(&LoadableContent{ContentID: "c1", ContentType: ContentEncounter, Condition: cond})

	state := map[string]interface{}{"level": 2}
	lc := NewContext("p1", "loc_a", state, nil, nil)
	if result := loader.GetLoadable(context.Background(), lc, nil); len(result) != 0 {
		t.Fatalf("expected level gate to exclude content, got %+v", result)
	}

	state["level"] = 5
	lc2 := NewContext("p1", "loc_a", state, nil, nil)
	if result := loader.GetLoadable(context.Background(), lc2, nil); len(result) != 1 {
		t.Fatalf("expected content to qualify once level requirement is met, got %+v", result)
	}

	lc3 := NewContext("p1", "loc_b", state, nil, nil)
	if result := loader.GetLoadable(context.Background(), lc3, nil); len(result) != 0 {
		t.Fatalf("expected location mismatch to exclude content, got %+v", result)
	}
}

func TestCheckConditionRequiresVisitedLocations(t *testing.T) {
	loader := New("sess-1")
	cond := NewLoadCondition(TriggerEventBased)
	cond.Visited = map[string]struct{}{"loc_ruins": {}}
	loader.Register(&LoadableContent{ContentID: "c1", ContentType: ContentQuest, Condition: cond})

	log := newTestLog(t)
	ctx := context.Background()
	lc := NewContext("p1", "loc_a", map[string]interface{}{}, log, nil)

	if result := loader.GetLoadable(ctx, lc, nil); len(result) != 0 {
		t.Fatalf("expected unvisited requirement to exclude content, got %+v", result)
	}

	_, err := log.Emit(ctx, eventlog.Discovery, "p1", "loc_a", map[string]interface{}{"target": "loc_ruins"}, nil, eventlog.Medium, nil)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if result := loader.GetLoadable(ctx, lc, nil); len(result) != 1 {
		t.Fatalf("expected content to qualify after visiting loc_ruins, got %+v", result)
	}
}

func TestGenerateDynamicContentCachesByLocationAndIntent(t *testing.T) {
	loader := New("sess-1")
	lc := NewContext("p1", "loc_a", map[string]interface{}{"hp": 90, "sanity": 80}, nil, nil)

	calls := 0
	gen := func(ctx context.Context, prompt string) (map[string]interface{}, error) {
		calls++
		return map[string]interface{}{"content_type": "encounter", "name": "a stray dog"}, nil
	}

	result, err := loader.GenerateDynamicContent(context.Background(), "pet the dog", lc, "", gen)
	if err != nil {
		t.Fatalf("GenerateDynamicContent: %v", err)
	}
	if result["name"] != "a stray dog" {
		t.Fatalf("got %+v", result)
	}

	result2, err := loader.GenerateDynamicContent(context.Background(), "pet the dog", lc, "", gen)
	if err != nil {
		t.Fatalf("GenerateDynamicContent: %v", err)
	}
	if result2["name"] != result["name"] || calls != 1 {
		t.Fatalf("expected cached result reused, calls=%d", calls)
	}
}
