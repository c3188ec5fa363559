package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/Sergey-Bar-Alfred/rpgrt/internal/kv"
)

func newTestLog() *Log {
	return New("sess-1", kv.NewMemoryStore(), time.Hour)
}

func TestEmitPersistsBeforeNotifying(t *testing.T) {
	l := newTestLog()
	ctx := context.Background()

	var seenInStore bool
	l.RegisterHandler([]EventType{Discovery}, func(e Event) {
		_, found, _ := l.GetEvent(ctx, e.EventID)
		seenInStore = found
	}, nil, 0)

	event, err := l.Emit(ctx, Discovery, "p1", "harbor", nil, nil, Medium, nil)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if !seenInStore {
		t.Fatalf("listener ran before event was persisted")
	}
	if event.EventID == "" {
		t.Fatalf("expected generated event id")
	}
}

func TestListenerPanicDoesNotStopOthers(t *testing.T) {
	l := newTestLog()
	ctx := context.Background()

	var secondRan bool
	l.RegisterHandler([]EventType{Discovery}, func(e Event) { panic("boom") }, nil, 10)
	l.RegisterHandler([]EventType{Discovery}, func(e Event) { secondRan = true }, nil, 1)

	if _, err := l.Emit(ctx, Discovery, "p1", "loc", nil, nil, Medium, nil); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if !secondRan {
		t.Fatalf("second listener should still have run after the first panicked")
	}
}

func TestListenersDispatchInPriorityOrderThenRegistrationOrder(t *testing.T) {
	l := newTestLog()
	ctx := context.Background()

	var order []string
	l.RegisterHandler([]EventType{Discovery}, func(e Event) { order = append(order, "low") }, nil, 0)
	l.RegisterHandler([]EventType{Discovery}, func(e Event) { order = append(order, "high-a") }, nil, 5)
	l.RegisterHandler([]EventType{Discovery}, func(e Event) { order = append(order, "high-b") }, nil, 5)

	if _, err := l.Emit(ctx, Discovery, "p1", "loc", nil, nil, Medium, nil); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	want := []string{"high-a", "high-b", "low"}
	if len(order) != len(want) {
		t.Fatalf("got %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v want %v", order, want)
		}
	}
}

func TestGetEventSummaryCountsEachOccurrenceOnce(t *testing.T) {
	l := newTestLog()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := l.Emit(ctx, NPCMeet, "p1", "tavern", nil, []string{"npc"}, Medium, nil); err != nil {
			t.Fatalf("Emit: %v", err)
		}
	}

	summary, err := l.GetEventSummary(ctx)
	if err != nil {
		t.Fatalf("GetEventSummary: %v", err)
	}
	if summary.TotalEvents != 3 {
		t.Fatalf("expected 3 total events, got %d", summary.TotalEvents)
	}
	if summary.EventTypeCounts["npc_meet"] != 3 {
		t.Fatalf("expected npc_meet count 3, got %d", summary.EventTypeCounts["npc_meet"])
	}
	if summary.LocationCounts["tavern"] != 3 {
		t.Fatalf("expected tavern count 3, got %d", summary.LocationCounts["tavern"])
	}
}

func TestGetEventsByTagUsesTagIndex(t *testing.T) {
	l := newTestLog()
	ctx := context.Background()

	if _, err := l.Emit(ctx, ItemAcquired, "p1", "cave", nil, []string{"loot"}, Medium, nil); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if _, err := l.Emit(ctx, NPCMeet, "p1", "cave", nil, nil, Medium, nil); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	events, err := l.GetEventsByTag(ctx, "loot", 10)
	if err != nil {
		t.Fatalf("GetEventsByTag: %v", err)
	}
	if len(events) != 1 || events[0].EventType != ItemAcquired {
		t.Fatalf("got %+v", events)
	}
}

func TestGetContextForNarrationEmptyLog(t *testing.T) {
	l := newTestLog()
	out, err := l.GetContextForNarration(context.Background(), 15)
	if err != nil {
		t.Fatalf("GetContextForNarration: %v", err)
	}
	if out != "（暂无重大事件记录）" {
		t.Fatalf("got %q", out)
	}
}

func TestClearAllEventsRemovesEverything(t *testing.T) {
	l := newTestLog()
	ctx := context.Background()
	if _, err := l.Emit(ctx, Discovery, "p1", "loc", nil, []string{"tag1"}, Medium, nil); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if err := l.ClearAllEvents(ctx); err != nil {
		t.Fatalf("ClearAllEvents: %v", err)
	}
	events, err := l.GetAllEvents(ctx, 100, 0)
	if err != nil {
		t.Fatalf("GetAllEvents: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events after clear, got %v", events)
	}
}
