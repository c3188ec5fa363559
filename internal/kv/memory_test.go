package kv

import (
	"context"
	"testing"
)

func TestLRangeFullListMatchesInsertionOrder(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	_ = m.RPush(ctx, "k", "a", "b", "c")

	got, err := m.LRange(ctx, "k", 0, -1)
	if err != nil {
		t.Fatalf("LRange: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestLRangeNegativeIndices(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	_ = m.RPush(ctx, "k", "a", "b", "c", "d", "e")

	got, err := m.LRange(ctx, "k", -3, -1)
	if err != nil {
		t.Fatalf("LRange: %v", err)
	}
	want := []string{"c", "d", "e"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestLRangeOnEmptyListReturnsEmptyNotNil(t *testing.T) {
	m := NewMemoryStore()
	got, err := m.LRange(context.Background(), "missing", 0, -1)
	if err != nil {
		t.Fatalf("LRange: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty slice, got %v", got)
	}
}

func TestZRevRangeTieBreaksByInsertionOrder(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	_ = m.ZAdd(ctx, "z", "first", 1.0)
	_ = m.ZAdd(ctx, "z", "second", 1.0)
	_ = m.ZAdd(ctx, "z", "third", 2.0)

	got, err := m.ZRevRange(ctx, "z", 0, -1)
	if err != nil {
		t.Fatalf("ZRevRange: %v", err)
	}
	want := []string{"third", "first", "second"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestHSetAndHGetAll(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	_ = m.HSet(ctx, "h", map[string]string{"a": "1", "b": "2"})
	got, err := m.HGetAll(ctx, "h")
	if err != nil {
		t.Fatalf("HGetAll: %v", err)
	}
	if got["a"] != "1" || got["b"] != "2" {
		t.Fatalf("got %v", got)
	}
}

func TestGetNotFoundIsDistinctFromError(t *testing.T) {
	m := NewMemoryStore()
	_, found, err := m.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatalf("expected not found")
	}
}
