package session

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Sergey-Bar-Alfred/rpgrt/internal/blob"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/config"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/kv"
)

func testConfig() *config.Config {
	return &config.Config{
		Genre:         "Cyberpunk/Lovecraftian",
		Tone:          "Dark & Gritty",
		FinalConflict: "The Awakening of the Old Ones",
		LLM: config.LLMConfig{
			Temperature: 0.2,
			MaxTokens:   4000,
			StageTokens: map[string]int{"narrator": 1000, "map_gen": 500, "cognition": 500},
		},
		KV: config.KVConfig{TTL: 0},
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store := kv.NewMemoryStore()
	blobStore, err := blob.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("blob.NewLocalStore: %v", err)
	}
	return New(testConfig(), zerolog.Nop(), store, blobStore, nil)
}

func TestCreateSeedsStartLocationAndLooksAround(t *testing.T) {
	m := newTestManager(t)
	t.Cleanup(m.CloseAll)

	result, err := m.Create(context.Background(), "player-1", "start", []string{"scavenger"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if result.SessionID == "" {
		t.Fatalf("expected a non-empty session id")
	}
	if result.Response == "" {
		t.Fatalf("expected a non-empty initial look-around response")
	}
}

func TestStepOnUnknownSessionReturnsNotFound(t *testing.T) {
	m := newTestManager(t)
	t.Cleanup(m.CloseAll)

	_, err := m.Step(context.Background(), "does-not-exist", "/status")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCloseStopsCompanionAndForgetsSession(t *testing.T) {
	m := newTestManager(t)
	t.Cleanup(m.CloseAll)

	result, err := m.Create(context.Background(), "player-1", "start", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := m.Close(result.SessionID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := m.Step(context.Background(), result.SessionID, "/status"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after Close, got %v", err)
	}
}

func TestSaveAndLoadRoundTripThroughManager(t *testing.T) {
	m := newTestManager(t)
	t.Cleanup(m.CloseAll)

	result, err := m.Create(context.Background(), "player-1", "start", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := m.Save(context.Background(), result.SessionID); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := m.Load(context.Background(), result.SessionID); err != nil {
		t.Fatalf("Load: %v", err)
	}
}
