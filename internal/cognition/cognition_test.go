package cognition

import (
	"context"
	"testing"
	"time"

	"github.com/Sergey-Bar-Alfred/rpgrt/internal/blob"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/kv"
)

func newTestStore(t *testing.T) (*Store, blob.Store) {
	t.Helper()
	blobStore, err := blob.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	return New("sess-1", kv.NewMemoryStore(), blobStore, time.Hour), blobStore
}

func TestAddMessageAndGetRecentHistory(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := store.AddMessage(ctx, "user", "msg"); err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
	}
	recent, err := store.GetRecentHistory(ctx, 2)
	if err != nil {
		t.Fatalf("GetRecentHistory: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent messages, got %d", len(recent))
	}
}

func TestUpdateAndGetPlayerStateDecodesTypedFields(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	err := store.UpdatePlayerState(ctx, map[string]interface{}{
		"hp":         90,
		"location":   "loc_tavern",
		"attributes": map[string]interface{}{"strength": 10},
	})
	if err != nil {
		t.Fatalf("UpdatePlayerState: %v", err)
	}

	state, err := store.GetPlayerState(ctx)
	if err != nil {
		t.Fatalf("GetPlayerState: %v", err)
	}
	if state["hp"] != 90 {
		t.Fatalf("expected hp decoded as int 90, got %#v", state["hp"])
	}
	if state["location"] != "loc_tavern" {
		t.Fatalf("expected location passthrough, got %#v", state["location"])
	}
	attrs, ok := state["attributes"].(map[string]interface{})
	if !ok || attrs["strength"] != float64(10) {
		t.Fatalf("expected attributes decoded as map, got %#v", state["attributes"])
	}
}

func TestArchiveAndLoadSessionRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.AddMessage(ctx, "user", "hello"); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if err := store.UpdatePlayerState(ctx, map[string]interface{}{"hp": 80, "location": "cave"}); err != nil {
		t.Fatalf("UpdatePlayerState: %v", err)
	}

	name, err := store.ArchiveSession(ctx)
	if err != nil {
		t.Fatalf("ArchiveSession: %v", err)
	}
	if name != "saves/sess-1.json" {
		t.Fatalf("unexpected save name: %s", name)
	}

	if err := store.ClearSession(ctx); err != nil {
		t.Fatalf("ClearSession: %v", err)
	}
	if history, _ := store.GetAllHistory(ctx); len(history) != 0 {
		t.Fatalf("expected history wiped after clear, got %v", history)
	}

	if err := store.LoadSession(ctx); err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	history, err := store.GetAllHistory(ctx)
	if err != nil || len(history) != 1 || history[0].Content != "hello" {
		t.Fatalf("expected restored history, got %v err=%v", history, err)
	}
	state, err := store.GetPlayerState(ctx)
	if err != nil || state["hp"] != 80 {
		t.Fatalf("expected restored hp 80, got %#v err=%v", state["hp"], err)
	}
}

func TestLoadSessionMissingReturnsNotFound(t *testing.T) {
	store, _ := newTestStore(t)
	err := store.LoadSession(context.Background())
	if err != ErrSaveNotFound {
		t.Fatalf("expected ErrSaveNotFound, got %v", err)
	}
}

func TestLoadSessionRejectsNewerSchemaVersion(t *testing.T) {
	store, blobStore := newTestStore(t)
	ctx := context.Background()

	future := archive{
		SchemaVersion: currentSchemaVersion + 1,
		SessionID:     "sess-1",
		Metadata:      map[string]interface{}{},
		History:       nil,
		FinalState:    map[string]interface{}{},
	}
	if err := blobStore.SaveJSON(ctx, saveObjectName("sess-1"), future); err != nil {
		t.Fatalf("SaveJSON: %v", err)
	}

	if err := store.LoadSession(ctx); err != ErrSchemaVersionTooNew {
		t.Fatalf("expected ErrSchemaVersionTooNew, got %v", err)
	}
}

func TestListSavesReturnsMetadata(t *testing.T) {
	store, blobStore := newTestStore(t)
	ctx := context.Background()
	_ = store.UpdatePlayerState(ctx, map[string]interface{}{"hp": 50})
	if _, err := store.ArchiveSession(ctx); err != nil {
		t.Fatalf("ArchiveSession: %v", err)
	}

	saves, err := ListSaves(ctx, blobStore)
	if err != nil {
		t.Fatalf("ListSaves: %v", err)
	}
	if len(saves) != 1 || saves[0].SessionID != "sess-1" {
		t.Fatalf("got %+v", saves)
	}
}
