package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Sergey-Bar-Alfred/rpgrt/internal/blob"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/config"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/kv"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/session"
)

func testSetup(t *testing.T) http.Handler {
	t.Helper()
	cfg := &config.Config{
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
	store := kv.NewMemoryStore()
	blobStore, err := blob.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("blob.NewLocalStore: %v", err)
	}
	log := zerolog.New(io.Discard).With().Timestamp().Logger()
	manager := session.New(cfg, log, store, blobStore, nil)
	t.Cleanup(manager.CloseAll)
	return NewRouter(log, manager)
}

func TestHealthz(t *testing.T) {
	r := testSetup(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	if rw.Result().StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Result().StatusCode)
	}
}

func TestCreateStepSaveLoadLifecycle(t *testing.T) {
	r := testSetup(t)

	createBody, _ := json.Marshal(createRequest{PlayerID: "player-1", StartLocationID: "start", Tags: []string{"scavenger"}})
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/", bytes.NewReader(createBody))
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	if rw.Result().StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 from create, got %d: %s", rw.Result().StatusCode, rw.Body.String())
	}

	var created struct {
		SessionID string `json:"SessionID"`
	}
	if err := json.Unmarshal(rw.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.SessionID == "" {
		t.Fatalf("expected a session id in the create response: %s", rw.Body.String())
	}

	stepBody, _ := json.Marshal(stepRequest{Input: "/status"})
	req = httptest.NewRequest(http.MethodPost, "/v1/sessions/"+created.SessionID+"/step", bytes.NewReader(stepBody))
	rw = httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	if rw.Result().StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from step, got %d: %s", rw.Result().StatusCode, rw.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/sessions/"+created.SessionID+"/save", nil)
	rw = httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	if rw.Result().StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from save, got %d: %s", rw.Result().StatusCode, rw.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/sessions/"+created.SessionID+"/load", nil)
	rw = httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	if rw.Result().StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from load, got %d: %s", rw.Result().StatusCode, rw.Body.String())
	}
}

func TestStepOnMissingSessionReturns404(t *testing.T) {
	r := testSetup(t)

	stepBody, _ := json.Marshal(stepRequest{Input: "/status"})
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/does-not-exist/step", bytes.NewReader(stepBody))
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	if rw.Result().StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rw.Result().StatusCode, rw.Body.String())
	}
}
