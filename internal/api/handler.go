package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/Sergey-Bar-Alfred/rpgrt/internal/session"
)

type handler struct {
	logger  zerolog.Logger
	manager *session.Manager
}

type createRequest struct {
	PlayerID        string   `json:"player_id"`
	StartLocationID string   `json:"start_location_id"`
	Tags            []string `json:"tags"`
}

func (h *handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.PlayerID == "" || req.StartLocationID == "" {
		writeError(w, http.StatusBadRequest, errors.New("api: player_id and start_location_id are required"))
		return
	}

	result, err := h.manager.Create(r.Context(), req.PlayerID, req.StartLocationID, req.Tags)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

type stepRequest struct {
	Input string `json:"input"`
}

func (h *handler) step(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var req stepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	response, err := h.manager.Step(r.Context(), sessionID, req.Input)
	if err != nil {
		h.respondSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": response})
}

func (h *handler) save(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	saveData, err := h.manager.Save(r.Context(), sessionID)
	if err != nil {
		h.respondSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saveData)
}

func (h *handler) load(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.manager.Load(r.Context(), sessionID); err != nil {
		h.respondSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded"})
}

func (h *handler) close(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.manager.Close(sessionID); err != nil {
		h.respondSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) respondSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}
