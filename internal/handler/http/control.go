// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/internal/utils"
	"github.com/MKhiriev/go-sync-engine/models"
)

// performSync runs a cycle and answers with its result. The mode query
// parameter defaults to incremental. A cycle that ran but failed still
// answers 200; Success in the body tells the outcome.
func (h *Handler) performSync(w http.ResponseWriter, r *http.Request) {
	log := logger.FromRequest(r)

	mode := models.SyncIncremental
	if m := r.URL.Query().Get("mode"); m != "" {
		mode = models.SyncMode(strings.ToLower(m))
	}

	result, err := h.engine.PerformSync(r.Context(), mode)
	if err != nil {
		log.Err(err).Str("func", "*Handler.performSync").Str("mode", string(mode)).Msg("sync request failed")
		utils.WriteError(w, err.Error(), statusFromError(err))
		return
	}

	_, _ = utils.WriteJSON(w, result, http.StatusOK)
}

type reconnectResponse struct {
	Reconnected int `json:"reconnected"`
}

func (h *Handler) reconnectAll(w http.ResponseWriter, r *http.Request) {
	log := logger.FromRequest(r)

	n, err := h.engine.ReconnectAll(r.Context())
	if err != nil {
		log.Err(err).Str("func", "*Handler.reconnectAll").Msg("error reconnecting channels")
		utils.WriteError(w, err.Error(), statusFromError(err))
		return
	}

	_, _ = utils.WriteJSON(w, reconnectResponse{Reconnected: n}, http.StatusOK)
}

func (h *Handler) setNetwork(w http.ResponseWriter, r *http.Request) {
	log := logger.FromRequest(r)

	var info models.NetworkInfo
	if err := json.NewDecoder(r.Body).Decode(&info); err != nil {
		log.Err(err).Str("func", "*Handler.setNetwork").Msg("Invalid JSON was passed")
		utils.WriteError(w, ErrInvalidRequestBody.Error(), http.StatusBadRequest)
		return
	}

	if err := h.engine.SetNetwork(r.Context(), info); err != nil {
		log.Err(err).Str("func", "*Handler.setNetwork").Msg("error applying network change")
		utils.WriteError(w, err.Error(), statusFromError(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type strategyRequest struct {
	Name string `json:"name"`
}

func (h *Handler) forceStrategy(w http.ResponseWriter, r *http.Request) {
	log := logger.FromRequest(r)

	var req strategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		log.Error().Err(err).Str("func", "*Handler.forceStrategy").Msg("strategy name is missing")
		utils.WriteError(w, ErrInvalidRequestBody.Error(), http.StatusBadRequest)
		return
	}

	if err := h.engine.ForceStrategy(r.Context(), req.Name); err != nil {
		log.Err(err).Str("func", "*Handler.forceStrategy").Str("strategy", req.Name).Msg("error switching strategy")
		utils.WriteError(w, err.Error(), statusFromError(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) resumeAfterAuth(w http.ResponseWriter, r *http.Request) {
	h.engine.ResumeAfterAuth()
	w.WriteHeader(http.StatusNoContent)
}
