// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package http

import (
	"net/http"

	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/internal/utils"
	"github.com/MKhiriev/go-sync-engine/models"
)

type versionResponse struct {
	Version string `json:"version"`
	Date    string `json:"date"`
	Commit  string `json:"commit"`
}

func (h *Handler) getVersion(w http.ResponseWriter, r *http.Request) {
	_, _ = utils.WriteJSON(w, versionResponse{
		Version: h.build.BuildVersion(),
		Date:    h.build.BuildDate(),
		Commit:  h.build.BuildCommit(),
	}, http.StatusOK)
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	log := logger.FromRequest(r)

	status, err := h.engine.Status(r.Context())
	if err != nil {
		log.Err(err).Str("func", "*Handler.getStatus").Msg("error reading engine status")
		utils.WriteError(w, err.Error(), statusFromError(err))
		return
	}

	_, _ = utils.WriteJSON(w, status, http.StatusOK)
}

func (h *Handler) getConflictStats(w http.ResponseWriter, r *http.Request) {
	_, _ = utils.WriteJSON(w, h.engine.ConflictStats(), http.StatusOK)
}

type operationsResponse struct {
	Operations []models.SyncOperation `json:"operations"`
	Pending    int                    `json:"pending"`
	Failed     int                    `json:"failed"`
}

func (h *Handler) listOperations(w http.ResponseWriter, r *http.Request) {
	log := logger.FromRequest(r)

	ops, err := h.engine.PendingOperations(r.Context())
	if err != nil {
		log.Err(err).Str("func", "*Handler.listOperations").Msg("error listing operations")
		utils.WriteError(w, err.Error(), statusFromError(err))
		return
	}

	resp := operationsResponse{Operations: ops}
	if resp.Operations == nil {
		resp.Operations = []models.SyncOperation{}
	}
	for _, op := range ops {
		if op.Status == models.OperationFailed {
			resp.Failed++
		} else {
			resp.Pending++
		}
	}

	_, _ = utils.WriteJSON(w, resp, http.StatusOK)
}
