// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/MKhiriev/go-sync-engine/internal/engine"
	"github.com/MKhiriev/go-sync-engine/internal/orchestrator"
	"github.com/MKhiriev/go-sync-engine/internal/store"
	"github.com/MKhiriev/go-sync-engine/internal/strategy"
	"github.com/MKhiriev/go-sync-engine/models"
)

var errorStatusMap = map[error]int{
	orchestrator.ErrInvalidMode: http.StatusBadRequest,
	orchestrator.ErrAuthPaused:  http.StatusConflict,

	strategy.ErrUnknownStrategy: http.StatusBadRequest,
	models.ErrUnknownTable:      http.StatusBadRequest,
	models.ErrInvalidEntity:     http.StatusBadRequest,

	store.ErrNotFound: http.StatusNotFound,

	engine.ErrDestroyed:      http.StatusServiceUnavailable,
	context.Canceled:         http.StatusServiceUnavailable,
	context.DeadlineExceeded: http.StatusGatewayTimeout,
}

func statusFromError(err error) int {
	for target, status := range errorStatusMap {
		if errors.Is(err, target) {
			return status
		}
	}
	return http.StatusInternalServerError
}
