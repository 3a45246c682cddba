// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (h *Handler) Init() *chi.Mux {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(h.withTraceID, h.withLogging)
	router.Use(middleware.Compress(5, "application/json"))

	// routes without authorization
	router.Get("/api/version", h.getVersion)

	router.Group(func(r chi.Router) {
		r.Use(h.auth)

		r.Get("/api/status", h.getStatus)
		r.Get("/api/operations", h.listOperations)
		r.Get("/api/conflicts", h.getConflictStats)

		r.Post("/api/sync", h.performSync)
		r.Post("/api/connections/reconnect", h.reconnectAll)
		r.Post("/api/network", h.setNetwork)
		r.Post("/api/strategy", h.forceStrategy)
		r.Post("/api/auth/resume", h.resumeAfterAuth)
	})

	router.MethodNotAllowed(CheckHTTPMethod(router))

	return router
}
