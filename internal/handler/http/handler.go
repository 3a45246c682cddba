// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package http

import (
	"context"

	"github.com/MKhiriev/go-sync-engine/internal/config"
	"github.com/MKhiriev/go-sync-engine/internal/conflict"
	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/models"
)

// Engine is the part of the sync engine the API controls.
type Engine interface {
	Status(ctx context.Context) (models.EngineStatus, error)
	PendingOperations(ctx context.Context) ([]models.SyncOperation, error)
	ConflictStats() map[models.Table]conflict.TableStats
	PerformSync(ctx context.Context, mode models.SyncMode) (models.SyncResult, error)
	ReconnectAll(ctx context.Context) (int, error)
	SetNetwork(ctx context.Context, info models.NetworkInfo) error
	ForceStrategy(ctx context.Context, name string) error
	ResumeAfterAuth()
}

type Handler struct {
	engine Engine
	build  models.AppBuildInfo
	token  string

	logger *logger.Logger
}

func NewHandler(engine Engine, cfg config.Server, build models.AppBuildInfo, logger *logger.Logger) *Handler {
	logger.Info().Bool("auth", cfg.Token != "").Msg("http handler created")
	return &Handler{
		engine: engine,
		build:  build,
		token:  cfg.Token,
		logger: logger,
	}
}
