// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Command syncd runs the offline-first sync engine as a daemon: it keeps a
// local SQLite replica in sync with the backend and, when an address is
// configured, serves the status and control API.
package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/MKhiriev/go-sync-engine/internal/config"
	"github.com/MKhiriev/go-sync-engine/internal/engine"
	"github.com/MKhiriev/go-sync-engine/internal/handler"
	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/internal/server"
	"github.com/MKhiriev/go-sync-engine/models"
)

var (
	buildVersion string
	buildDate    string
	buildCommit  string
)

const destroyTimeout = 30 * time.Second

func main() {
	printBuildInfo()

	cfg, err := config.GetStructuredConfig()
	if err != nil {
		logger.NewLogger("syncd").Fatal().Err(err).Msg("error getting configs")
	}

	log := logger.NewLogger(cfg.App.Role)
	if cfg.App.LogFile != "" {
		log = logger.NewFileLogger(cfg.App.Role, cfg.App.LogFile)
	}
	log.Debug().Str("user_id", cfg.App.UserID).Str("dsn", cfg.Storage.DSN).Msg("received configs")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	eng, err := engine.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("error creating engine")
	}
	if err := eng.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("error starting engine")
	}

	if cfg.Server.HTTPAddress != "" {
		build := models.NewAppBuildInfo(buildVersion, buildDate, buildCommit)
		handlers, err := handler.NewHandlers(eng, cfg.Server, build, log)
		if err != nil {
			log.Fatal().Err(err).Msg("error creating handlers")
		}
		srv, err := server.NewServer(handlers, cfg.Server, log)
		if err != nil {
			log.Fatal().Err(err).Msg("error creating server")
		}
		if err := srv.RunServer(ctx); err != nil {
			log.Err(err).Msg("server stopped")
		}
	} else {
		<-ctx.Done()
	}

	destroyCtx, cancel := context.WithTimeout(context.Background(), destroyTimeout)
	defer cancel()
	if err := eng.Destroy(destroyCtx); err != nil {
		log.Err(err).Msg("engine shutdown incomplete")
		return
	}
	log.Info().Msg("engine stopped")
}

func printBuildInfo() {
	if buildVersion == "" {
		buildVersion = "N/A"
	}

	if buildDate == "" {
		buildDate = "N/A"
	}

	if buildCommit == "" {
		buildCommit = "N/A"
	}

	fmt.Printf("Build version: %s\n", buildVersion)
	fmt.Printf("Build date: %s\n", buildDate)
	fmt.Printf("Build commit: %s\n", buildCommit)
}
