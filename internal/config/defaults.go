// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package config

import (
	"time"

	"github.com/MKhiriev/go-sync-engine/models"
)

// Defaults applied by applyDefaults to every field left zero after merging.
const (
	DefaultRole            = "syncd"
	DefaultDSN             = "sync.db"
	DefaultRequestTimeout  = 30 * time.Second
	DefaultStrategy        = "balanced"
	DefaultMonitorInterval = 30 * time.Second
	DefaultWindowSize      = 20
	DefaultHistorySize     = 100
	DefaultDebounceDelay   = 2 * time.Second
	DefaultCycleMaxRetries = 3
)

// Default returns a configuration holding only the defaults. Embedders and
// tests start from it and override what they need.
func Default() *StructuredConfig {
	cfg := new(StructuredConfig)
	cfg.applyDefaults()
	return cfg
}

func (cfg *StructuredConfig) applyDefaults() {
	if cfg.App.Role == "" {
		cfg.App.Role = DefaultRole
	}
	if cfg.App.DeviceID == "" {
		cfg.App.DeviceID = cfg.App.UserID
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = DefaultDSN
	}
	if cfg.Remote.RequestTimeout == 0 {
		cfg.Remote.RequestTimeout = DefaultRequestTimeout
	}

	conn := models.DefaultConnectionConfig()
	setInt(&cfg.Connection.MaxRetries, conn.MaxRetries)
	setDuration(&cfg.Connection.HeartbeatInterval, conn.HeartbeatInterval)
	setDuration(&cfg.Connection.ConnectionTimeout, conn.ConnectionTimeout)
	setDuration(&cfg.Connection.HealthCheckInterval, conn.HealthCheckInterval)
	setDuration(&cfg.Connection.MaxConnectionAge, conn.MaxConnectionAge)
	setDuration(&cfg.Connection.MaxRetryDelay, conn.MaxRetryDelay)

	setDuration(&cfg.Sync.IntervalExcellent, 30*time.Second)
	setDuration(&cfg.Sync.IntervalGood, time.Minute)
	setDuration(&cfg.Sync.IntervalFair, 2*time.Minute)
	setDuration(&cfg.Sync.IntervalPoor, 5*time.Minute)
	setDuration(&cfg.Sync.DebounceDelay, DefaultDebounceDelay)
	setInt(&cfg.Sync.OperationMaxRetries, models.DefaultOperationMaxRetries)
	setInt(&cfg.Sync.CycleMaxRetries, DefaultCycleMaxRetries)

	if cfg.Strategy.Initial == "" {
		cfg.Strategy.Initial = DefaultStrategy
	}
	setDuration(&cfg.Strategy.MonitorInterval, DefaultMonitorInterval)
	setInt(&cfg.Strategy.WindowSize, DefaultWindowSize)

	setInt(&cfg.Conflict.HistorySize, DefaultHistorySize)
	if cfg.Conflict.DataDefault == "" {
		cfg.Conflict.DataDefault = string(models.ResolutionMerge)
	}
}

func setInt(dst *int, v int) {
	if *dst == 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if *dst == 0 {
		*dst = v
	}
}

// ConnectionConfig converts the connection section to the model type used
// by the connection manager.
func (cfg *StructuredConfig) ConnectionConfig() models.ConnectionConfig {
	return models.ConnectionConfig{
		MaxRetries:          cfg.Connection.MaxRetries,
		HeartbeatInterval:   cfg.Connection.HeartbeatInterval,
		ConnectionTimeout:   cfg.Connection.ConnectionTimeout,
		HealthCheckInterval: cfg.Connection.HealthCheckInterval,
		MaxConnectionAge:    cfg.Connection.MaxConnectionAge,
		MaxRetryDelay:       cfg.Connection.MaxRetryDelay,
	}
}

// Cadence returns the periodic sync interval per network tier.
func (cfg *StructuredConfig) Cadence() map[models.NetworkTier]time.Duration {
	return map[models.NetworkTier]time.Duration{
		models.TierExcellent: cfg.Sync.IntervalExcellent,
		models.TierGood:      cfg.Sync.IntervalGood,
		models.TierFair:      cfg.Sync.IntervalFair,
		models.TierPoor:      cfg.Sync.IntervalPoor,
	}
}
