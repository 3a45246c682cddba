// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package config

import (
	"fmt"
	"strings"

	"github.com/MKhiriev/go-sync-engine/models"
)

// validate checks that the final merged [StructuredConfig] satisfies all
// engine invariants before it is used at startup. It runs after
// applyDefaults, so zero values here mean an explicit bad override.
func (cfg *StructuredConfig) validate() error {
	if strings.TrimSpace(cfg.App.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidAppConfigs)
	}

	if cfg.Storage.DSN == "" {
		return ErrInvalidStorageConfigs
	}

	if cfg.Remote.HTTPAddress == "" || cfg.Remote.RequestTimeout <= 0 {
		return ErrInvalidRemoteConfigs
	}

	c := cfg.Connection
	if c.MaxRetries <= 0 || c.HeartbeatInterval <= 0 || c.ConnectionTimeout <= 0 ||
		c.HealthCheckInterval <= 0 || c.MaxConnectionAge <= 0 || c.MaxRetryDelay <= 0 {
		return ErrInvalidConnectionConfigs
	}

	s := cfg.Sync
	if s.IntervalExcellent <= 0 || s.IntervalGood < s.IntervalExcellent ||
		s.IntervalFair < s.IntervalGood || s.IntervalPoor < s.IntervalFair {
		return fmt.Errorf("%w: cadence must be non-decreasing from excellent to poor", ErrInvalidSyncConfigs)
	}
	if s.OperationMaxRetries <= 0 || s.CycleMaxRetries <= 0 || s.DebounceDelay < 0 {
		return ErrInvalidSyncConfigs
	}

	if cfg.Strategy.WindowSize <= 0 || cfg.Strategy.MonitorInterval <= 0 {
		return ErrInvalidStrategyConfigs
	}

	if cfg.Conflict.HistorySize <= 0 {
		return ErrInvalidConflictConfigs
	}
	if !validResolution(models.Resolution(cfg.Conflict.DataDefault)) {
		return fmt.Errorf("%w: unknown data default %q", ErrInvalidConflictConfigs, cfg.Conflict.DataDefault)
	}

	return nil
}

func validResolution(r models.Resolution) bool {
	for _, known := range models.Resolutions {
		if r == known {
			return true
		}
	}
	return false
}
