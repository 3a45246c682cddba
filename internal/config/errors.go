// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package config

import "errors"

// Validation errors returned by [StructuredConfig.validate] when required
// configuration groups are incomplete or invalid.
var (
	// ErrInvalidAppConfigs indicates missing identity settings (user id).
	ErrInvalidAppConfigs = errors.New("invalid app configuration")
	// ErrInvalidStorageConfigs indicates an empty local database DSN.
	ErrInvalidStorageConfigs = errors.New("invalid storage configuration")
	// ErrInvalidRemoteConfigs indicates a missing backend address or a
	// non-positive request timeout.
	ErrInvalidRemoteConfigs = errors.New("invalid remote configuration")
	// ErrInvalidConnectionConfigs indicates non-positive connection tuning.
	ErrInvalidConnectionConfigs = errors.New("invalid connection configuration")
	// ErrInvalidSyncConfigs indicates a cadence ladder that is not
	// non-decreasing from excellent to poor, or non-positive retry limits.
	ErrInvalidSyncConfigs = errors.New("invalid sync configuration")
	// ErrInvalidStrategyConfigs indicates an unusable strategy window.
	ErrInvalidStrategyConfigs = errors.New("invalid strategy configuration")
	// ErrInvalidConflictConfigs indicates an unknown data-conflict default.
	ErrInvalidConflictConfigs = errors.New("invalid conflict configuration")
)
