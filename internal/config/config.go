// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package config

import (
	"os"
	"time"
)

// StructuredConfig is the top-level configuration container for the sync
// engine. It is populated by merging values from environment variables,
// command-line flags, and an optional JSON file.
//
// Struct tags:
//   - envPrefix — prefix applied to all nested env tag lookups (caarlos0/env).
//   - env       — direct environment variable name for scalar fields.
type StructuredConfig struct {
	// App holds identity and logging settings.
	App App `envPrefix:"APP_"`

	// Storage holds the local replica settings.
	Storage Storage `envPrefix:"STORAGE_"`

	// Remote holds backend transport settings.
	Remote Remote `envPrefix:"REMOTE_"`

	// Connection tunes the change-feed connection manager.
	Connection Connection `envPrefix:"CONNECTION_"`

	// Sync tunes the sync orchestrator.
	Sync Sync `envPrefix:"SYNC_"`

	// Strategy tunes the adaptive strategy manager.
	Strategy Strategy `envPrefix:"STRATEGY_"`

	// Conflict tunes the conflict resolver.
	Conflict Conflict `envPrefix:"CONFLICT_"`

	// Server holds the status/control HTTP API settings.
	Server Server `envPrefix:"SERVER_"`

	// JSONFilePath is the optional path to a JSON configuration file.
	// Populated via the CONFIG environment variable or the -c / -config flag.
	JSONFilePath string `env:"CONFIG"`
}

// App holds identity and logging settings.
type App struct {
	// Role is the logger role label.
	// Env: APP_ROLE
	Role string `env:"ROLE"`

	// UserID is the account whose data is replicated.
	// Env: APP_USER_ID
	UserID string `env:"USER_ID"`

	// DeviceID identifies this replica for learned strategy biases.
	// Env: APP_DEVICE_ID
	DeviceID string `env:"DEVICE_ID"`

	// LogFile, when set, sends logs to a file instead of stdout.
	// Env: APP_LOG_FILE
	LogFile string `env:"LOG_FILE"`
}

// Storage groups local replica settings.
type Storage struct {
	// DSN is the SQLite database path. ":memory:" selects the in-memory store.
	// Env: STORAGE_DSN
	DSN string `env:"DSN"`
}

// Remote holds backend transport settings.
type Remote struct {
	// HTTPAddress is the base URL for push and pull requests.
	// Env: REMOTE_HTTP_ADDRESS
	HTTPAddress string `env:"HTTP_ADDRESS"`

	// RealtimeAddress is the base ws:// or wss:// URL of the change feed.
	// Empty derives it from HTTPAddress.
	// Env: REMOTE_REALTIME_ADDRESS
	RealtimeAddress string `env:"REALTIME_ADDRESS"`

	// Token is the bearer token presented to the backend.
	// Env: REMOTE_TOKEN
	Token string `env:"TOKEN"`

	// RequestTimeout bounds every push and pull request.
	// Env: REMOTE_REQUEST_TIMEOUT
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT"`
}

// Connection tunes the change-feed connection manager.
type Connection struct {
	MaxRetries          int           `env:"MAX_RETRIES"`
	HeartbeatInterval   time.Duration `env:"HEARTBEAT_INTERVAL"`
	ConnectionTimeout   time.Duration `env:"TIMEOUT"`
	HealthCheckInterval time.Duration `env:"HEALTH_CHECK_INTERVAL"`
	MaxConnectionAge    time.Duration `env:"MAX_AGE"`
	MaxRetryDelay       time.Duration `env:"MAX_RETRY_DELAY"`
}

// Sync tunes the sync orchestrator. The four intervals form the cadence
// ladder selected by network tier.
type Sync struct {
	IntervalExcellent   time.Duration `env:"INTERVAL_EXCELLENT"`
	IntervalGood        time.Duration `env:"INTERVAL_GOOD"`
	IntervalFair        time.Duration `env:"INTERVAL_FAIR"`
	IntervalPoor        time.Duration `env:"INTERVAL_POOR"`
	DebounceDelay       time.Duration `env:"DEBOUNCE_DELAY"`
	OperationMaxRetries int           `env:"OPERATION_MAX_RETRIES"`
	CycleMaxRetries     int           `env:"CYCLE_MAX_RETRIES"`
}

// Strategy tunes the adaptive strategy manager.
type Strategy struct {
	// Initial is the preset active at start.
	// Env: STRATEGY_INITIAL
	Initial string `env:"INITIAL"`

	// CatalogFile is an optional YAML file overriding or adding presets.
	// Env: STRATEGY_CATALOG_FILE
	CatalogFile string `env:"CATALOG_FILE"`

	// MonitorInterval is the optimizeIfNeeded tick.
	// Env: STRATEGY_MONITOR_INTERVAL
	MonitorInterval time.Duration `env:"MONITOR_INTERVAL"`

	// WindowSize is the number of samples in each rolling metric window.
	// Env: STRATEGY_WINDOW_SIZE
	WindowSize int `env:"WINDOW_SIZE"`
}

// Conflict tunes the conflict resolver.
type Conflict struct {
	// HistorySize bounds the resolution history ring buffer.
	// Env: CONFLICT_HISTORY_SIZE
	HistorySize int `env:"HISTORY_SIZE"`

	// DataDefault is the fallback for data conflicts: local_wins,
	// cloud_wins, merge or manual.
	// Env: CONFLICT_DATA_DEFAULT
	DataDefault string `env:"DATA_DEFAULT"`
}

// Server holds the status/control HTTP API settings.
type Server struct {
	// HTTPAddress is the listen address in "host:port" form. Empty disables
	// the API.
	// Env: SERVER_ADDRESS
	HTTPAddress string `env:"ADDRESS"`

	// Token, when set, must be presented as a bearer token on every API
	// request.
	// Env: SERVER_TOKEN
	Token string `env:"TOKEN"`
}

// GetStructuredConfig loads, merges, defaults and validates the
// configuration from all available sources in the following priority order
// (last source wins for non-zero fields):
//  1. Environment variables
//  2. Command-line flags
//  3. JSON file (path resolved from sources 1 and 2)
func GetStructuredConfig() (*StructuredConfig, error) {
	return newConfigBuilder().
		withEnv().
		withFlags(os.Args[1:]).
		withJSON().
		build()
}
