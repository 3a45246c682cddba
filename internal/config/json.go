// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// StructuredJSONConfig mirrors [StructuredConfig] for JSON decoding. Duration
// fields accept either nanosecond numbers or strings such as "30s".
type StructuredJSONConfig struct {
	App struct {
		Role     string `json:"role"`
		UserID   string `json:"user_id"`
		DeviceID string `json:"device_id"`
		LogFile  string `json:"log_file"`
	} `json:"app,omitempty"`

	Storage struct {
		DSN string `json:"dsn"`
	} `json:"storage,omitempty"`

	Remote struct {
		HTTPAddress     string   `json:"http_address"`
		RealtimeAddress string   `json:"realtime_address"`
		Token           string   `json:"token"`
		RequestTimeout  Duration `json:"request_timeout"`
	} `json:"remote,omitempty"`

	Connection struct {
		MaxRetries          int      `json:"max_retries"`
		HeartbeatInterval   Duration `json:"heartbeat_interval"`
		ConnectionTimeout   Duration `json:"connection_timeout"`
		HealthCheckInterval Duration `json:"health_check_interval"`
		MaxConnectionAge    Duration `json:"max_connection_age"`
		MaxRetryDelay       Duration `json:"max_retry_delay"`
	} `json:"connection,omitempty"`

	Sync struct {
		IntervalExcellent   Duration `json:"interval_excellent"`
		IntervalGood        Duration `json:"interval_good"`
		IntervalFair        Duration `json:"interval_fair"`
		IntervalPoor        Duration `json:"interval_poor"`
		DebounceDelay       Duration `json:"debounce_delay"`
		OperationMaxRetries int      `json:"operation_max_retries"`
		CycleMaxRetries     int      `json:"cycle_max_retries"`
	} `json:"sync,omitempty"`

	Strategy struct {
		Initial         string   `json:"initial"`
		CatalogFile     string   `json:"catalog_file"`
		MonitorInterval Duration `json:"monitor_interval"`
		WindowSize      int      `json:"window_size"`
	} `json:"strategy,omitempty"`

	Conflict struct {
		HistorySize int    `json:"history_size"`
		DataDefault string `json:"data_default"`
	} `json:"conflict,omitempty"`

	Server struct {
		HTTPAddress string `json:"http_address"`
		Token       string `json:"token"`
	} `json:"server,omitempty"`
}

func parseJSON(jsonFilePath string) (*StructuredConfig, error) {
	jsonFile, err := os.Open(jsonFilePath)
	if err != nil {
		return nil, fmt.Errorf("error reading a json file: %w", err)
	}
	defer jsonFile.Close()

	var jsonCfg StructuredJSONConfig
	if err := json.NewDecoder(jsonFile).Decode(&jsonCfg); err != nil {
		return nil, fmt.Errorf("error decoding json configs: %w", err)
	}

	cfg := &StructuredConfig{
		App: App{
			Role:     jsonCfg.App.Role,
			UserID:   jsonCfg.App.UserID,
			DeviceID: jsonCfg.App.DeviceID,
			LogFile:  jsonCfg.App.LogFile,
		},
		Storage: Storage{
			DSN: jsonCfg.Storage.DSN,
		},
		Remote: Remote{
			HTTPAddress:     jsonCfg.Remote.HTTPAddress,
			RealtimeAddress: jsonCfg.Remote.RealtimeAddress,
			Token:           jsonCfg.Remote.Token,
			RequestTimeout:  time.Duration(jsonCfg.Remote.RequestTimeout),
		},
		Connection: Connection{
			MaxRetries:          jsonCfg.Connection.MaxRetries,
			HeartbeatInterval:   time.Duration(jsonCfg.Connection.HeartbeatInterval),
			ConnectionTimeout:   time.Duration(jsonCfg.Connection.ConnectionTimeout),
			HealthCheckInterval: time.Duration(jsonCfg.Connection.HealthCheckInterval),
			MaxConnectionAge:    time.Duration(jsonCfg.Connection.MaxConnectionAge),
			MaxRetryDelay:       time.Duration(jsonCfg.Connection.MaxRetryDelay),
		},
		Sync: Sync{
			IntervalExcellent:   time.Duration(jsonCfg.Sync.IntervalExcellent),
			IntervalGood:        time.Duration(jsonCfg.Sync.IntervalGood),
			IntervalFair:        time.Duration(jsonCfg.Sync.IntervalFair),
			IntervalPoor:        time.Duration(jsonCfg.Sync.IntervalPoor),
			DebounceDelay:       time.Duration(jsonCfg.Sync.DebounceDelay),
			OperationMaxRetries: jsonCfg.Sync.OperationMaxRetries,
			CycleMaxRetries:     jsonCfg.Sync.CycleMaxRetries,
		},
		Strategy: Strategy{
			Initial:         jsonCfg.Strategy.Initial,
			CatalogFile:     jsonCfg.Strategy.CatalogFile,
			MonitorInterval: time.Duration(jsonCfg.Strategy.MonitorInterval),
			WindowSize:      jsonCfg.Strategy.WindowSize,
		},
		Conflict: Conflict{
			HistorySize: jsonCfg.Conflict.HistorySize,
			DataDefault: jsonCfg.Conflict.DataDefault,
		},
		Server: Server{
			HTTPAddress: jsonCfg.Server.HTTPAddress,
			Token:       jsonCfg.Server.Token,
		},
	}

	return cfg, nil
}

// Duration is a wrapper around time.Duration that supports JSON unmarshaling from strings like "1h", "30s"
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		tmp, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(tmp)
		return nil
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}
