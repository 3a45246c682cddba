// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package models

import "time"

// NetworkStrategy is a named bundle of tuning parameters. The adaptive
// layer swaps the active strategy as a whole; components never see a mix of
// two strategies.
type NetworkStrategy struct {
	Name               string        `json:"name" yaml:"name"`
	BatchSize          int           `json:"batch_size" yaml:"batch_size"`
	BatchInterval      time.Duration `json:"batch_interval" yaml:"batch_interval"`
	RetryDelay         time.Duration `json:"retry_delay" yaml:"retry_delay"`
	MaxRetries         int           `json:"max_retries" yaml:"max_retries"`
	CompressionEnabled bool          `json:"compression_enabled" yaml:"compression_enabled"`
	NetworkAware       bool          `json:"network_aware" yaml:"network_aware"`
	BatteryOptimized   bool          `json:"battery_optimized" yaml:"battery_optimized"`
	// BackoffMultiplier is the base of the exponential reconnect backoff.
	BackoffMultiplier float64 `json:"backoff_multiplier" yaml:"backoff_multiplier"`
	// HeartbeatScale stretches the configured heartbeat interval; battery
	// friendly presets probe less often.
	HeartbeatScale float64 `json:"heartbeat_scale" yaml:"heartbeat_scale"`
}

// NetworkTier is the coarse network quality bucket that drives sync cadence.
type NetworkTier string

const (
	TierExcellent NetworkTier = "excellent"
	TierGood      NetworkTier = "good"
	TierFair      NetworkTier = "fair"
	TierPoor      NetworkTier = "poor"
)

// Tiers lists tiers from best to worst.
var Tiers = []NetworkTier{TierExcellent, TierGood, TierFair, TierPoor}

// PerformanceSnapshot is the rolling view of runtime signals the adaptive
// layer decides on.
type PerformanceSnapshot struct {
	// Latency is the mean request round trip over the window.
	Latency time.Duration `json:"latency"`
	// Throughput is bytes per second over the window.
	Throughput float64 `json:"throughput"`
	// Reliability is the share of successful requests, 0..1.
	Reliability float64 `json:"reliability"`
	// CPU and Memory are estimated utilisation, 0..1.
	CPU    float64 `json:"cpu"`
	Memory float64 `json:"memory"`
	// Battery is the charge level 0..1; Charging reports external power.
	Battery  float64 `json:"battery"`
	Charging bool    `json:"charging"`
	// ConnectionStability is the share of connection checks that found the
	// channel healthy, 0..1.
	ConnectionStability float64 `json:"connection_stability"`
	Samples             int     `json:"samples"`
}

// NetworkInfo describes the current link as reported by the host platform.
type NetworkInfo struct {
	// NetworkID identifies the network (SSID hash, carrier id) for learned
	// biases.
	NetworkID string `json:"network_id"`
	// Kind is "wifi", "cellular", "ethernet" or "".
	Kind   string `json:"kind"`
	Online bool   `json:"online"`
}

// DeviceInfo is a device resource sample reported by the host platform.
// CPU, Memory and Battery are 0..1.
type DeviceInfo struct {
	CPU      float64 `json:"cpu"`
	Memory   float64 `json:"memory"`
	Battery  float64 `json:"battery"`
	Charging bool    `json:"charging"`
}
