// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package models

// EngineStatus is a point-in-time view of the engine for monitoring.
type EngineStatus struct {
	Online      bool                `json:"online"`
	Strategy    string              `json:"strategy"`
	Tier        NetworkTier         `json:"tier"`
	Performance PerformanceSnapshot `json:"performance"`
	Channels    []ChannelStatus     `json:"channels"`
	// PendingOperations counts queued operations that will still be pushed;
	// FailedOperations counts the parked ones.
	PendingOperations int         `json:"pending_operations"`
	FailedOperations  int         `json:"failed_operations"`
	AuthPaused        bool        `json:"auth_paused"`
	LastSync          *SyncResult `json:"last_sync,omitempty"`
	DroppedEvents     int64       `json:"dropped_events"`
}
