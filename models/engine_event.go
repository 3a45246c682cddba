// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package models

import "time"

// EngineEventKind names an event emitted for UI and monitoring consumers.
type EngineEventKind string

const (
	EventConnectionState     EngineEventKind = "connection_state"
	EventConnectionExhausted EngineEventKind = "connection_exhausted"
	EventSyncCompleted       EngineEventKind = "sync_completed"
	EventSyncFailed          EngineEventKind = "sync_failed"
	EventConflictDetected    EngineEventKind = "conflict_detected"
	EventConflictResolved    EngineEventKind = "conflict_resolved"
	EventStrategySwitched    EngineEventKind = "strategy_switched"
	EventBatchApplied        EngineEventKind = "batch_applied"
)

// EngineEvent is a notification published on the engine's event bus. Only
// the fields relevant to Kind are set.
type EngineEvent struct {
	Kind     EngineEventKind `json:"kind"`
	Channel  string          `json:"channel,omitempty"`
	Table    Table           `json:"table,omitempty"`
	EntityID string          `json:"entity_id,omitempty"`
	State    ConnectionState `json:"state,omitempty"`
	Strategy string          `json:"strategy,omitempty"`
	Result   *SyncResult     `json:"result,omitempty"`
	Conflict *ConflictRecord `json:"conflict,omitempty"`
	Count    int             `json:"count,omitempty"`
	Err      string          `json:"error,omitempty"`
	At       time.Time       `json:"at"`
}
