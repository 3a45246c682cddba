// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package models

import "time"

// ConflictType classifies how a local and a remote copy diverged.
type ConflictType string

const (
	// ConflictVersion means the copies carry different sync versions and the
	// local copy has unsynced changes.
	ConflictVersion ConflictType = "version"
	// ConflictData means equal versions with different content.
	ConflictData ConflictType = "data"
	// ConflictDelete means at least one side is a tombstone.
	ConflictDelete ConflictType = "delete"
)

// Severity grades a conflict for monitoring and for manual-review queues.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ConflictInfo describes a detected divergence. It is transient: the
// resolver keeps only a bounded history of outcomes.
type ConflictInfo struct {
	EntityType   Table        `json:"entity_type"`
	EntityID     string       `json:"entity_id"`
	LocalData    Entity       `json:"-"`
	RemoteData   Entity       `json:"-"`
	ConflictType ConflictType `json:"conflict_type"`
	Severity     Severity     `json:"severity"`
	// ChangedFields lists the content fields that differ between the copies.
	ChangedFields []string  `json:"changed_fields,omitempty"`
	DetectedAt    time.Time `json:"detected_at"`
}

// Resolution is the outcome chosen for a conflict.
type Resolution string

const (
	ResolutionLocalWins Resolution = "local_wins"
	ResolutionCloudWins Resolution = "cloud_wins"
	ResolutionMerge     Resolution = "merge"
	ResolutionManual    Resolution = "manual"
)

// Resolutions lists every resolution kind. Registries are checked against it.
var Resolutions = []Resolution{ResolutionLocalWins, ResolutionCloudWins, ResolutionMerge, ResolutionManual}

// ConflictResolutionResult is the pure output of the resolver. Applying it
// to the local store is the caller's responsibility.
type ConflictResolutionResult struct {
	Resolution Resolution `json:"resolution"`
	MergedData Entity     `json:"-"`
	Confidence float64    `json:"confidence"`
	// Reason is a short machine-friendly tag for logs (e.g. "delete_wins").
	Reason string `json:"reason"`
}

// ResolutionContext carries the environmental inputs that weight data
// conflict fallbacks.
type ResolutionContext struct {
	NetworkTier NetworkTier `json:"network_tier"`
	// UserUrgency is 0..1; values near 1 mean the user is actively editing
	// and waiting on the result.
	UserUrgency float64 `json:"user_urgency"`
}

// ConflictRecord is what the engine reports about a conflict it handled.
type ConflictRecord struct {
	Info   ConflictInfo             `json:"info"`
	Result ConflictResolutionResult `json:"result"`
}
