// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package models

import "time"

// SyncMode selects how much a sync cycle pulls.
type SyncMode string

const (
	// SyncFull pulls every table from version zero.
	SyncFull SyncMode = "full"
	// SyncIncremental pulls only changes after the last confirmed version.
	SyncIncremental SyncMode = "incremental"
)

// Valid reports whether m is a known mode.
func (m SyncMode) Valid() bool {
	return m == SyncFull || m == SyncIncremental
}

// SyncResult summarises one sync cycle.
type SyncResult struct {
	Mode             SyncMode         `json:"mode"`
	Success          bool             `json:"success"`
	ProcessedCount   int              `json:"processed_count"`
	FailedCount      int              `json:"failed_count"`
	Conflicts        []ConflictRecord `json:"conflicts,omitempty"`
	Errors           []SyncErrorInfo  `json:"errors,omitempty"`
	Duration         time.Duration    `json:"duration"`
	BytesTransferred int64            `json:"bytes_transferred"`
	StartedAt        time.Time        `json:"started_at"`
}

// SyncErrorInfo is a reportable failure inside a cycle. Kind is one of
// "connection", "sync", "auth", "conflict" or "operation".
type SyncErrorInfo struct {
	Kind        string `json:"kind"`
	Table       Table  `json:"table,omitempty"`
	EntityID    string `json:"entity_id,omitempty"`
	OperationID string `json:"operation_id,omitempty"`
	Message     string `json:"message"`
	Retryable   bool   `json:"retryable"`
}
