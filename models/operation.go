// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package models

import (
	"encoding/json"
	"time"
)

// OperationType is the kind of local mutation a SyncOperation carries upstream.
type OperationType string

const (
	OperationCreate OperationType = "create"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

// OperationStatus tracks a SyncOperation through the push path.
type OperationStatus string

const (
	OperationPending    OperationStatus = "pending"
	OperationProcessing OperationStatus = "processing"
	OperationCompleted  OperationStatus = "completed"
	OperationFailed     OperationStatus = "failed"
)

// Priority orders operations and batches; higher values are pushed first.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

// DefaultOperationMaxRetries is used when an operation is created without an
// explicit retry budget.
const DefaultOperationMaxRetries = 5

// SyncOperation is a pending local mutation waiting for remote
// acknowledgment. It is removed from the queue only after the backend
// acknowledges it, or marked OperationFailed once RetryCount reaches
// MaxRetries.
type SyncOperation struct {
	ID           string          `json:"id"`
	Type         OperationType   `json:"type"`
	EntityType   Table           `json:"entity_type"`
	EntityID     string          `json:"entity_id"`
	Payload      json.RawMessage `json:"payload"`
	BaseVersion  int64           `json:"base_version"`
	Timestamp    time.Time       `json:"timestamp"`
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	Priority     Priority        `json:"priority"`
	Status       OperationStatus `json:"status"`
	Dependencies []string        `json:"dependencies,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
}

// Exhausted reports whether the operation has used up its retry budget.
func (op *SyncOperation) Exhausted() bool {
	return op.RetryCount >= op.MaxRetries
}

// Entity decodes the operation's payload snapshot.
func (op *SyncOperation) Entity() (Entity, error) {
	return DecodeEntity(op.EntityType, op.Payload)
}

// Ack is the backend's acknowledgment of a pushed operation.
type Ack struct {
	OperationID string `json:"operation_id"`
	EntityID    string `json:"entity_id"`
	// SyncVersion is the version assigned by the backend to the entity.
	SyncVersion int64 `json:"sync_version"`
}
