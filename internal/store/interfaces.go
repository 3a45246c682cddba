// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"context"

	"github.com/MKhiriev/go-sync-engine/models"
)

//go:generate mockgen -source=interfaces.go -destination=../mock/store_mock.go -package=mock

// UpdateFunc computes the next state of a record from its current state.
// current is nil when the record does not exist. Returning a nil entity
// leaves the record untouched; returning an error aborts the update.
type UpdateFunc func(current models.Entity) (models.Entity, error)

// LocalStore is the local replica of user data.
//
// All writes to one (table, id) are serialized by a row lock, so remote
// events, sync-cycle writes and user writes never interleave on the same
// record. A write carrying a lower SyncVersion than the stored record fails
// with ErrStaleVersion. Every write returns the post-write SyncVersion.
type LocalStore interface {
	// Get returns the record or ErrNotFound. Tombstones are returned.
	Get(ctx context.Context, table models.Table, id string) (models.Entity, error)
	// Put inserts or replaces e.
	Put(ctx context.Context, e models.Entity) (int64, error)
	// Delete tombstones the record, bumps its version and marks it pending.
	Delete(ctx context.Context, table models.Table, id string) (int64, error)
	// BulkPut writes entities atomically; on error nothing is written.
	BulkPut(ctx context.Context, entities []models.Entity) ([]int64, error)
	// QueryByOwner lists live records of userID. A non-empty foreignKey
	// narrows to records whose parent reference equals it.
	QueryByOwner(ctx context.Context, table models.Table, userID, foreignKey string) ([]models.Entity, error)
	// Update performs a row-locked read-modify-write and returns the record
	// as stored afterwards.
	Update(ctx context.Context, table models.Table, id string, fn UpdateFunc) (models.Entity, error)
	// ListPending returns records of table with PendingSync set.
	ListPending(ctx context.Context, table models.Table) ([]models.Entity, error)
}

// OperationRepository persists the queue of pending SyncOperations so that
// nothing is lost across restarts.
type OperationRepository interface {
	// SaveOperation inserts or replaces op.
	SaveOperation(ctx context.Context, op models.SyncOperation) error
	// GetOperation returns the operation or ErrNotFound.
	GetOperation(ctx context.Context, id string) (models.SyncOperation, error)
	// ListOperations returns operations in push order: priority descending,
	// then timestamp ascending. With no statuses every operation is listed.
	ListOperations(ctx context.Context, statuses ...models.OperationStatus) ([]models.SyncOperation, error)
	// DeleteOperation removes an acknowledged operation. Deleting a missing
	// id is not an error.
	DeleteOperation(ctx context.Context, id string) error
	// DeleteEntityOperations removes every non-failed operation targeting
	// (table, entityID) and returns how many were removed.
	DeleteEntityOperations(ctx context.Context, table models.Table, entityID string) (int, error)
}

// Checkpoints tracks the last remote version confirmed per table.
type Checkpoints interface {
	// GetCheckpoint returns 0 for a table never synced.
	GetCheckpoint(ctx context.Context, table models.Table) (int64, error)
	// SetCheckpoint stores version; a lower value than stored is ignored.
	SetCheckpoint(ctx context.Context, table models.Table, version int64) error
}

// Preferences is a small string key/value store.
type Preferences interface {
	GetPreference(ctx context.Context, key string) (string, bool, error)
	SetPreference(ctx context.Context, key, value string) error
}
