// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package orchestrator

import (
	"context"
	"fmt"

	"github.com/MKhiriev/go-sync-engine/internal/store"
	"github.com/MKhiriev/go-sync-engine/models"
)

// SaveLocal writes a user edit to the local store, marks it pending and
// queues it for upload. The stored version is one above the previous
// local version; a new record starts at version 1.
func (o *Orchestrator) SaveLocal(ctx context.Context, e models.Entity) (models.Entity, models.SyncOperation, error) {
	if err := e.Validate(); err != nil {
		return nil, models.SyncOperation{}, err
	}
	table, id := e.Table(), e.Base().ID

	var (
		base    int64
		inherit bool
	)
	stored, err := o.local.Update(ctx, table, id, func(current models.Entity) (models.Entity, error) {
		next := e.Clone()
		b := next.Base()
		now := o.now()

		b.PendingSync = true
		b.UpdatedAt = now
		if current == nil {
			base, inherit = 0, false
			b.SyncVersion = 1
			if b.CreatedAt.IsZero() {
				b.CreatedAt = now
			}
			return next, nil
		}

		cb := current.Base()
		base, inherit = cb.SyncVersion, cb.PendingSync
		b.SyncVersion = cb.SyncVersion + 1
		b.CreatedAt = cb.CreatedAt
		return next, nil
	})
	if err != nil {
		return nil, models.SyncOperation{}, fmt.Errorf("save %s %s: %w", table, id, err)
	}

	op, err := o.enqueueLocal(ctx, stored, base, inherit)
	if err != nil {
		return stored, models.SyncOperation{}, err
	}
	return stored, op, nil
}

// DeleteLocal tombstones a record and queues the delete. Deleting a
// tombstone is a no-op and returns a zero operation.
func (o *Orchestrator) DeleteLocal(ctx context.Context, table models.Table, id string) (models.SyncOperation, error) {
	var (
		base    int64
		inherit bool
		changed bool
	)
	stored, err := o.local.Update(ctx, table, id, func(current models.Entity) (models.Entity, error) {
		changed = false
		if current == nil {
			return nil, fmt.Errorf("%w: %s/%s", store.ErrNotFound, table, id)
		}
		cb := current.Base()
		if cb.IsDeleted {
			return nil, nil
		}

		base, inherit, changed = cb.SyncVersion, cb.PendingSync, true
		cb.IsDeleted = true
		cb.PendingSync = true
		cb.SyncVersion++
		cb.UpdatedAt = o.now()
		return current, nil
	})
	if err != nil {
		return models.SyncOperation{}, fmt.Errorf("delete %s %s: %w", table, id, err)
	}
	if !changed {
		return models.SyncOperation{}, nil
	}

	return o.enqueueLocal(ctx, stored, base, inherit)
}

// enqueueLocal queues stored. When the previous local state was itself
// unsynced, the new operation keeps the base version of the operation it
// replaces.
func (o *Orchestrator) enqueueLocal(ctx context.Context, stored models.Entity, base int64, inherit bool) (models.SyncOperation, error) {
	op, err := o.queue.EnqueueEdit(ctx, stored, base, inherit)
	if err != nil {
		return models.SyncOperation{}, err
	}
	o.Trigger()
	return op, nil
}

// PendingOperations lists every queued operation, failed ones included.
func (o *Orchestrator) PendingOperations(ctx context.Context) ([]models.SyncOperation, error) {
	return o.queue.All(ctx)
}
