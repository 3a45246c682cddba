// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"fmt"
	"time"

	"github.com/MKhiriev/go-sync-engine/models"
)

// checkWrite validates next as the successor of current for (table, id).
func checkWrite(table models.Table, id string, current, next models.Entity) error {
	if next.Table() != table || next.Base().ID != id {
		return fmt.Errorf("%w: update of %s/%s returned %s/%s",
			models.ErrInvalidEntity, table, id, next.Table(), next.Base().ID)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	if current != nil && next.Base().SyncVersion < current.Base().SyncVersion {
		return fmt.Errorf("%w: %s/%s has version %d, write carries %d",
			ErrStaleVersion, table, id, current.Base().SyncVersion, next.Base().SyncVersion)
	}
	return nil
}

// tombstoneOf returns the deleted successor of current.
func tombstoneOf(current models.Entity, now time.Time) models.Entity {
	next := current.Clone()
	base := next.Base()
	base.IsDeleted = true
	base.PendingSync = true
	base.SyncVersion++
	base.UpdatedAt = now
	return next
}

// putFunc adapts a plain write to an UpdateFunc.
func putFunc(e models.Entity) UpdateFunc {
	return func(models.Entity) (models.Entity, error) {
		return e, nil
	}
}

// deleteFunc tombstones an existing record; a missing record is an error.
func deleteFunc(table models.Table, id string, now func() time.Time) UpdateFunc {
	return func(current models.Entity) (models.Entity, error) {
		if current == nil {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, table, id)
		}
		if current.Base().IsDeleted {
			return nil, nil
		}
		return tombstoneOf(current, now()), nil
	}
}
