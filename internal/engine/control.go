// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package engine

import (
	"context"
	"fmt"

	"github.com/MKhiriev/go-sync-engine/internal/conflict"
	"github.com/MKhiriev/go-sync-engine/internal/events"
	"github.com/MKhiriev/go-sync-engine/models"
)

// PerformSync runs a sync cycle now.
func (e *Engine) PerformSync(ctx context.Context, mode models.SyncMode) (models.SyncResult, error) {
	if err := e.alive(); err != nil {
		return models.SyncResult{}, err
	}
	return e.orchestrator.PerformSync(ctx, mode)
}

// ReconnectAll restarts every channel that is not connected and returns
// how many were restarted.
func (e *Engine) ReconnectAll(ctx context.Context) (int, error) {
	if err := e.alive(); err != nil {
		return 0, err
	}
	return e.connections.ReconnectAll(ctx), nil
}

// SetNetwork relays a platform network change: the online signal goes to
// the connection manager, the network identity to the strategy manager.
// Coming online also schedules a sync.
func (e *Engine) SetNetwork(ctx context.Context, info models.NetworkInfo) error {
	if err := e.alive(); err != nil {
		return err
	}

	e.connections.SetOnline(info.Online)
	if info.Online {
		e.orchestrator.Trigger()
	}
	if err := e.strategies.SetNetwork(ctx, info); err != nil {
		return fmt.Errorf("apply network %q: %w", info.NetworkID, err)
	}
	return nil
}

// RecordDevice feeds a device resource sample to the strategy manager.
func (e *Engine) RecordDevice(info models.DeviceInfo) {
	e.strategies.RecordDevice(info)
}

// SetUserUrgency tells conflict resolution how actively the user is
// editing, 0..1.
func (e *Engine) SetUserUrgency(v float64) {
	e.strategies.SetUserUrgency(v)
}

// ForceStrategy switches to the named preset regardless of metrics.
func (e *Engine) ForceStrategy(ctx context.Context, name string) error {
	if err := e.alive(); err != nil {
		return err
	}
	return e.strategies.Force(ctx, name)
}

// ResumeAfterAuth lifts the sync pause that follows a rejected token.
func (e *Engine) ResumeAfterAuth() {
	e.orchestrator.ResumeAfterAuth()
	if e.connections.Online() {
		e.connections.ReconnectAll(context.Background())
	}
}

// SaveLocal writes a user edit and queues it for upload.
func (e *Engine) SaveLocal(ctx context.Context, entity models.Entity) (models.Entity, error) {
	if err := e.alive(); err != nil {
		return nil, err
	}
	stored, _, err := e.orchestrator.SaveLocal(ctx, entity)
	return stored, err
}

// DeleteLocal tombstones a record and queues the delete.
func (e *Engine) DeleteLocal(ctx context.Context, table models.Table, id string) error {
	if err := e.alive(); err != nil {
		return err
	}
	_, err := e.orchestrator.DeleteLocal(ctx, table, id)
	return err
}

// Get reads a record from the local replica. Tombstones are returned.
func (e *Engine) Get(ctx context.Context, table models.Table, id string) (models.Entity, error) {
	if err := e.alive(); err != nil {
		return nil, err
	}
	return e.storages.Entities.Get(ctx, table, id)
}

// PendingOperations lists the operation queue, parked failures included.
func (e *Engine) PendingOperations(ctx context.Context) ([]models.SyncOperation, error) {
	if err := e.alive(); err != nil {
		return nil, err
	}
	return e.orchestrator.PendingOperations(ctx)
}

// Subscribe registers fn for every engine event.
func (e *Engine) Subscribe(fn events.Handler) (unsubscribe func()) {
	return e.bus.Subscribe(fn)
}

// ConflictStats returns the resolution counters of every table over the
// resolver's recent history.
func (e *Engine) ConflictStats() map[models.Table]conflict.TableStats {
	stats := make(map[models.Table]conflict.TableStats, len(models.Tables))
	for _, table := range models.Tables {
		stats[table] = e.resolver.Stats(table)
	}
	return stats
}

// Status returns a monitoring snapshot.
func (e *Engine) Status(ctx context.Context) (models.EngineStatus, error) {
	if err := e.alive(); err != nil {
		return models.EngineStatus{}, err
	}

	ops, err := e.orchestrator.PendingOperations(ctx)
	if err != nil {
		return models.EngineStatus{}, err
	}

	status := models.EngineStatus{
		Online:        e.connections.Online(),
		Strategy:      e.holder.Load().Name,
		Tier:          e.strategies.Tier(),
		Performance:   e.strategies.Snapshot(),
		Channels:      e.connections.States(),
		AuthPaused:    e.orchestrator.AuthPaused(),
		DroppedEvents: e.bus.Dropped(),
	}
	for _, op := range ops {
		if op.Status == models.OperationFailed {
			status.FailedOperations++
		} else {
			status.PendingOperations++
		}
	}
	if last, ok := e.orchestrator.LastResult(); ok {
		status.LastSync = &last
	}
	return status, nil
}
