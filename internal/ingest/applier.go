// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/MKhiriev/go-sync-engine/internal/conflict"
	"github.com/MKhiriev/go-sync-engine/internal/events"
	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/internal/store"
	"github.com/MKhiriev/go-sync-engine/models"
)

// OperationSink queues local state for upload. The sync orchestrator's
// operation queue implements it.
type OperationSink interface {
	// Enqueue records e as the latest local state to push. baseVersion is
	// the remote version the state was derived from.
	Enqueue(ctx context.Context, e models.Entity, baseVersion int64) (models.SyncOperation, error)
	// Supersede drops queued operations for a record whose remote copy has
	// won, unless the queued state is newer than through.
	Supersede(ctx context.Context, table models.Table, id string, through int64) (int, error)
}

// Outcome is what applying one remote record did.
type Outcome string

const (
	// OutcomeApplied means the remote record was written as is.
	OutcomeApplied Outcome = "applied"
	// OutcomeNoop means the local copy already matched.
	OutcomeNoop Outcome = "noop"
	// OutcomeRejected means the remote record was stale.
	OutcomeRejected Outcome = "rejected"
	// OutcomeResolved means a conflict was resolved and its result written.
	OutcomeResolved Outcome = "resolved"
	// OutcomeManual means a conflict was left for manual review.
	OutcomeManual Outcome = "manual"
)

// Result describes one applied record.
type Result struct {
	Outcome Outcome
	// Version is the local SyncVersion after the call.
	Version  int64
	Conflict *models.ConflictRecord
}

// Applier writes remote records into the local store.
type Applier struct {
	store     store.LocalStore
	resolver  *conflict.Resolver
	sink      OperationSink
	publisher events.Publisher
	context   func() models.ResolutionContext

	logger *logger.Logger
}

// NewApplier returns an applier. resolutionContext may be nil.
func NewApplier(
	local store.LocalStore,
	resolver *conflict.Resolver,
	sink OperationSink,
	publisher events.Publisher,
	resolutionContext func() models.ResolutionContext,
	log *logger.Logger,
) *Applier {
	if resolutionContext == nil {
		resolutionContext = func() models.ResolutionContext { return models.ResolutionContext{} }
	}
	return &Applier{
		store:     local,
		resolver:  resolver,
		sink:      sink,
		publisher: publisher,
		context:   resolutionContext,
		logger:    log.WithComponent("applier"),
	}
}

// HandleBatch applies batch in order. Records that fail validation or
// conflict resolution are logged and skipped; any other failure aborts
// the batch so the pipeline requeues it.
func (a *Applier) HandleBatch(ctx context.Context, batch models.RealtimeEventBatch) error {
	for i, event := range batch.Events {
		_, err := a.Apply(ctx, event)
		if err == nil {
			continue
		}
		if skippable(err) {
			a.logger.Warn().Err(err).
				Str("batch_id", batch.ID).
				Str("table", string(event.Table)).
				Str("entity_id", event.EntityID()).
				Msg("skipping change event")
			continue
		}
		return fmt.Errorf("apply event %d of batch %s: %w", i, batch.ID, err)
	}
	return nil
}

func skippable(err error) bool {
	return errors.Is(err, conflict.ErrConflict) ||
		errors.Is(err, ErrInvalidEvent) ||
		errors.Is(err, models.ErrInvalidEntity) ||
		errors.Is(err, models.ErrUnknownTable)
}

// Apply applies one change event. A DELETE is applied as a tombstone at
// the version the feed reports, or one version above the deleted row
// image when it reports none.
func (a *Applier) Apply(ctx context.Context, event models.ChangeEvent) (Result, error) {
	record := event.Record()
	if record == nil {
		return Result{}, fmt.Errorf("%w: %s event without record", ErrInvalidEvent, event.Type)
	}
	if event.Table != "" && record.Table() != event.Table {
		return Result{}, fmt.Errorf("%w: %s record on %s event", ErrInvalidEvent, record.Table(), event.Table)
	}

	switch event.Type {
	case models.ChangeInsert, models.ChangeUpdate:
		return a.ApplyRemote(ctx, event.New)
	case models.ChangeDelete:
		return a.ApplyRemote(ctx, tombstone(event))
	default:
		return Result{}, fmt.Errorf("%w: unknown change type %q", ErrInvalidEvent, event.Type)
	}
}

func tombstone(event models.ChangeEvent) models.Entity {
	t := event.Old.Clone()
	b := t.Base()
	switch {
	case event.Version > 0:
		b.SyncVersion = event.Version
	case !b.IsDeleted:
		b.SyncVersion++
	}
	b.IsDeleted = true
	return t
}

// ApplyRemote merges a remote copy into the local store under the row
// lock of its record.
//
// A missing record is inserted. A remote copy older than a local copy
// without pending changes is rejected. Identical content is a no-op,
// except that a newer remote version is adopted. Divergent copies go to
// the conflict resolver; its result is written and, when local state won
// or was merged, queued for upload.
func (a *Applier) ApplyRemote(ctx context.Context, remote models.Entity) (Result, error) {
	if err := remote.Validate(); err != nil {
		return Result{}, err
	}
	table, id := remote.Table(), remote.Base().ID

	var (
		res        Result
		info       *models.ConflictInfo
		resolution models.ConflictResolutionResult
		upload     models.Entity
		supersede  bool
	)

	stored, err := a.store.Update(ctx, table, id, func(current models.Entity) (models.Entity, error) {
		res, info, upload, supersede = Result{}, nil, nil, false

		if current == nil {
			res.Outcome = OutcomeApplied
			return confirmed(remote), nil
		}

		cb, rb := current.Base(), remote.Base()
		if rb.SyncVersion < cb.SyncVersion && !cb.PendingSync {
			res.Outcome = OutcomeRejected
			return nil, nil
		}

		var isConflict bool
		info, isConflict = a.resolver.Detect(current, remote)
		if !isConflict {
			if rb.SyncVersion > cb.SyncVersion {
				// same content or plain fast-forward
				res.Outcome = OutcomeApplied
				supersede = cb.PendingSync
				return confirmed(remote), nil
			}
			res.Outcome = OutcomeNoop
			return nil, nil
		}

		var err error
		resolution, err = a.resolver.Resolve(info, a.context())
		if err != nil {
			return nil, err
		}

		switch resolution.Resolution {
		case models.ResolutionManual:
			res.Outcome = OutcomeManual
			return nil, nil
		case models.ResolutionCloudWins:
			supersede = true
		default:
			upload = resolution.MergedData
		}
		res.Outcome = OutcomeResolved
		return resolution.MergedData, nil
	})

	if info != nil {
		a.publisher.Publish(models.EngineEvent{
			Kind:     models.EventConflictDetected,
			Table:    table,
			EntityID: id,
		})
	}

	if err != nil {
		if errors.Is(err, store.ErrStaleVersion) {
			return Result{Outcome: OutcomeRejected}, nil
		}
		return Result{}, fmt.Errorf("apply %s %s: %w", table, id, err)
	}
	res.Version = stored.Base().SyncVersion

	if info != nil {
		record := &models.ConflictRecord{Info: *info, Result: resolution}
		res.Conflict = record
		a.publisher.Publish(models.EngineEvent{
			Kind:     models.EventConflictResolved,
			Table:    table,
			EntityID: id,
			Conflict: record,
		})
		a.logger.Info().
			Str("table", string(table)).
			Str("entity_id", id).
			Str("conflict_type", string(info.ConflictType)).
			Str("resolution", string(resolution.Resolution)).
			Str("reason", resolution.Reason).
			Float64("confidence", resolution.Confidence).
			Msg("conflict resolved")
	}

	if supersede {
		if _, err = a.sink.Supersede(ctx, table, id, res.Version); err != nil {
			return res, fmt.Errorf("supersede %s %s: %w", table, id, err)
		}
	}
	if upload != nil {
		if _, err = a.sink.Enqueue(ctx, upload, remote.Base().SyncVersion); err != nil {
			return res, fmt.Errorf("enqueue %s %s: %w", table, id, err)
		}
	}

	return res, nil
}

// confirmed returns a copy of remote marked as acknowledged state.
func confirmed(remote models.Entity) models.Entity {
	out := remote.Clone()
	out.Base().PendingSync = false
	return out
}
