// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/internal/store"
	"github.com/MKhiriev/go-sync-engine/internal/utils"
	"github.com/MKhiriev/go-sync-engine/models"
)

// parentTable maps a table to the table its ForeignKey points into.
var parentTable = map[models.Table]models.Table{
	models.TableCards:   models.TableFolders,
	models.TableFolders: models.TableFolders,
	models.TableImages:  models.TableCards,
}

// Queue is the persistent queue of local mutations waiting for upload.
//
// A record has at most one live operation: enqueuing a newer state for the
// same record replaces the older one. A record created locally stays a
// create until the backend acknowledges it. Every change to the
// operations of one record runs under that record's lock.
type Queue struct {
	repo       store.OperationRepository
	rows       *store.RowLocker
	maxRetries func() int
	now        func() time.Time

	logger *logger.Logger
}

// NewQueue returns a queue over repo. maxRetries is read for every new
// operation so that a strategy switch changes the budget of later
// operations only; nil means models.DefaultOperationMaxRetries.
func NewQueue(repo store.OperationRepository, maxRetries func() int, log *logger.Logger) *Queue {
	if maxRetries == nil {
		maxRetries = func() int { return models.DefaultOperationMaxRetries }
	}
	return &Queue{
		repo:       repo,
		rows:       store.NewRowLocker(),
		maxRetries: maxRetries,
		now:        time.Now,
		logger:     log.WithComponent("queue"),
	}
}

// Enqueue records e as the next state to upload. baseVersion is the remote
// version the state was derived from; zero means the backend has never
// seen the record.
//
// A live operation carrying a higher version than e is kept and returned
// instead: the caller lost the race against a newer write.
func (q *Queue) Enqueue(ctx context.Context, e models.Entity, baseVersion int64) (models.SyncOperation, error) {
	return q.enqueue(ctx, e, baseVersion, false)
}

// EnqueueEdit is Enqueue for a local edit. When unsynced is set the edit
// was made on top of a state still waiting for upload, and the replaced
// operation's base version is kept.
func (q *Queue) EnqueueEdit(ctx context.Context, e models.Entity, baseVersion int64, unsynced bool) (models.SyncOperation, error) {
	return q.enqueue(ctx, e, baseVersion, unsynced)
}

func (q *Queue) enqueue(ctx context.Context, e models.Entity, baseVersion int64, inherit bool) (models.SyncOperation, error) {
	b := e.Base()
	table := e.Table()

	payload, err := json.Marshal(e)
	if err != nil {
		return models.SyncOperation{}, fmt.Errorf("encode %s %s: %w", table, b.ID, err)
	}

	unlock := q.rows.Lock(table, b.ID)
	defer unlock()

	previous, found, err := q.Live(ctx, table, b.ID)
	if err != nil {
		return models.SyncOperation{}, err
	}
	if found {
		if v, ok := payloadVersion(previous); ok && v > b.SyncVersion {
			q.logger.Debug().
				Str("table", string(table)).
				Str("entity_id", b.ID).
				Int64("version", b.SyncVersion).
				Int64("queued_version", v).
				Msg("older state not queued")
			return previous, nil
		}
		if inherit {
			baseVersion = previous.BaseVersion
		}
	}

	op := models.SyncOperation{
		ID:          utils.NewID(),
		Type:        operationType(b.IsDeleted, baseVersion),
		EntityType:  table,
		EntityID:    b.ID,
		Payload:     payload,
		BaseVersion: baseVersion,
		Timestamp:   q.now(),
		MaxRetries:  max(q.maxRetries(), 1),
		Priority:    models.PriorityNormal,
		Status:      models.OperationPending,
	}
	if b.IsDeleted {
		op.Priority = models.PriorityHigh
	}
	if found {
		op.Timestamp = previous.Timestamp
		op.Priority = max(op.Priority, previous.Priority)
	}

	deps, err := q.dependencies(ctx, e)
	if err != nil {
		return models.SyncOperation{}, err
	}
	op.Dependencies = deps

	if _, err = q.repo.DeleteEntityOperations(ctx, table, b.ID); err != nil {
		return models.SyncOperation{}, fmt.Errorf("coalesce %s %s: %w", table, b.ID, err)
	}
	if err = q.repo.SaveOperation(ctx, op); err != nil {
		return models.SyncOperation{}, fmt.Errorf("save operation for %s %s: %w", table, b.ID, err)
	}

	q.logger.Debug().
		Str("operation_id", op.ID).
		Str("type", string(op.Type)).
		Str("table", string(table)).
		Str("entity_id", b.ID).
		Int64("base_version", baseVersion).
		Bool("coalesced", found).
		Msg("operation queued")
	return op, nil
}

func operationType(deleted bool, baseVersion int64) models.OperationType {
	switch {
	case deleted:
		return models.OperationDelete
	case baseVersion == 0:
		return models.OperationCreate
	default:
		return models.OperationUpdate
	}
}

// dependencies returns the live operation of e's parent record, if any, so
// that a child is never pushed before its parent exists remotely.
func (q *Queue) dependencies(ctx context.Context, e models.Entity) ([]string, error) {
	parent, ok := parentTable[e.Table()]
	key := e.ForeignKey()
	if !ok || key == "" || e.Base().IsDeleted {
		return nil, nil
	}

	op, found, err := q.Live(ctx, parent, key)
	if err != nil || !found {
		return nil, err
	}
	return []string{op.ID}, nil
}

func payloadVersion(op models.SyncOperation) (int64, bool) {
	e, err := op.Entity()
	if err != nil {
		return 0, false
	}
	return e.Base().SyncVersion, true
}

// Supersede drops the live operation of a record when it carries version
// through or lower. A newer local edit survives.
func (q *Queue) Supersede(ctx context.Context, table models.Table, id string, through int64) (int, error) {
	unlock := q.rows.Lock(table, id)
	defer unlock()

	live, found, err := q.Live(ctx, table, id)
	if err != nil || !found {
		return 0, err
	}
	if v, ok := payloadVersion(live); ok && v > through {
		return 0, nil
	}

	n, err := q.repo.DeleteEntityOperations(ctx, table, id)
	if err != nil {
		return 0, fmt.Errorf("supersede %s %s: %w", table, id, err)
	}
	if n > 0 {
		q.logger.Debug().Str("table", string(table)).Str("entity_id", id).Int("count", n).Msg("operations superseded")
	}
	return n, nil
}

// Live returns the pending or in-flight operation of a record.
func (q *Queue) Live(ctx context.Context, table models.Table, id string) (models.SyncOperation, bool, error) {
	ops, err := q.repo.ListOperations(ctx, models.OperationPending, models.OperationProcessing)
	if err != nil {
		return models.SyncOperation{}, false, fmt.Errorf("list operations: %w", err)
	}
	for _, op := range ops {
		if op.EntityType == table && op.EntityID == id {
			return op, true, nil
		}
	}
	return models.SyncOperation{}, false, nil
}

// Pending returns the operations to push, in push order.
func (q *Queue) Pending(ctx context.Context) ([]models.SyncOperation, error) {
	ops, err := q.repo.ListOperations(ctx, models.OperationPending, models.OperationProcessing)
	if err != nil {
		return nil, fmt.Errorf("list pending operations: %w", err)
	}
	return ops, nil
}

// All returns every queued operation, failed ones included.
func (q *Queue) All(ctx context.Context) ([]models.SyncOperation, error) {
	ops, err := q.repo.ListOperations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	return ops, nil
}

// MarkProcessing flags op as in flight. It reports false when op was
// replaced by a newer state in the meantime.
func (q *Queue) MarkProcessing(ctx context.Context, op models.SyncOperation) (bool, error) {
	unlock := q.rows.Lock(op.EntityType, op.EntityID)
	defer unlock()

	if !q.exists(ctx, op.ID) {
		return false, nil
	}
	op.Status = models.OperationProcessing
	if err := q.repo.SaveOperation(ctx, op); err != nil {
		return false, err
	}
	return true, nil
}

// Release puts an in-flight op back to pending without charging a retry.
func (q *Queue) Release(ctx context.Context, op models.SyncOperation) error {
	unlock := q.rows.Lock(op.EntityType, op.EntityID)
	defer unlock()

	if !q.exists(ctx, op.ID) {
		return nil
	}
	op.Status = models.OperationPending
	return q.repo.SaveOperation(ctx, op)
}

// Complete removes an acknowledged operation.
func (q *Queue) Complete(ctx context.Context, id string) error {
	return q.repo.DeleteOperation(ctx, id)
}

// Fail charges op one retry. Once the budget is used up the operation is
// parked as failed and exhausted is true.
func (q *Queue) Fail(ctx context.Context, op models.SyncOperation, cause error) (updated models.SyncOperation, exhausted bool, err error) {
	unlock := q.rows.Lock(op.EntityType, op.EntityID)
	defer unlock()

	if !q.exists(ctx, op.ID) {
		// replaced by a newer state while in flight
		return op, false, nil
	}

	op.RetryCount++
	op.LastError = cause.Error()
	op.Status = models.OperationPending
	if op.Exhausted() {
		op.Status = models.OperationFailed
		exhausted = true
	}
	if err = q.repo.SaveOperation(ctx, op); err != nil {
		return op, exhausted, fmt.Errorf("save operation %s: %w", op.ID, err)
	}
	return op, exhausted, nil
}

// Park marks op failed without charging a retry. Parked operations are
// kept for inspection and never pushed again.
func (q *Queue) Park(ctx context.Context, op models.SyncOperation, reason string) error {
	unlock := q.rows.Lock(op.EntityType, op.EntityID)
	defer unlock()

	if !q.exists(ctx, op.ID) {
		return nil
	}
	op.Status = models.OperationFailed
	op.LastError = reason
	if err := q.repo.SaveOperation(ctx, op); err != nil {
		return fmt.Errorf("park operation %s: %w", op.ID, err)
	}
	return nil
}

func (q *Queue) exists(ctx context.Context, id string) bool {
	_, err := q.repo.GetOperation(ctx, id)
	return err == nil
}
