// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/internal/store"
	"github.com/MKhiriev/go-sync-engine/models"
)

func newTestQueue(t *testing.T, maxRetries int) (*Queue, *store.MemoryStorage) {
	t.Helper()
	mem, err := store.NewMemoryStorage(":memory:")
	require.NoError(t, err)

	q := NewQueue(mem, func() int { return maxRetries }, logger.Nop())
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return q, mem
}

func card(id, front string, version int64) *models.Card {
	return &models.Card{
		SyncEntity: models.SyncEntity{ID: id, UserID: "user-1", SyncVersion: version},
		Front:      front,
		Back:       "back",
	}
}

func TestQueue_EnqueueDerivesOperationType(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		entity   models.Entity
		base     int64
		wantType models.OperationType
		wantPrio models.Priority
	}{
		{name: "new record", entity: card("c-1", "a", 1), base: 0, wantType: models.OperationCreate, wantPrio: models.PriorityNormal},
		{name: "known record", entity: card("c-1", "a", 3), base: 2, wantType: models.OperationUpdate, wantPrio: models.PriorityNormal},
		{
			name: "tombstone",
			entity: func() models.Entity {
				c := card("c-1", "a", 3)
				c.IsDeleted = true
				return c
			}(),
			base:     2,
			wantType: models.OperationDelete,
			wantPrio: models.PriorityHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, _ := newTestQueue(t, 4)

			op, err := q.Enqueue(ctx, tt.entity, tt.base)
			require.NoError(t, err)

			assert.NotEmpty(t, op.ID)
			assert.Equal(t, tt.wantType, op.Type)
			assert.Equal(t, tt.wantPrio, op.Priority)
			assert.Equal(t, tt.base, op.BaseVersion)
			assert.Equal(t, 4, op.MaxRetries)
			assert.Equal(t, models.OperationPending, op.Status)

			decoded, err := op.Entity()
			require.NoError(t, err)
			assert.Equal(t, tt.entity.Base().SyncVersion, decoded.Base().SyncVersion)
		})
	}
}

func TestQueue_EnqueueCoalescesPerRecord(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, 3)

	first, err := q.Enqueue(ctx, card("c-1", "one", 1), 0)
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, card("c-1", "two", 2), 0)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, card("c-2", "other", 1), 0)
	require.NoError(t, err)

	ops, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 2)

	assert.Equal(t, second.ID, ops[0].ID)
	assert.Equal(t, first.Timestamp, ops[0].Timestamp, "coalesced op keeps its queue position")
	assert.Equal(t, models.OperationCreate, ops[0].Type)

	pushed, err := ops[0].Entity()
	require.NoError(t, err)
	assert.Equal(t, "two", pushed.(*models.Card).Front)
}

// slowOperations widens the window between reading and rewriting the
// operations of a record.
type slowOperations struct {
	store.OperationRepository
}

func (s slowOperations) ListOperations(ctx context.Context, statuses ...models.OperationStatus) ([]models.SyncOperation, error) {
	time.Sleep(time.Millisecond)
	return s.OperationRepository.ListOperations(ctx, statuses...)
}

func (s slowOperations) SaveOperation(ctx context.Context, op models.SyncOperation) error {
	time.Sleep(time.Millisecond)
	return s.OperationRepository.SaveOperation(ctx, op)
}

func TestQueue_ConcurrentEnqueueKeepsOneLiveOperation(t *testing.T) {
	ctx := context.Background()

	for range 5 {
		mem, err := store.NewMemoryStorage(":memory:")
		require.NoError(t, err)
		q := NewQueue(slowOperations{OperationRepository: mem}, nil, logger.Nop())

		var wg sync.WaitGroup
		start := make(chan struct{})
		for _, version := range []int64{2, 3} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := q.Enqueue(ctx, card("c-1", "edit", version), 1)
				assert.NoError(t, err)
			}()
		}
		close(start)
		wg.Wait()

		ops, err := q.Pending(ctx)
		require.NoError(t, err)
		require.Len(t, ops, 1)

		pushed, err := ops[0].Entity()
		require.NoError(t, err)
		assert.Equal(t, int64(3), pushed.Base().SyncVersion)
	}
}

func TestQueue_EnqueueKeepsNewerQueuedState(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, 3)

	newer, err := q.Enqueue(ctx, card("c-1", "newer", 3), 1)
	require.NoError(t, err)

	got, err := q.Enqueue(ctx, card("c-1", "older", 2), 1)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.ID)

	live, found, err := q.Live(ctx, models.TableCards, "c-1")
	require.NoError(t, err)
	require.True(t, found)
	pushed, err := live.Entity()
	require.NoError(t, err)
	assert.Equal(t, "newer", pushed.(*models.Card).Front)
}

func TestQueue_EnqueueEditInheritsBaseVersion(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, 3)

	_, err := q.EnqueueEdit(ctx, card("c-1", "a", 5), 4, false)
	require.NoError(t, err)

	op, err := q.EnqueueEdit(ctx, card("c-1", "b", 6), 5, true)
	require.NoError(t, err)
	assert.Equal(t, int64(4), op.BaseVersion, "unsynced edit keeps the confirmed base")
	assert.Equal(t, models.OperationUpdate, op.Type)

	op, err = q.EnqueueEdit(ctx, card("c-2", "x", 2), 1, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), op.BaseVersion, "nothing to inherit from")
}

func TestQueue_MarkProcessingSkipsReplacedOperation(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, 3)

	old, err := q.Enqueue(ctx, card("c-1", "a", 1), 0)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, card("c-1", "b", 2), 0)
	require.NoError(t, err)

	live, err := q.MarkProcessing(ctx, old)
	require.NoError(t, err)
	assert.False(t, live)

	ops, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, models.OperationPending, ops[0].Status)
}

func TestQueue_ChildDependsOnQueuedParent(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, 3)

	folder := &models.Folder{SyncEntity: models.SyncEntity{ID: "f-1", UserID: "user-1", SyncVersion: 1}, Name: "Inbox"}
	folderOp, err := q.Enqueue(ctx, folder, 0)
	require.NoError(t, err)

	child := card("c-1", "front", 1)
	child.FolderID = "f-1"
	op, err := q.Enqueue(ctx, child, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{folderOp.ID}, op.Dependencies)

	orphan := card("c-2", "front", 1)
	orphan.FolderID = "f-unknown"
	op, err = q.Enqueue(ctx, orphan, 0)
	require.NoError(t, err)
	assert.Empty(t, op.Dependencies)
}

func TestQueue_Supersede(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, 3)

	_, err := q.Enqueue(ctx, card("c-1", "a", 1), 0)
	require.NoError(t, err)

	n, err := q.Supersede(ctx, models.TableCards, "c-1", 0)
	require.NoError(t, err)
	assert.Zero(t, n, "queued state is newer than the remote copy")

	n, err = q.Supersede(ctx, models.TableCards, "c-1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, found, err := q.Live(ctx, models.TableCards, "c-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestQueue_FailUntilExhausted(t *testing.T) {
	ctx := context.Background()
	q, mem := newTestQueue(t, 2)

	op, err := q.Enqueue(ctx, card("c-1", "a", 1), 0)
	require.NoError(t, err)
	cause := errors.New("boom")

	op, exhausted, err := q.Fail(ctx, op, cause)
	require.NoError(t, err)
	assert.False(t, exhausted)
	assert.Equal(t, 1, op.RetryCount)
	assert.Equal(t, models.OperationPending, op.Status)

	op, exhausted, err = q.Fail(ctx, op, cause)
	require.NoError(t, err)
	assert.True(t, exhausted)
	assert.Equal(t, 2, op.RetryCount)

	stored, err := mem.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OperationFailed, stored.Status)
	assert.Equal(t, "boom", stored.LastError)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	all, err := q.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestQueue_FailIgnoresReplacedOperation(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, 2)

	old, err := q.Enqueue(ctx, card("c-1", "a", 1), 0)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, card("c-1", "b", 2), 0)
	require.NoError(t, err)

	_, exhausted, err := q.Fail(ctx, old, errors.New("boom"))
	require.NoError(t, err)
	assert.False(t, exhausted)

	all, err := q.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Zero(t, all[0].RetryCount)
}

func TestQueue_Park(t *testing.T) {
	ctx := context.Background()
	q, mem := newTestQueue(t, 2)

	op, err := q.Enqueue(ctx, card("c-1", "a", 1), 0)
	require.NoError(t, err)
	require.NoError(t, q.Park(ctx, op, "manual"))

	stored, err := mem.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OperationFailed, stored.Status)
	assert.Zero(t, stored.RetryCount)
}
