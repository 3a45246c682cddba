// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/models"
)

func newSQLiteBackend(t *testing.T) *SQLiteStorage {
	t.Helper()
	db, err := NewConnectSQLite(context.Background(), ":memory:", logger.Nop())
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLiteStorage(db, logger.Nop())
}

func newMemoryBackend(t *testing.T) *MemoryStorage {
	t.Helper()
	s, err := NewMemoryStorage(":memory:")
	require.NoError(t, err)
	return s
}

// forEachBackend runs fn against every LocalStore implementation.
func forEachBackend(t *testing.T, fn func(t *testing.T, s Backend)) {
	t.Run("memory", func(t *testing.T) { fn(t, newMemoryBackend(t)) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteBackend(t)) })
}

func testCard(id string, version int64) *models.Card {
	return &models.Card{
		SyncEntity: models.SyncEntity{ID: id, UserID: "user-1", SyncVersion: version},
		FolderID:   "folder-1",
		Front:      "front " + id,
		Back:       "back",
		TagIDs:     []string{"t1"},
	}
}

func TestStore_PutGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Backend) {
		ctx := context.Background()

		v, err := s.Put(ctx, testCard("c1", 1))
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)

		got, err := s.Get(ctx, models.TableCards, "c1")
		require.NoError(t, err)
		assert.Equal(t, testCard("c1", 1), got)

		_, err = s.Get(ctx, models.TableCards, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.Get(ctx, models.Table("nope"), "c1")
		assert.ErrorIs(t, err, models.ErrUnknownTable)
	})
}

func TestStore_PutRejectsLowerVersion(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Backend) {
		ctx := context.Background()
		_, err := s.Put(ctx, testCard("c1", 3))
		require.NoError(t, err)

		older := testCard("c1", 2)
		older.Front = "older"
		_, err = s.Put(ctx, older)
		assert.ErrorIs(t, err, ErrStaleVersion)

		got, err := s.Get(ctx, models.TableCards, "c1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), got.Base().SyncVersion)
		assert.Equal(t, "front c1", got.(*models.Card).Front)
	})
}

func TestStore_PutEqualVersionOverwrites(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Backend) {
		ctx := context.Background()
		pending := testCard("c1", 2)
		pending.PendingSync = true
		_, err := s.Put(ctx, pending)
		require.NoError(t, err)

		_, err = s.Put(ctx, testCard("c1", 2))
		require.NoError(t, err)

		got, err := s.Get(ctx, models.TableCards, "c1")
		require.NoError(t, err)
		assert.False(t, got.Base().PendingSync)
	})
}

func TestStore_PutRejectsInvalidEntity(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Backend) {
		bad := testCard("c1", 1)
		bad.Front = ""
		_, err := s.Put(context.Background(), bad)
		assert.ErrorIs(t, err, models.ErrInvalidEntity)
	})
}

func TestStore_DeleteTombstones(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Backend) {
		ctx := context.Background()
		_, err := s.Put(ctx, testCard("c1", 4))
		require.NoError(t, err)

		v, err := s.Delete(ctx, models.TableCards, "c1")
		require.NoError(t, err)
		assert.Equal(t, int64(5), v)

		got, err := s.Get(ctx, models.TableCards, "c1")
		require.NoError(t, err)
		assert.True(t, got.Base().IsDeleted)
		assert.True(t, got.Base().PendingSync)

		// deleting a tombstone is a no-op
		v, err = s.Delete(ctx, models.TableCards, "c1")
		require.NoError(t, err)
		assert.Equal(t, int64(5), v)

		_, err = s.Delete(ctx, models.TableCards, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_BulkPutIsAtomic(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Backend) {
		ctx := context.Background()
		_, err := s.Put(ctx, testCard("c2", 5))
		require.NoError(t, err)

		_, err = s.BulkPut(ctx, []models.Entity{testCard("c1", 1), testCard("c2", 4)})
		assert.ErrorIs(t, err, ErrStaleVersion)

		_, err = s.Get(ctx, models.TableCards, "c1")
		assert.ErrorIs(t, err, ErrNotFound)

		versions, err := s.BulkPut(ctx, []models.Entity{
			testCard("c1", 1),
			testCard("c2", 6),
			&models.Tag{SyncEntity: models.SyncEntity{ID: "t1", UserID: "user-1", SyncVersion: 2}, Name: "go"},
		})
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 6, 2}, versions)

		versions, err = s.BulkPut(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, versions)
	})
}

func TestStore_QueryByOwner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Backend) {
		ctx := context.Background()
		other := testCard("c3", 1)
		other.UserID = "user-2"
		elsewhere := testCard("c4", 1)
		elsewhere.FolderID = "folder-2"
		deleted := testCard("c5", 1)
		deleted.IsDeleted = true

		_, err := s.BulkPut(ctx, []models.Entity{testCard("c2", 1), testCard("c1", 1), other, elsewhere, deleted})
		require.NoError(t, err)

		all, err := s.QueryByOwner(ctx, models.TableCards, "user-1", "")
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "c1", all[0].Base().ID)
		assert.Equal(t, "c2", all[1].Base().ID)
		assert.Equal(t, "c4", all[2].Base().ID)

		inFolder, err := s.QueryByOwner(ctx, models.TableCards, "user-1", "folder-1")
		require.NoError(t, err)
		assert.Len(t, inFolder, 2)
	})
}

func TestStore_ListPending(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Backend) {
		ctx := context.Background()
		pending := testCard("c1", 1)
		pending.PendingSync = true
		_, err := s.BulkPut(ctx, []models.Entity{pending, testCard("c2", 1)})
		require.NoError(t, err)

		got, err := s.ListPending(ctx, models.TableCards)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "c1", got[0].Base().ID)
	})
}

func TestStore_Update(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Backend) {
		ctx := context.Background()

		_, err := s.Update(ctx, models.TableCards, "c1", func(current models.Entity) (models.Entity, error) {
			assert.Nil(t, current)
			return nil, nil
		})
		assert.ErrorIs(t, err, ErrNotFound)

		created, err := s.Update(ctx, models.TableCards, "c1", func(current models.Entity) (models.Entity, error) {
			return testCard("c1", 1), nil
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), created.Base().SyncVersion)

		unchanged, err := s.Update(ctx, models.TableCards, "c1", func(current models.Entity) (models.Entity, error) {
			return nil, nil
		})
		require.NoError(t, err)
		assert.Equal(t, created, unchanged)

		_, err = s.Update(ctx, models.TableCards, "c1", func(current models.Entity) (models.Entity, error) {
			return nil, assert.AnError
		})
		assert.ErrorIs(t, err, assert.AnError)

		_, err = s.Update(ctx, models.TableCards, "c1", func(current models.Entity) (models.Entity, error) {
			return testCard("other", 9), nil
		})
		assert.ErrorIs(t, err, models.ErrInvalidEntity)

		// fn receives a copy: mutating it without returning it changes nothing
		_, err = s.Update(ctx, models.TableCards, "c1", func(current models.Entity) (models.Entity, error) {
			current.(*models.Card).Front = "mutated"
			return nil, nil
		})
		require.NoError(t, err)
		got, err := s.Get(ctx, models.TableCards, "c1")
		require.NoError(t, err)
		assert.Equal(t, "front c1", got.(*models.Card).Front)
	})
}

// TestStore_UpdateSerializesRow verifies that concurrent read-modify-write
// cycles on one row never lose an increment.
func TestStore_UpdateSerializesRow(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Backend) {
		ctx := context.Background()
		_, err := s.Put(ctx, testCard("c1", 0))
		require.NoError(t, err)

		const writers = 25
		var wg sync.WaitGroup
		for range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Update(ctx, models.TableCards, "c1", func(current models.Entity) (models.Entity, error) {
					current.Base().SyncVersion++
					return current, nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := s.Get(ctx, models.TableCards, "c1")
		require.NoError(t, err)
		assert.Equal(t, int64(writers), got.Base().SyncVersion)
	})
}

func testOperation(id string, priority models.Priority, ts time.Time, status models.OperationStatus) models.SyncOperation {
	return models.SyncOperation{
		ID:          id,
		Type:        models.OperationUpdate,
		EntityType:  models.TableCards,
		EntityID:    "c-" + id,
		Payload:     []byte(`{"id":"c-` + id + `"}`),
		BaseVersion: 1,
		Timestamp:   ts,
		MaxRetries:  5,
		Priority:    priority,
		Status:      status,
	}
}

func TestStore_Operations(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Backend) {
		ctx := context.Background()
		base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

		low := testOperation("low", models.PriorityLow, base, models.OperationPending)
		early := testOperation("early", models.PriorityNormal, base, models.OperationPending)
		late := testOperation("late", models.PriorityNormal, base.Add(time.Second), models.OperationPending)
		late.Dependencies = []string{"early"}
		high := testOperation("high", models.PriorityHigh, base.Add(time.Hour), models.OperationPending)
		failed := testOperation("failed", models.PriorityHigh, base, models.OperationFailed)
		failed.EntityID = early.EntityID

		for _, op := range []models.SyncOperation{low, late, early, high, failed} {
			require.NoError(t, s.SaveOperation(ctx, op))
		}

		pending, err := s.ListOperations(ctx, models.OperationPending)
		require.NoError(t, err)
		ids := make([]string, len(pending))
		for i, op := range pending {
			ids[i] = op.ID
		}
		assert.Equal(t, []string{"high", "early", "late", "low"}, ids)

		all, err := s.ListOperations(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 5)

		got, err := s.GetOperation(ctx, "late")
		require.NoError(t, err)
		assert.Equal(t, []string{"early"}, got.Dependencies)
		assert.True(t, late.Timestamp.Equal(got.Timestamp))
		assert.JSONEq(t, string(late.Payload), string(got.Payload))

		got.RetryCount = 2
		got.LastError = "boom"
		require.NoError(t, s.SaveOperation(ctx, got))
		again, err := s.GetOperation(ctx, "late")
		require.NoError(t, err)
		assert.Equal(t, 2, again.RetryCount)
		assert.Equal(t, "boom", again.LastError)

		_, err = s.GetOperation(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		removed, err := s.DeleteEntityOperations(ctx, models.TableCards, early.EntityID)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
		_, err = s.GetOperation(ctx, "failed")
		assert.NoError(t, err, "failed operations survive supersede")

		require.NoError(t, s.DeleteOperation(ctx, "high"))
		require.NoError(t, s.DeleteOperation(ctx, "high"))
		_, err = s.GetOperation(ctx, "high")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_Checkpoints(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Backend) {
		ctx := context.Background()

		v, err := s.GetCheckpoint(ctx, models.TableCards)
		require.NoError(t, err)
		assert.Zero(t, v)

		require.NoError(t, s.SetCheckpoint(ctx, models.TableCards, 10))
		require.NoError(t, s.SetCheckpoint(ctx, models.TableCards, 7))

		v, err = s.GetCheckpoint(ctx, models.TableCards)
		require.NoError(t, err)
		assert.Equal(t, int64(10), v)
	})
}

func TestStore_Preferences(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Backend) {
		ctx := context.Background()

		_, ok, err := s.GetPreference(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.SetPreference(ctx, "k", "v1"))
		require.NoError(t, s.SetPreference(ctx, "k", "v2"))

		v, ok, err := s.GetPreference(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v2", v)
	})
}

func TestMemoryStorage_PersistsToFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "replica.json")

	s, err := NewMemoryStorage(path)
	require.NoError(t, err)
	_, err = s.Put(ctx, testCard("c1", 2))
	require.NoError(t, err)
	require.NoError(t, s.SaveOperation(ctx, testOperation("op", models.PriorityNormal, time.Now(), models.OperationPending)))
	require.NoError(t, s.SetCheckpoint(ctx, models.TableCards, 2))
	require.NoError(t, s.SetPreference(ctx, "k", "v"))

	reopened, err := NewMemoryStorage(path)
	require.NoError(t, err)

	got, err := reopened.Get(ctx, models.TableCards, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Base().SyncVersion)
	_, err = reopened.GetOperation(ctx, "op")
	assert.NoError(t, err)
	v, _ := reopened.GetCheckpoint(ctx, models.TableCards)
	assert.Equal(t, int64(2), v)
	pref, ok, _ := reopened.GetPreference(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "v", pref)
}

func TestNewStorages_SelectsBackend(t *testing.T) {
	ctx := context.Background()

	mem, err := NewStorages(ctx, ":memory:", logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStorage{}, mem.Entities)
	require.NoError(t, mem.Close())

	jsonBacked, err := NewStorages(ctx, filepath.Join(t.TempDir(), "replica.json"), logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStorage{}, jsonBacked.Operations)

	sqlite, err := NewStorages(ctx, filepath.Join(t.TempDir(), "replica.db"), logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStorage{}, sqlite.Checkpoints)
	require.NoError(t, sqlite.Close())
}

func TestRowLocker_ReleasesEntries(t *testing.T) {
	l := NewRowLocker()
	unlock := l.Lock(models.TableCards, "c1")
	assert.Len(t, l.locks, 1)
	unlock()
	assert.Empty(t, l.locks)

	unlockAll := l.LockAll([]models.Entity{testCard("b", 1), testCard("a", 1), testCard("a", 2)})
	assert.Len(t, l.locks, 2)
	unlockAll()
	assert.Empty(t, l.locks)
}
