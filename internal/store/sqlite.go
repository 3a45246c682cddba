// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/models"
)

// SQLiteStorage is the durable replica. It implements LocalStore,
// OperationRepository, Checkpoints and Preferences over one SQLite database.
type SQLiteStorage struct {
	*DB
	locks  *RowLocker
	now    func() time.Time
	logger *logger.Logger
}

// NewSQLiteStorage wraps an opened and migrated DB.
func NewSQLiteStorage(db *DB, log *logger.Logger) *SQLiteStorage {
	return &SQLiteStorage{
		DB:     db,
		locks:  NewRowLocker(),
		now:    time.Now,
		logger: log,
	}
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStorage) read(ctx context.Context, q querier, table models.Table, id string) (models.Entity, error) {
	var payload string
	err := q.QueryRowContext(ctx, getEntity, string(table), id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		logger.FromContext(ctx).Err(err).
			Str("func", "SQLiteStorage.read").
			Str("table", string(table)).
			Str("entity_id", id).
			Msg("failed to read entity")
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	return models.DecodeEntity(table, []byte(payload))
}

func (s *SQLiteStorage) upsert(ctx context.Context, q querier, e models.Entity) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", e.Table(), e.Base().ID, err)
	}

	b := e.Base()
	res, err := q.ExecContext(ctx, upsertEntity,
		string(e.Table()),
		b.ID,
		b.UserID,
		e.ForeignKey(),
		b.SyncVersion,
		b.PendingSync,
		b.IsDeleted,
		string(payload),
	)
	if err != nil {
		logger.FromContext(ctx).Err(err).
			Str("func", "SQLiteStorage.upsert").
			Str("table", string(e.Table())).
			Str("entity_id", b.ID).
			Msg("failed to upsert entity")
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s/%s version %d", ErrStaleVersion, e.Table(), b.ID, b.SyncVersion)
	}
	return nil
}

// ── LocalStore ────────────────────────────────────────────────────────────────

func (s *SQLiteStorage) Get(ctx context.Context, table models.Table, id string) (models.Entity, error) {
	if !table.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownTable, table)
	}
	e, err := s.read(ctx, s.DB, table, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, table, id)
	}
	return e, nil
}

func (s *SQLiteStorage) Put(ctx context.Context, e models.Entity) (int64, error) {
	stored, err := s.Update(ctx, e.Table(), e.Base().ID, putFunc(e))
	if err != nil {
		return 0, err
	}
	return stored.Base().SyncVersion, nil
}

func (s *SQLiteStorage) Delete(ctx context.Context, table models.Table, id string) (int64, error) {
	stored, err := s.Update(ctx, table, id, deleteFunc(table, id, s.now))
	if err != nil {
		return 0, err
	}
	return stored.Base().SyncVersion, nil
}

func (s *SQLiteStorage) Update(ctx context.Context, table models.Table, id string, fn UpdateFunc) (models.Entity, error) {
	if !table.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownTable, table)
	}

	unlock := s.locks.Lock(table, id)
	defer unlock()

	current, err := s.read(ctx, s.DB, table, id)
	if err != nil {
		return nil, err
	}

	var arg models.Entity
	if current != nil {
		arg = current.Clone()
	}
	next, err := fn(arg)
	if err != nil {
		return nil, err
	}
	if next == nil {
		if current == nil {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, table, id)
		}
		return current, nil
	}
	if err = checkWrite(table, id, current, next); err != nil {
		return nil, err
	}

	err = s.withRetry(ctx, func() error {
		return s.upsert(ctx, s.DB, next)
	})
	if err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

func (s *SQLiteStorage) BulkPut(ctx context.Context, entities []models.Entity) ([]int64, error) {
	if len(entities) == 0 {
		return nil, nil
	}

	unlock := s.locks.LockAll(entities)
	defer unlock()

	versions := make([]int64, len(entities))
	err := s.withRetry(ctx, func() error {
		return s.bulkPutTx(ctx, entities, versions)
	})
	if err != nil {
		return nil, err
	}
	return versions, nil
}

func (s *SQLiteStorage) bulkPutTx(ctx context.Context, entities []models.Entity, versions []int64) error {
	log := logger.FromContext(ctx)

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		log.Err(err).Str("func", "SQLiteStorage.BulkPut").Msg("failed to begin transaction")
		return fmt.Errorf("%w: %w", ErrBeginningTransaction, err)
	}
	defer tx.Rollback()

	for i, e := range entities {
		current, err := s.read(ctx, tx, e.Table(), e.Base().ID)
		if err != nil {
			return err
		}
		if err = checkWrite(e.Table(), e.Base().ID, current, e); err != nil {
			return err
		}
		if err = s.upsert(ctx, tx, e); err != nil {
			return err
		}
		versions[i] = e.Base().SyncVersion
	}

	if err = tx.Commit(); err != nil {
		log.Err(err).Str("func", "SQLiteStorage.BulkPut").Msg("failed to commit transaction")
		return fmt.Errorf("%w: %w", ErrCommitingTransaction, err)
	}
	return nil
}

func (s *SQLiteStorage) QueryByOwner(ctx context.Context, table models.Table, userID, foreignKey string) ([]models.Entity, error) {
	query := selectEntities(string(table)).
		Where(sq.Eq{"user_id": userID, "is_deleted": false})
	if foreignKey != "" {
		query = query.Where(sq.Eq{"foreign_key": foreignKey})
	}
	return s.queryEntities(ctx, table, query)
}

func (s *SQLiteStorage) ListPending(ctx context.Context, table models.Table) ([]models.Entity, error) {
	return s.queryEntities(ctx, table, selectEntities(string(table)).Where(sq.Eq{"pending_sync": true}))
}

func (s *SQLiteStorage) queryEntities(ctx context.Context, table models.Table, query sq.SelectBuilder) ([]models.Entity, error) {
	if !table.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownTable, table)
	}
	log := logger.FromContext(ctx)

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}

	rows, err := s.DB.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		log.Err(err).
			Str("func", "SQLiteStorage.queryEntities").
			Str("table", string(table)).
			Msg("failed to query entities")
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	defer rows.Close()

	var result []models.Entity
	for rows.Next() {
		var payload string
		if err = rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRow, err)
		}
		e, err := models.DecodeEntity(table, []byte(payload))
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanningRow, err)
	}
	return result, nil
}

// ── OperationRepository ───────────────────────────────────────────────────────

func (s *SQLiteStorage) SaveOperation(ctx context.Context, op models.SyncOperation) error {
	deps, err := json.Marshal(op.Dependencies)
	if err != nil {
		return fmt.Errorf("encode dependencies of %s: %w", op.ID, err)
	}
	if op.Dependencies == nil {
		deps = []byte("[]")
	}

	return s.withRetry(ctx, func() error {
		_, err := s.DB.ExecContext(ctx, upsertOperation,
			op.ID,
			string(op.Type),
			string(op.EntityType),
			op.EntityID,
			string(op.Payload),
			op.BaseVersion,
			op.Timestamp.UnixNano(),
			op.RetryCount,
			op.MaxRetries,
			int(op.Priority),
			string(op.Status),
			string(deps),
			op.LastError,
		)
		if err != nil {
			logger.FromContext(ctx).Err(err).
				Str("func", "SQLiteStorage.SaveOperation").
				Str("operation_id", op.ID).
				Msg("failed to save operation")
			return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
		}
		return nil
	})
}

func (s *SQLiteStorage) GetOperation(ctx context.Context, id string) (models.SyncOperation, error) {
	ops, err := s.listOperations(ctx, selectOperations().Where(sq.Eq{"id": id}))
	if err != nil {
		return models.SyncOperation{}, err
	}
	if len(ops) == 0 {
		return models.SyncOperation{}, fmt.Errorf("%w: operation %s", ErrNotFound, id)
	}
	return ops[0], nil
}

func (s *SQLiteStorage) ListOperations(ctx context.Context, statuses ...models.OperationStatus) ([]models.SyncOperation, error) {
	query := selectOperations()
	if len(statuses) > 0 {
		values := make([]string, len(statuses))
		for i, st := range statuses {
			values[i] = string(st)
		}
		query = query.Where(sq.Eq{"status": values})
	}
	return s.listOperations(ctx, query)
}

func (s *SQLiteStorage) listOperations(ctx context.Context, query sq.SelectBuilder) ([]models.SyncOperation, error) {
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}

	rows, err := s.DB.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		logger.FromContext(ctx).Err(err).
			Str("func", "SQLiteStorage.listOperations").
			Msg("failed to query operations")
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	defer rows.Close()

	var ops []models.SyncOperation
	for rows.Next() {
		var (
			op        models.SyncOperation
			opType    string
			table     string
			payload   string
			timestamp int64
			priority  int
			status    string
			deps      string
		)
		err = rows.Scan(
			&op.ID,
			&opType,
			&table,
			&op.EntityID,
			&payload,
			&op.BaseVersion,
			&timestamp,
			&op.RetryCount,
			&op.MaxRetries,
			&priority,
			&status,
			&deps,
			&op.LastError,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRow, err)
		}
		op.Type = models.OperationType(opType)
		op.EntityType = models.Table(table)
		op.Payload = json.RawMessage(payload)
		op.Timestamp = time.Unix(0, timestamp)
		op.Priority = models.Priority(priority)
		op.Status = models.OperationStatus(status)
		if err = json.Unmarshal([]byte(deps), &op.Dependencies); err != nil {
			return nil, fmt.Errorf("%w: dependencies of %s: %w", ErrScanningRow, op.ID, err)
		}
		if len(op.Dependencies) == 0 {
			op.Dependencies = nil
		}
		ops = append(ops, op)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanningRow, err)
	}
	return ops, nil
}

func (s *SQLiteStorage) DeleteOperation(ctx context.Context, id string) error {
	return s.withRetry(ctx, func() error {
		if _, err := s.DB.ExecContext(ctx, deleteOperation, id); err != nil {
			return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
		}
		return nil
	})
}

func (s *SQLiteStorage) DeleteEntityOperations(ctx context.Context, table models.Table, entityID string) (int, error) {
	var removed int64
	err := s.withRetry(ctx, func() error {
		res, err := s.DB.ExecContext(ctx, deleteEntityOperations, string(table), entityID)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
		}
		removed, err = res.RowsAffected()
		return err
	})
	return int(removed), err
}

// ── Checkpoints & Preferences ─────────────────────────────────────────────────

func (s *SQLiteStorage) GetCheckpoint(ctx context.Context, table models.Table) (int64, error) {
	var version int64
	err := s.DB.QueryRowContext(ctx, getCheckpoint, string(table)).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	return version, nil
}

func (s *SQLiteStorage) SetCheckpoint(ctx context.Context, table models.Table, version int64) error {
	return s.withRetry(ctx, func() error {
		if _, err := s.DB.ExecContext(ctx, setCheckpoint, string(table), version); err != nil {
			return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
		}
		return nil
	})
}

func (s *SQLiteStorage) GetPreference(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.DB.QueryRowContext(ctx, getPreference, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	return value, true, nil
}

func (s *SQLiteStorage) SetPreference(ctx context.Context, key, value string) error {
	return s.withRetry(ctx, func() error {
		if _, err := s.DB.ExecContext(ctx, setPreference, key, value); err != nil {
			return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
		}
		return nil
	})
}
